package main

import (
	"os"

	"github.com/feichai0017/mutulens/cmd/mutulens/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
