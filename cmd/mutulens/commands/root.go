package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	cfg "github.com/feichai0017/mutulens/config"
	"github.com/feichai0017/mutulens/pkg/logger"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "mutulens",
	Short: "Batch text extraction for images",
	Long: `mutulens normalizes a batch of images, sends them one by one to the
configured extraction provider and keeps the results in a local archive.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func loadConfig() (*cfg.AppConfig, error) {
	if cfgFile != "" {
		app, err := cfg.Load(cfgFile)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		return app, nil
	}
	app, err := cfg.GetAppConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return app, nil
}

// newLogger writes to stderr so command output on stdout stays clean.
func newLogger() (logger.Logger, error) {
	level := "warn"
	if verbose {
		level = "debug"
	}
	return logger.NewLogger(
		logger.WithLevel(level),
		logger.WithEncoding("console"),
		logger.WithOutputPaths([]string{"stderr"}),
	)
}
