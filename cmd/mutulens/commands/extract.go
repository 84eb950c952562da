package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/feichai0017/mutulens/internal/service/extraction"
	"github.com/feichai0017/mutulens/pkg/converters"
)

var (
	extractInstructions string
	extractFormat       string
	extractOutput       string
)

var extractCmd = &cobra.Command{
	Use:   "extract <image>...",
	Short: "Extract text from one or more images",
	Long: `Extract submits the images as one group, drains the batch and prints the
bundle of completed extractions. Results are archived like any other drain.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runExtract,
}

func init() {
	extractCmd.Flags().StringVarP(&extractInstructions, "instructions", "i", "", "extraction instructions (defaults to config)")
	extractCmd.Flags().StringVarP(&extractFormat, "format", "f", string(converters.FormatText), "output format: txt, md or json")
	extractCmd.Flags().StringVarP(&extractOutput, "output", "o", "", "write the bundle to this file instead of stdout")
	rootCmd.AddCommand(extractCmd)
}

func runExtract(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger()
	if err != nil {
		return err
	}
	defer log.Sync()

	// the CLI batch never touches the server's workspace
	app.Workspace.Backend = "file"
	app.Workspace.Path = filepath.Join(os.TempDir(), fmt.Sprintf("mutulens-cli-%d.json", os.Getpid()))
	defer os.Remove(app.Workspace.Path)

	raws := make([][]byte, 0, len(args))
	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		raws = append(raws, data)
	}

	svc, err := extraction.GetService(ctx, app, log)
	if err != nil {
		return err
	}
	defer svc.Close()

	res, err := svc.Submit(ctx, raws)
	if err != nil {
		return err
	}
	if res.Discarded > 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "batch is full, %d image(s) discarded\n", res.Discarded)
	}

	report, err := svc.Drain(ctx, extractInstructions)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "completed %d, failed %d\n", report.Completed, report.Failed)

	for _, it := range svc.Batch().Items {
		if it.Error != "" {
			fmt.Fprintf(cmd.ErrOrStderr(), "image %s: %s\n", converters.ShortID(it.ID), it.Error)
		}
	}

	exp, err := svc.Export(converters.Format(extractFormat))
	if err != nil {
		return err
	}
	if extractOutput != "" {
		return os.WriteFile(extractOutput, exp.Data, 0o644)
	}
	_, err = cmd.OutOrStdout().Write(append(exp.Data, '\n'))
	return err
}
