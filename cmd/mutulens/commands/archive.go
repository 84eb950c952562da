package commands

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/feichai0017/mutulens/internal/archive"
	"github.com/feichai0017/mutulens/pkg/converters"
)

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Inspect and manage archived extractions",
}

var archiveListCmd = &cobra.Command{
	Use:   "list",
	Short: "List archived extractions, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withArchive(cmd.Context(), func(ctx context.Context, store archive.Client) error {
			records, err := store.List(ctx)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tCREATED\tTEXT")
			for _, r := range records {
				fmt.Fprintf(w, "%s\t%s\t%s\n", r.ID, r.CreatedAt.Local().Format(time.DateTime), preview(r.ExtractedText, 48))
			}
			return w.Flush()
		})
	},
}

var archiveShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print the text of one archived extraction",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withArchive(cmd.Context(), func(ctx context.Context, store archive.Client) error {
			records, err := store.List(ctx)
			if err != nil {
				return err
			}
			for _, r := range records {
				if r.ID == args[0] || converters.ShortID(r.ID) == args[0] {
					_, err := io.WriteString(cmd.OutOrStdout(), r.ExtractedText+"\n")
					return err
				}
			}
			return archive.ErrNotFound
		})
	},
}

var archiveDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete an archived extraction",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withArchive(cmd.Context(), func(ctx context.Context, store archive.Client) error {
			if err := store.Delete(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		})
	},
}

func init() {
	archiveCmd.AddCommand(archiveListCmd, archiveShowCmd, archiveDeleteCmd)
	rootCmd.AddCommand(archiveCmd)
}

func withArchive(ctx context.Context, fn func(context.Context, archive.Client) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	app, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger()
	if err != nil {
		return err
	}
	defer log.Sync()

	store, err := archive.NewStore(ctx, app.Archive, log)
	if err != nil {
		return err
	}
	if c, ok := store.(io.Closer); ok {
		defer c.Close()
	}
	return fn(ctx, store)
}

func preview(s string, n int) string {
	r := []rune(s)
	for i, c := range r {
		if c == '\n' || c == '\r' || c == '\t' {
			r[i] = ' '
		}
	}
	if len(r) > n {
		return string(r[:n-1]) + "…"
	}
	return string(r)
}
