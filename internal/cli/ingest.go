package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/snowchat/snowchat/internal/app"
	"github.com/snowchat/snowchat/internal/ingest"
)

func newIngestCommand(opts Options) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest [docs-dir]",
		Short: "Embed markdown schema documentation into the schema store",
		Long: `ingest walks a directory of markdown files describing tables and columns,
splits them into chunks and stores their embeddings. Files whose checksum has
not changed since the last run are skipped.

The directory defaults to SNOWCHAT_DOCS_DIR.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, closeApp, err := opts.openApp(ctx, app.Options{SkipWarehouse: true})
			if err != nil {
				return err
			}
			defer closeApp()

			if a.Vectors == nil {
				return errors.New("ingest needs a schema store; set SNOWCHAT_RETRIEVAL_BACKEND to postgres or sqlite")
			}
			dir := a.Config.Retrieval.DocsDir
			if len(args) == 1 {
				dir = args[0]
			}
			info, err := os.Stat(dir)
			if err != nil {
				return fmt.Errorf("docs dir: %w", err)
			}
			if !info.IsDir() {
				return fmt.Errorf("docs dir %s is not a directory", dir)
			}

			ingester := ingest.New(a.Embedder, a.Vectors, ingest.Config{
				ChunkSize:    a.Config.Retrieval.ChunkSize,
				ChunkOverlap: a.Config.Retrieval.ChunkOverlap,
			}, a.Logger)
			report, err := ingester.Run(ctx, os.DirFS(dir))
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "files: %d, unchanged: %d, chunks stored: %d\n", report.Files, report.Skipped, report.Chunks)
			return nil
		},
	}
}
