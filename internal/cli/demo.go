package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/snowchat/snowchat/internal/demo"
	"github.com/snowchat/snowchat/internal/storage/s3"
)

func newDemoCommand(opts Options) *cobra.Command {
	var (
		docsDir   string
		customers int
		orders    int
		seed      int64
	)
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Upload a sample customers/orders dataset and its schema docs",
		Long: `demo writes two parquet tables, customers and orders, under
SNOWCHAT_WAREHOUSE_PARQUET_PREFIX in the object store, and markdown docs
describing them into the docs directory. Run "snowchat ingest" afterwards to
embed the docs.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, closeLog, err := opts.loadConfig()
			if err != nil {
				return err
			}
			defer func() { _ = closeLog() }()
			if cfg.Warehouse.ParquetPrefix == "" {
				return errors.New("SNOWCHAT_WAREHOUSE_PARQUET_PREFIX is required")
			}
			if docsDir == "" {
				docsDir = cfg.Retrieval.DocsDir
			}

			ctx := cmd.Context()
			store, err := s3.New(ctx, cfg.ObjectStore)
			if err != nil {
				return err
			}
			data := demo.NewGenerator(seed, time.Now()).Generate(customers, orders)
			keys, err := demo.Seeder{Store: store, Prefix: cfg.Warehouse.ParquetPrefix, Logger: logger}.Upload(ctx, data)
			if err != nil {
				return err
			}
			docs, err := demo.WriteDocs(docsDir)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, key := range keys {
				_, _ = fmt.Fprintf(out, "uploaded %s\n", key)
			}
			for _, doc := range docs {
				_, _ = fmt.Fprintf(out, "wrote %s\n", doc)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&docsDir, "docs-dir", "", "where to write schema docs (default SNOWCHAT_DOCS_DIR)")
	cmd.Flags().IntVar(&customers, "customers", 200, "number of customers")
	cmd.Flags().IntVar(&orders, "orders", 5000, "number of orders")
	cmd.Flags().Int64Var(&seed, "seed", 1, "random seed")
	return cmd
}
