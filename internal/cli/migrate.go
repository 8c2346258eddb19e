package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/snowchat/snowchat/internal/migrations"
	"github.com/snowchat/snowchat/internal/retrieval/postgres"
)

func newMigrateCommand(opts Options) *cobra.Command {
	var steps int
	cmd := &cobra.Command{
		Use:       "migrate up|down|status",
		Short:     "Manage the Postgres schema store tables",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down", "status"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, closeLog, err := opts.loadConfig()
			if err != nil {
				return err
			}
			defer func() { _ = closeLog() }()
			if cfg.Retrieval.Backend != "postgres" {
				return fmt.Errorf("migrations apply to the postgres schema store; retrieval backend is %q", cfg.Retrieval.Backend)
			}
			if cfg.Retrieval.DSN == "" {
				return errors.New("SNOWCHAT_RETRIEVAL_DSN is required")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			db, err := postgres.Open(ctx, postgres.DBConfig{DSN: cfg.Retrieval.DSN, MaxOpenConns: 1, MaxIdleConns: 1})
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			out := cmd.OutOrStdout()
			runner := migrations.NewRunner(logger)
			switch args[0] {
			case "up":
				applied, err := runner.Up(ctx, db, steps)
				if err != nil {
					return fmt.Errorf("migration up failed: %w", err)
				}
				_, _ = fmt.Fprintf(out, "applied %d migration(s)\n", applied)
			case "down":
				applied, err := runner.Down(ctx, db, steps)
				if err != nil {
					return fmt.Errorf("migration down failed: %w", err)
				}
				_, _ = fmt.Fprintf(out, "rolled back %d migration(s)\n", applied)
			case "status":
				versions, err := runner.Status(ctx, db)
				if err != nil {
					return err
				}
				for _, v := range versions {
					state := "pending"
					if v.Applied {
						state = "applied"
					}
					_, _ = fmt.Fprintf(out, "%04d  %-24s %s\n", v.Version, v.Name, state)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 0, "number of migration steps; 0 means all for up, 1 for down")
	return cmd
}
