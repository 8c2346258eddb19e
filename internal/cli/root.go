// Package cli implements the snowchat command line: local ask and chat
// sessions, schema ingestion, migrations and a thin client for a running
// snowchat-api.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/snowchat/snowchat/internal/app"
	"github.com/snowchat/snowchat/internal/config"
	"github.com/snowchat/snowchat/internal/observability"
)

const serviceName = "snowchat"

type Options struct {
	Stdin      io.Reader
	Stdout     io.Writer
	Stderr     io.Writer
	Lookup     config.LookupFunc
	HTTPClient *http.Client
}

// Run executes one command line and returns the process exit code.
func Run(ctx context.Context, args []string, opts Options) int {
	opts = opts.withDefaults()
	root := NewRootCommand(opts)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func NewRootCommand(opts Options) *cobra.Command {
	opts = opts.withDefaults()
	root := &cobra.Command{
		Use:   "snowchat",
		Short: "Ask questions about your warehouse in plain English",
		Long: `snowchat turns natural-language questions into SQL, runs them against the
configured warehouse and repairs failing queries by feeding the error back to
the model.

Configuration is read from SNOWCHAT_* environment variables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetIn(opts.Stdin)
	root.SetOut(opts.Stdout)
	root.SetErr(opts.Stderr)

	root.AddCommand(
		newAskCommand(opts),
		newChatCommand(opts),
		newIngestCommand(opts),
		newMigrateCommand(opts),
		newProvidersCommand(opts),
		newDemoCommand(opts),
		newServeCommand(opts),
		newRemoteCommand(opts),
	)
	return root
}

func (o Options) withDefaults() Options {
	if o.Stdin == nil {
		o.Stdin = os.Stdin
	}
	if o.Stdout == nil {
		o.Stdout = io.Discard
	}
	if o.Stderr == nil {
		o.Stderr = io.Discard
	}
	if o.Lookup == nil {
		o.Lookup = os.LookupEnv
	}
	return o
}

func (o Options) loadConfig() (config.Config, *slog.Logger, func() error, error) {
	cfg, err := config.Load(serviceName, o.Lookup)
	if err != nil {
		return config.Config{}, nil, nil, fmt.Errorf("config: %w", err)
	}
	writer, closeLog := observability.LogWriter(cfg, o.Stderr)
	return cfg, observability.NewLogger(cfg, writer), closeLog, nil
}

// openApp loads configuration and builds the runtime graph. The returned
// closer releases both.
func (o Options) openApp(ctx context.Context, appOpts app.Options) (*app.App, func(), error) {
	cfg, logger, closeLog, err := o.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	a, err := app.Build(ctx, cfg, logger, appOpts)
	if err != nil {
		_ = closeLog()
		return nil, nil, err
	}
	return a, func() {
		if err := a.Close(); err != nil {
			logger.Warn("close failed", slog.String("error", err.Error()))
		}
		_ = closeLog()
	}, nil
}
