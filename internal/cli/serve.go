package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/snowchat/snowchat/internal/api"
	"github.com/snowchat/snowchat/internal/api/uistatic"
	"github.com/snowchat/snowchat/internal/app"
	"github.com/snowchat/snowchat/internal/auth"
	"github.com/snowchat/snowchat/internal/config"
	"github.com/snowchat/snowchat/internal/observability"
)

const apiServiceName = "snowchat-api"

func newServeCommand(opts Options) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and web chat",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(apiServiceName, opts.Lookup)
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			if addr != "" {
				cfg.HTTP.Address = addr
			}
			writer, closeLog := observability.LogWriter(cfg, opts.Stdout)
			defer func() { _ = closeLog() }()
			return Serve(cmd.Context(), cfg, observability.NewLogger(cfg, writer))
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default SNOWCHAT_HTTP_ADDR)")
	return cmd
}

// Serve builds the runtime, listens on cfg.HTTP.Address and shuts down
// gracefully when ctx is cancelled.
func Serve(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	runtime, err := app.Build(ctx, cfg, logger, app.Options{})
	if err != nil {
		return fmt.Errorf("build runtime: %w", err)
	}
	defer func() {
		if err := runtime.Close(); err != nil {
			logger.Warn("close runtime", slog.Any("error", err))
		}
	}()

	handler, err := newAPIHandler(cfg, logger, runtime)
	if err != nil {
		return err
	}
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting api server", slog.String("addr", cfg.HTTP.Address), slog.String("provider", cfg.LLM.Provider))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		_ = server.Close()
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

func newAPIHandler(cfg config.Config, logger *slog.Logger, runtime *app.App) (http.Handler, error) {
	defaultProvider, _ := runtime.Catalog.Lookup(cfg.LLM.Provider)
	deps := api.Dependencies{
		Logger: logger,
		Readiness: api.CombineReadinessChecks(
			runtime.Ready,
			api.CheckProviderCredential(defaultProvider),
		),
		DependencyTimeout: 2 * time.Second,
		Pipelines: func(providerID string, stream bool) (api.ChatRunner, error) {
			return runtime.Pipeline(providerID, stream)
		},
		Executor:        runtime.Executor,
		Schema:          runtime.Retriever,
		Providers:       runtime.Catalog.Providers,
		DefaultProvider: cfg.LLM.Provider,
		UseCache:        cfg.Pipeline.UseCache,
		UI:              uistatic.Handler(),
	}
	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			return nil, fmt.Errorf("parse static auth keys: %w", err)
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}
	return api.NewHandler(cfg, deps), nil
}
