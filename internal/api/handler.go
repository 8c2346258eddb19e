package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/snowchat/snowchat/internal/auth"
	"github.com/snowchat/snowchat/internal/config"
	"github.com/snowchat/snowchat/internal/llm"
	"github.com/snowchat/snowchat/internal/observability"
	"github.com/snowchat/snowchat/internal/pipeline"
	"github.com/snowchat/snowchat/internal/query"
	"github.com/snowchat/snowchat/internal/retrieval"
)

type ReadinessCheck func(ctx context.Context) error

// ChatRunner is one configured pipeline.
type ChatRunner interface {
	Run(ctx context.Context, input pipeline.TurnInput, observer pipeline.Observer) (pipeline.TurnResult, error)
}

// PipelineResolver returns the pipeline for a provider ID; "" selects the
// default provider.
type PipelineResolver func(providerID string, stream bool) (ChatRunner, error)

type QueryExecutor interface {
	Execute(ctx context.Context, sqlText string, useCache bool) (query.Result, error)
}

type SchemaSearcher interface {
	Retrieve(ctx context.Context, q string) (retrieval.Context, error)
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	AuthMiddleware    func(http.Handler) http.Handler
	DependencyTimeout time.Duration
	Pipelines         PipelineResolver
	Executor          QueryExecutor
	Schema            SchemaSearcher
	Providers         []llm.ProviderConfig
	DefaultProvider   string
	// UseCache is the default when a request does not say.
	UseCache bool
	// OriginPatterns are accepted for websocket upgrades in addition to the
	// request's own host.
	OriginPatterns []string
	UI             http.Handler
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(observability.TraceMiddleware, observability.MetricsMiddleware)
	if deps.Logger != nil {
		r.Use(observability.LoggingMiddleware(deps.Logger))
	}
	r.Use(chimiddleware.Recoverer)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		if deps.UI != nil && r.Method == http.MethodGet && !strings.HasPrefix(r.URL.Path, "/v1/") {
			deps.UI.ServeHTTP(w, r)
			return
		}
		writeError(r.Context(), w, http.StatusNotFound, "NOT_FOUND", "route not found", false, nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(r.Context(), w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed", false, nil)
	})

	r.Get("/v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})
	r.Get("/v1/ready", func(w http.ResponseWriter, r *http.Request) {
		handleReady(deps, w, r)
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		switch {
		case !cfg.Auth.Required:
		case deps.AuthMiddleware == nil:
			if deps.Logger != nil {
				deps.Logger.Error("auth required but auth middleware missing")
			}
			r.Use(func(http.Handler) http.Handler {
				return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					writeError(r.Context(), w, http.StatusInternalServerError, "AUTH_MIDDLEWARE_MISSING", "auth middleware is required by configuration", false, nil)
				})
			})
		default:
			r.Use(deps.AuthMiddleware)
		}

		r.With(auth.RequireRole(auth.RoleChat)).Post("/v1/chat", func(w http.ResponseWriter, r *http.Request) {
			handleChat(deps, w, r)
		})
		r.With(auth.RequireRole(auth.RoleChat)).Get("/v1/chat/stream", func(w http.ResponseWriter, r *http.Request) {
			handleChatStream(deps, w, r)
		})
		r.With(auth.RequireRole(auth.RoleChat)).Get("/v1/schema/search", func(w http.ResponseWriter, r *http.Request) {
			handleSchemaSearch(deps, w, r)
		})
		r.With(auth.RequireRole(auth.RoleChat)).Get("/v1/providers", func(w http.ResponseWriter, r *http.Request) {
			handleProviders(deps, w, r)
		})
		r.With(auth.RequireRole(auth.RoleQuery)).Post("/v1/query", func(w http.ResponseWriter, r *http.Request) {
			handleQuery(deps, w, r)
		})
	})
	return r
}

func handleReady(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Readiness == nil {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
		return
	}
	timeout := deps.DependencyTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()
	if err := deps.Readiness(ctx); err != nil {
		writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

// CheckProviderCredential fails while the default provider has no API key.
func CheckProviderCredential(provider llm.ProviderConfig) ReadinessCheck {
	return func(_ context.Context) error {
		if provider.Credential() == "" {
			return errors.New("api key for provider " + provider.ID + " is not configured")
		}
		return nil
	}
}

func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	body := map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"trace_id":   observability.TraceIDFromContext(ctx),
	}
	if len(extra) > 0 {
		body["context"] = extra
	}
	writeJSON(w, status, body)
}
