package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/snowchat/snowchat/internal/guard"
	"github.com/snowchat/snowchat/internal/observability"
	"github.com/snowchat/snowchat/internal/query"
)

type queryRequest struct {
	SQL      string `json:"sql"`
	UseCache *bool  `json:"use_cache"`
}

type queryResponse struct {
	Columns []string       `json:"columns"`
	Rows    [][]any        `json:"rows"`
	Cached  bool           `json:"cached"`
	Stats   map[string]any `json:"stats"`
}

// handleQuery runs caller-supplied SQL through the same guard and executor the
// chat pipeline uses.
func handleQuery(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Executor == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "QUERY_NOT_CONFIGURED", "query executor is not configured", false, nil)
		return
	}

	var request queryRequest
	if err := decodeJSON(r, &request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid query request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(request.SQL) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "SQL_REQUIRED", "sql is required", false, nil)
		return
	}

	decision := guard.Check(request.SQL)
	if !decision.Allowed {
		observability.IncGuardRejection(decision.Keyword)
		writeError(r.Context(), w, http.StatusForbidden, "SQL_NOT_ALLOWED", guard.RefusalMessage, false, map[string]any{"keyword": decision.Keyword})
		return
	}

	useCache := deps.UseCache
	if request.UseCache != nil {
		useCache = *request.UseCache
	}
	result, err := deps.Executor.Execute(r.Context(), request.SQL, useCache)
	if err != nil {
		details := map[string]any{"details": err.Error()}
		var execErr *query.ExecutionError
		if errors.As(err, &execErr) {
			details = map[string]any{"details": execErr.Message}
			if execErr.Code != "" {
				details["code"] = execErr.Code
			}
		}
		writeError(r.Context(), w, http.StatusUnprocessableEntity, "QUERY_EXECUTION_FAILED", "query execution failed", false, details)
		return
	}

	writeJSON(w, http.StatusOK, queryResponse{
		Columns: result.Columns,
		Rows:    result.Rows,
		Cached:  result.Cached,
		Stats: map[string]any{
			"duration_ms": result.Duration.Milliseconds(),
			"row_count":   len(result.Rows),
		},
	})
}
