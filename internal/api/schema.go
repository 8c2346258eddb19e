package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/snowchat/snowchat/internal/llm"
	"github.com/snowchat/snowchat/internal/retrieval"
)

func handleSchemaSearch(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Schema == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "RETRIEVAL_NOT_CONFIGURED", "schema retrieval is not configured", false, nil)
		return
	}
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUERY_REQUIRED", "query parameter q is required", false, nil)
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer", false, nil)
			return
		}
		limit = parsed
	}

	found, err := deps.Schema.Retrieve(r.Context(), q)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadGateway, "RETRIEVAL_FAILED", "schema retrieval failed", true, map[string]any{"details": err.Error()})
		return
	}
	snippets := found.Snippets
	if limit > 0 && len(snippets) > limit {
		snippets = snippets[:limit]
	}
	if snippets == nil {
		snippets = []retrieval.Snippet{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"query": q, "snippets": snippets})
}

type providerView struct {
	ID            string            `json:"id"`
	Label         string            `json:"label,omitempty"`
	Kind          string            `json:"kind"`
	Model         string            `json:"model"`
	PromptVariant llm.PromptVariant `json:"prompt_variant"`
	Default       bool              `json:"default"`
	Configured    bool              `json:"configured"`
}

func handleProviders(deps Dependencies, w http.ResponseWriter, _ *http.Request) {
	views := make([]providerView, 0, len(deps.Providers))
	for _, p := range deps.Providers {
		views = append(views, providerView{
			ID:            p.ID,
			Label:         p.Label,
			Kind:          p.Kind,
			Model:         p.Model,
			PromptVariant: p.Variant(),
			Default:       p.ID == deps.DefaultProvider,
			Configured:    p.Credential() != "",
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"providers": views})
}
