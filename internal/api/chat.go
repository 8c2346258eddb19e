package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/snowchat/snowchat/internal/conversation"
	"github.com/snowchat/snowchat/internal/pipeline"
)

type chatRequest struct {
	Question string              `json:"question"`
	History  []conversation.Turn `json:"history"`
	Provider string              `json:"provider"`
	UseCache *bool               `json:"use_cache"`
}

type chatResponse struct {
	Turn    pipeline.TurnResult `json:"turn"`
	History []conversation.Turn `json:"history"`
}

// apiError is a request problem detected before a turn runs.
type apiError struct {
	status    int
	code      string
	message   string
	retryable bool
}

func (e *apiError) Error() string {
	return e.message
}

func handleChat(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	var request chatRequest
	if err := decodeJSON(r, &request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid chat request body", false, map[string]any{"details": err.Error()})
		return
	}
	response, err := runChat(r.Context(), deps, request, false, nil)
	if err != nil {
		writeAPIError(r, w, err)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

// runChat validates request, resolves the pipeline and runs one turn.
// Errors are *apiError values.
func runChat(ctx context.Context, deps Dependencies, request chatRequest, stream bool, observer pipeline.Observer) (chatResponse, error) {
	if deps.Pipelines == nil {
		return chatResponse{}, &apiError{status: http.StatusNotImplemented, code: "CHAT_NOT_CONFIGURED", message: "chat pipeline is not configured"}
	}
	if strings.TrimSpace(request.Question) == "" {
		return chatResponse{}, &apiError{status: http.StatusBadRequest, code: "QUESTION_REQUIRED", message: "question is required"}
	}
	history, err := conversation.FromTurns(request.History)
	if err != nil {
		return chatResponse{}, &apiError{status: http.StatusBadRequest, code: "INVALID_HISTORY", message: err.Error()}
	}
	runner, err := deps.Pipelines(request.Provider, stream)
	if err != nil {
		return chatResponse{}, &apiError{status: http.StatusBadRequest, code: "UNKNOWN_PROVIDER", message: err.Error()}
	}

	useCache := deps.UseCache
	if request.UseCache != nil {
		useCache = *request.UseCache
	}
	result, err := runner.Run(ctx, pipeline.TurnInput{Question: request.Question, History: history, UseCache: useCache}, observer)
	if err != nil {
		if errors.Is(err, conversation.ErrEmptyQuestion) {
			return chatResponse{}, &apiError{status: http.StatusBadRequest, code: "QUESTION_REQUIRED", message: "question is required"}
		}
		if deps.Logger != nil {
			deps.Logger.WarnContext(ctx, "chat turn aborted", slog.String("error", err.Error()))
		}
		return chatResponse{}, &apiError{status: http.StatusServiceUnavailable, code: "TURN_ABORTED", message: "the turn was cancelled before it finished", retryable: true}
	}

	turns := result.History.Turns()
	if turns == nil {
		turns = []conversation.Turn{}
	}
	return chatResponse{Turn: result, History: turns}, nil
}

func writeAPIError(r *http.Request, w http.ResponseWriter, err error) {
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		writeError(r.Context(), w, apiErr.status, apiErr.code, apiErr.message, apiErr.retryable, nil)
		return
	}
	writeError(r.Context(), w, http.StatusInternalServerError, "INTERNAL", "internal error", true, nil)
}
