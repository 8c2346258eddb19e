package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/snowchat/snowchat/internal/conversation"
	"github.com/snowchat/snowchat/internal/observability"
	"github.com/snowchat/snowchat/internal/pipeline"
)

// streamFrame is one server-to-client websocket message. Type is "event"
// while a turn runs, then "result" or "error".
type streamFrame struct {
	Type      string               `json:"type"`
	Event     *pipeline.Event      `json:"event,omitempty"`
	Turn      *pipeline.TurnResult `json:"turn,omitempty"`
	History   []conversation.Turn  `json:"history,omitempty"`
	ErrorCode string               `json:"error_code,omitempty"`
	Message   string               `json:"message,omitempty"`
	TraceID   string               `json:"trace_id,omitempty"`
}

// handleChatStream serves a chat over one websocket. Each client message is a
// chat request; the server answers with token, notice and state events
// followed by the turn result.
func handleChatStream(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: deps.OriginPatterns})
	if err != nil {
		if deps.Logger != nil {
			deps.Logger.WarnContext(r.Context(), "websocket accept failed", slog.String("error", err.Error()))
		}
		return
	}
	defer func() { _ = conn.CloseNow() }()

	ctx := r.Context()
	traceID := observability.TraceIDFromContext(ctx)
	for {
		var request chatRequest
		if err := wsjson.Read(ctx, conn, &request); err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			default:
				if deps.Logger != nil && !errors.Is(err, context.Canceled) {
					deps.Logger.DebugContext(ctx, "websocket read ended", slog.String("error", err.Error()))
				}
			}
			return
		}

		turnCtx, cancelTurn := context.WithCancel(ctx)
		var writeErr error
		response, err := runChat(turnCtx, deps, request, true, func(event pipeline.Event) {
			if writeErr != nil {
				return
			}
			if writeErr = wsjson.Write(turnCtx, conn, streamFrame{Type: "event", Event: &event}); writeErr != nil {
				// The client is gone.
				if deps.Logger != nil {
					deps.Logger.InfoContext(ctx, "websocket write failed, cancelling turn", slog.String("error", writeErr.Error()))
				}
				cancelTurn()
			}
		})
		cancelTurn()
		if writeErr != nil {
			return
		}
		frame := streamFrame{Type: "result", Turn: &response.Turn, History: response.History}
		if err != nil {
			frame = streamFrame{Type: "error", ErrorCode: "INTERNAL", Message: err.Error(), TraceID: traceID}
			var apiErr *apiError
			if errors.As(err, &apiErr) {
				frame.ErrorCode = apiErr.code
			}
		}
		if err := wsjson.Write(ctx, conn, frame); err != nil {
			return
		}
	}
}
