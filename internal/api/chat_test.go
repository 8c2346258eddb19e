package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/snowchat/snowchat/internal/conversation"
	"github.com/snowchat/snowchat/internal/pipeline"
)

type fakeRunner struct {
	inputs []pipeline.TurnInput
	events []pipeline.Event
	result pipeline.TurnResult
	err    error
}

func (f *fakeRunner) Run(_ context.Context, input pipeline.TurnInput, observer pipeline.Observer) (pipeline.TurnResult, error) {
	f.inputs = append(f.inputs, input)
	if f.err != nil {
		return pipeline.TurnResult{}, f.err
	}
	for _, event := range f.events {
		if observer != nil {
			observer(event)
		}
	}
	result := f.result
	history, err := input.History.Append(conversation.Turn{Question: input.Question, Answer: result.Answer})
	if err != nil {
		return pipeline.TurnResult{}, err
	}
	result.History = history
	return result, nil
}

func resolverFor(runner ChatRunner, calls *[]string) PipelineResolver {
	return func(providerID string, stream bool) (ChatRunner, error) {
		if calls != nil {
			*calls = append(*calls, providerID)
		}
		if providerID == "missing" {
			return nil, errors.New(`unknown provider "missing"`)
		}
		return runner, nil
	}
}

func TestChatReturnsTurnAndHistory(t *testing.T) {
	runner := &fakeRunner{result: pipeline.TurnResult{Answer: "42 orders", Outcome: pipeline.StateSuccess, SQL: "SELECT 42"}}
	var calls []string
	h := NewHandler(loadConfig(t, nil), Dependencies{Pipelines: resolverFor(runner, &calls), UseCache: true})

	body := `{"question":"how many orders?","history":[{"question":"hi","answer":"hello"}],"provider":"claude-3-haiku","use_cache":false}`
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/chat", strings.NewReader(body)))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
	}

	if len(calls) != 1 || calls[0] != "claude-3-haiku" {
		t.Fatalf("resolver calls = %#v", calls)
	}
	input := runner.inputs[0]
	if input.UseCache {
		t.Fatal("use_cache=false was not honoured")
	}
	if input.History.Len() != 1 {
		t.Fatalf("history len = %d", input.History.Len())
	}

	decoded := decodeBody(t, rr)
	turn := decoded["turn"].(map[string]any)
	if turn["answer"] != "42 orders" || turn["outcome"] != "success" {
		t.Fatalf("turn = %#v", turn)
	}
	history := decoded["history"].([]any)
	if len(history) != 2 {
		t.Fatalf("history = %#v", history)
	}
}

func TestChatDefaultsUseCacheFromDependencies(t *testing.T) {
	runner := &fakeRunner{result: pipeline.TurnResult{Answer: "ok", Outcome: pipeline.StateSuccess}}
	h := NewHandler(loadConfig(t, nil), Dependencies{Pipelines: resolverFor(runner, nil), UseCache: true})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/chat", strings.NewReader(`{"question":"q"}`)))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if !runner.inputs[0].UseCache {
		t.Fatal("UseCache default not applied")
	}
}

func TestChatRejectsBadRequests(t *testing.T) {
	runner := &fakeRunner{}
	h := NewHandler(loadConfig(t, nil), Dependencies{Pipelines: resolverFor(runner, nil)})

	tests := []struct {
		name string
		body string
		code string
	}{
		{name: "malformed", body: `{`, code: "INVALID_JSON"},
		{name: "unknown field", body: `{"question":"q","session":"x"}`, code: "INVALID_JSON"},
		{name: "blank question", body: `{"question":"   "}`, code: "QUESTION_REQUIRED"},
		{name: "history with blank question", body: `{"question":"q","history":[{"question":"","answer":"a"}]}`, code: "INVALID_HISTORY"},
		{name: "unknown provider", body: `{"question":"q","provider":"missing"}`, code: "UNKNOWN_PROVIDER"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/chat", strings.NewReader(tt.body)))
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
			}
			if got := decodeBody(t, rr)["error_code"]; got != tt.code {
				t.Fatalf("error_code = %v, want %s", got, tt.code)
			}
		})
	}
	if len(runner.inputs) != 0 {
		t.Fatalf("runner called %d times", len(runner.inputs))
	}
}

func TestChatWithoutPipelineIsNotImplemented(t *testing.T) {
	h := NewHandler(loadConfig(t, nil), Dependencies{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/chat", strings.NewReader(`{"question":"q"}`)))
	if rr.Code != http.StatusNotImplemented {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestChatAbortedTurnIsRetryable(t *testing.T) {
	runner := &fakeRunner{err: context.Canceled}
	h := NewHandler(loadConfig(t, nil), Dependencies{Pipelines: resolverFor(runner, nil)})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/chat", strings.NewReader(`{"question":"q"}`)))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rr.Code)
	}
	if decodeBody(t, rr)["retryable"] != true {
		t.Fatalf("body = %s", rr.Body.String())
	}
}

func TestChatStreamSendsEventsThenResult(t *testing.T) {
	runner := &fakeRunner{
		events: []pipeline.Event{
			{Kind: pipeline.EventToken, Delta: "SELECT "},
			{Kind: pipeline.EventToken, Delta: "1"},
			{Kind: pipeline.EventState, State: pipeline.StateExecuting},
		},
		result: pipeline.TurnResult{Answer: "SELECT 1", Outcome: pipeline.StateSuccess},
	}
	server := httptest.NewServer(NewHandler(loadConfig(t, nil), Dependencies{Pipelines: resolverFor(runner, nil)}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(server.URL, "http")+"/v1/chat/stream", nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	if err := wsjson.Write(ctx, conn, chatRequest{Question: "one"}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	var frames []streamFrame
	for {
		var frame streamFrame
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		frames = append(frames, frame)
		if frame.Type != "event" {
			break
		}
	}

	if len(frames) != 4 {
		t.Fatalf("frames = %#v", frames)
	}
	if frames[0].Event.Delta != "SELECT " || frames[1].Event.Delta != "1" {
		t.Fatalf("token frames = %#v %#v", frames[0].Event, frames[1].Event)
	}
	last := frames[3]
	if last.Type != "result" || last.Turn.Answer != "SELECT 1" || len(last.History) != 1 {
		t.Fatalf("result frame = %#v", last)
	}

	if err := wsjson.Write(ctx, conn, chatRequest{Question: ""}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	var errFrame streamFrame
	if err := wsjson.Read(ctx, conn, &errFrame); err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if errFrame.Type != "error" || errFrame.ErrorCode != "QUESTION_REQUIRED" {
		t.Fatalf("error frame = %#v", errFrame)
	}
}

type endlessRunner struct {
	cancelled chan struct{}
}

func (r *endlessRunner) Run(ctx context.Context, _ pipeline.TurnInput, observer pipeline.Observer) (pipeline.TurnResult, error) {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			close(r.cancelled)
			return pipeline.TurnResult{}, ctx.Err()
		case <-ticker.C:
			observer(pipeline.Event{Kind: pipeline.EventToken, Delta: "x"})
		}
	}
}

func TestChatStreamCancelsTurnWhenClientGoesAway(t *testing.T) {
	runner := &endlessRunner{cancelled: make(chan struct{})}
	server := httptest.NewServer(NewHandler(loadConfig(t, nil), Dependencies{Pipelines: resolverFor(runner, nil)}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(server.URL, "http")+"/v1/chat/stream", nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	if err := wsjson.Write(ctx, conn, chatRequest{Question: "one"}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	var frame streamFrame
	if err := wsjson.Read(ctx, conn, &frame); err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if frame.Type != "event" {
		t.Fatalf("first frame = %#v", frame)
	}
	_ = conn.CloseNow()

	select {
	case <-runner.cancelled:
	case <-ctx.Done():
		t.Fatal("turn kept running after the client disconnected")
	}
}
