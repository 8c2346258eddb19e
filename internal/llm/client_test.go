package llm

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

type scriptedProvider struct {
	completeErrs []error
	streams      [][]Event
	streamErrs   []error
	calls        int
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Complete(_ context.Context, req Request) (Response, error) {
	i := p.calls
	p.calls++
	if i < len(p.completeErrs) && p.completeErrs[i] != nil {
		return Response{}, p.completeErrs[i]
	}
	return Response{Text: "answer for " + req.Model, Provider: p.Name(), Model: req.Model}, nil
}

func (p *scriptedProvider) Stream(_ context.Context, _ Request) (<-chan Event, error) {
	i := p.calls
	p.calls++
	if i < len(p.streamErrs) && p.streamErrs[i] != nil {
		return nil, p.streamErrs[i]
	}
	ch := make(chan Event, len(p.streams[i]))
	for _, event := range p.streams[i] {
		ch <- event
	}
	close(ch)
	return ch, nil
}

func newTestClient(p Provider, attempts int) (*Client, *[]time.Duration) {
	var waits []time.Duration
	c := NewClient(p, ProviderConfig{ID: "test", Model: "m1"}, WithRetry(attempts, 10*time.Millisecond))
	c.sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	return c, &waits
}

func TestCompleteRetriesRateLimitWithBackoff(t *testing.T) {
	p := &scriptedProvider{completeErrs: []error{
		&RateLimitError{Provider: "scripted", Message: "slow down"},
		&RateLimitError{Provider: "scripted", Message: "slow down", RetryAfter: time.Second},
	}}
	c, waits := newTestClient(p, 3)

	resp, err := c.Complete(context.Background(), []Message{{Role: RoleUser, Content: "hi"}})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if resp.Text != "answer for m1" {
		t.Fatalf("Complete() text = %q", resp.Text)
	}
	if p.calls != 3 {
		t.Fatalf("provider calls = %d, want 3", p.calls)
	}
	want := []time.Duration{10 * time.Millisecond, time.Second}
	if len(*waits) != 2 || (*waits)[0] != want[0] || (*waits)[1] != want[1] {
		t.Fatalf("waits = %v, want %v", *waits, want)
	}
}

func TestCompleteGivesUpAfterMaxAttempts(t *testing.T) {
	limited := &RateLimitError{Provider: "scripted", Message: "slow down"}
	p := &scriptedProvider{completeErrs: []error{limited, limited, limited}}
	c, _ := newTestClient(p, 2)

	_, err := c.Complete(context.Background(), nil)
	var rateErr *RateLimitError
	if !errors.As(err, &rateErr) {
		t.Fatalf("Complete() error = %v, want RateLimitError", err)
	}
	if p.calls != 2 {
		t.Fatalf("provider calls = %d, want 2", p.calls)
	}
}

func TestCompleteDoesNotRetryAuthError(t *testing.T) {
	p := &scriptedProvider{completeErrs: []error{&AuthError{Provider: "scripted", Message: "bad key"}}}
	c, _ := newTestClient(p, 3)

	_, err := c.Complete(context.Background(), nil)
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("Complete() error = %v, want AuthError", err)
	}
	if p.calls != 1 {
		t.Fatalf("provider calls = %d, want 1", p.calls)
	}
}

func TestCompleteWrapsUnknownErrors(t *testing.T) {
	cause := errors.New("connection reset by peer")
	p := &scriptedProvider{completeErrs: []error{cause}}
	c, _ := newTestClient(p, 3)

	_, err := c.Complete(context.Background(), nil)
	var providerErr *ProviderError
	if !errors.As(err, &providerErr) {
		t.Fatalf("Complete() error = %T, want *ProviderError", err)
	}
	if !errors.Is(err, cause) {
		t.Fatal("ProviderError should unwrap to the transport error")
	}
}

func TestStreamObserverSeesGrowingBuffer(t *testing.T) {
	p := &scriptedProvider{streams: [][]Event{{
		{Delta: "SELECT "},
		{Delta: "1"},
		{Done: true},
	}}}
	c, _ := newTestClient(p, 1)

	var seen []string
	resp, err := c.Stream(context.Background(), nil, func(e Event) {
		seen = append(seen, e.Text)
	})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if !resp.Streaming || resp.Text != "SELECT 1" {
		t.Fatalf("Stream() = %+v", resp)
	}
	want := []string{"SELECT ", "SELECT 1", "SELECT 1"}
	if len(seen) != len(want) {
		t.Fatalf("observer saw %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("observer[%d] = %q, want %q", i, seen[i], want[i])
		}
	}
}

func TestStreamRetriesRateLimitBeforeFirstToken(t *testing.T) {
	p := &scriptedProvider{
		streamErrs: []error{&RateLimitError{Provider: "scripted", Message: "busy"}},
		streams:    [][]Event{nil, {{Delta: "ok"}, {Done: true}}},
	}
	c, _ := newTestClient(p, 2)

	resp, err := c.Stream(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if resp.Text != "ok" {
		t.Fatalf("Stream() text = %q", resp.Text)
	}
}

func TestStreamWithoutDoneIsProviderError(t *testing.T) {
	p := &scriptedProvider{streams: [][]Event{{{Delta: "partial"}}}}
	c, _ := newTestClient(p, 3)

	_, err := c.Stream(context.Background(), nil, nil)
	var providerErr *ProviderError
	if !errors.As(err, &providerErr) {
		t.Fatalf("Stream() error = %v, want ProviderError", err)
	}
	if p.calls != 1 {
		t.Fatalf("provider calls = %d, want 1", p.calls)
	}
}

func TestStatusErrorClassification(t *testing.T) {
	body := []byte(`{"error":{"message":"Incorrect API key provided"}}`)

	var authErr *AuthError
	if err := StatusError("openai", http.StatusUnauthorized, nil, body); !errors.As(err, &authErr) || authErr.Message != "Incorrect API key provided" {
		t.Fatalf("StatusError(401) = %v", err)
	}

	header := http.Header{}
	header.Set("Retry-After", "7")
	var rateErr *RateLimitError
	if err := StatusError("openai", http.StatusTooManyRequests, header, nil); !errors.As(err, &rateErr) || rateErr.RetryAfter != 7*time.Second {
		t.Fatalf("StatusError(429) = %v", err)
	}

	var providerErr *ProviderError
	if err := StatusError("openai", http.StatusBadGateway, nil, []byte("upstream down")); !errors.As(err, &providerErr) || providerErr.Message != "upstream down" {
		t.Fatalf("StatusError(502) = %v", err)
	}
}

func TestProviderConfigCredential(t *testing.T) {
	t.Setenv("SNOWCHAT_TEST_KEY", " from-env ")
	if got := (ProviderConfig{APIKeyEnv: "SNOWCHAT_TEST_KEY"}).Credential(); got != "from-env" {
		t.Fatalf("Credential() = %q", got)
	}
	if got := (ProviderConfig{APIKey: "inline", APIKeyEnv: "SNOWCHAT_TEST_KEY"}).Credential(); got != "inline" {
		t.Fatalf("Credential() = %q", got)
	}
	if got := (ProviderConfig{}).Variant(); got != VariantChat {
		t.Fatalf("Variant() = %q", got)
	}
}
