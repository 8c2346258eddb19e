package llm

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/snowchat/snowchat/internal/observability"
)

const maxBackoff = 30 * time.Second

// Client is the CompletionClient the pipeline talks to. It pins one provider
// and its config, retries rate limits with bounded exponential backoff and
// turns anything unexpected into a ProviderError.
type Client struct {
	provider    Provider
	cfg         ProviderConfig
	maxAttempts int
	backoff     time.Duration
	logger      *slog.Logger
	sleep       func(ctx context.Context, d time.Duration) error
}

type ClientOption func(*Client)

func WithRetry(maxAttempts int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		if maxAttempts > 0 {
			c.maxAttempts = maxAttempts
		}
		if backoff >= 0 {
			c.backoff = backoff
		}
	}
}

func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func NewClient(provider Provider, cfg ProviderConfig, opts ...ClientOption) *Client {
	c := &Client{
		provider:    provider,
		cfg:         cfg,
		maxAttempts: 3,
		backoff:     500 * time.Millisecond,
		logger:      slog.New(slog.DiscardHandler),
		sleep:       sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Name() string {
	return c.provider.Name()
}

func (c *Client) Config() ProviderConfig {
	return c.cfg
}

func (c *Client) Complete(ctx context.Context, messages []Message) (Response, error) {
	req := c.cfg.Request(messages)
	var resp Response
	err := c.withRetry(ctx, func() (bool, error) {
		var err error
		resp, err = c.provider.Complete(ctx, req)
		return true, err
	})
	if err != nil {
		return Response{}, err
	}
	return resp, nil
}

// Stream runs a streaming completion and forwards every event to observer.
// A rate limit is retried only while no token has been delivered; once
// output has started a failure ends the call.
func (c *Client) Stream(ctx context.Context, messages []Message, observer func(Event)) (Response, error) {
	req := c.cfg.Request(messages)
	var text strings.Builder
	err := c.withRetry(ctx, func() (bool, error) {
		events, err := c.provider.Stream(ctx, req)
		if err != nil {
			return true, err
		}
		text.Reset()
		delivered := false
		for {
			select {
			case <-ctx.Done():
				return false, ctx.Err()
			case event, ok := <-events:
				if !ok {
					return !delivered, &ProviderError{Provider: c.provider.Name(), Message: "stream ended without completion"}
				}
				if event.Err != nil {
					return !delivered, event.Err
				}
				if event.Delta != "" {
					delivered = true
					text.WriteString(event.Delta)
				}
				event.Text = text.String()
				if observer != nil {
					observer(event)
				}
				if event.Done {
					return false, nil
				}
			}
		}
	})
	if err != nil {
		return Response{}, err
	}
	return Response{
		Text:      text.String(),
		Streaming: true,
		Provider:  c.provider.Name(),
		Model:     c.cfg.Model,
	}, nil
}

// withRetry runs call until it succeeds, fails with something other than a
// retryable rate limit, or maxAttempts is used up. call reports whether a
// failure may be retried at all.
func (c *Client) withRetry(ctx context.Context, call func() (retryable bool, err error)) error {
	name := c.provider.Name()
	for attempt := 1; ; attempt++ {
		start := time.Now()
		retryable, err := call()
		err = normalize(name, err)
		observability.ObserveCompletion(name, time.Since(start), err)
		if err == nil {
			return nil
		}

		var rateErr *RateLimitError
		if !retryable || !errors.As(err, &rateErr) || attempt >= c.maxAttempts {
			c.logger.WarnContext(ctx, "completion failed",
				slog.String("provider", name),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
			return err
		}

		wait := c.backoff << (attempt - 1)
		if rateErr.RetryAfter > wait {
			wait = rateErr.RetryAfter
		}
		if wait > maxBackoff {
			wait = maxBackoff
		}
		observability.IncCompletionRetry(name)
		c.logger.InfoContext(ctx, "completion rate limited, retrying",
			slog.String("provider", name),
			slog.Int("attempt", attempt),
			slog.Duration("wait", wait),
		)
		if err := c.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func normalize(provider string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var authErr *AuthError
	var rateErr *RateLimitError
	var providerErr *ProviderError
	if errors.As(err, &authErr) || errors.As(err, &rateErr) || errors.As(err, &providerErr) {
		return err
	}
	return &ProviderError{Provider: provider, Message: err.Error(), Err: err}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
