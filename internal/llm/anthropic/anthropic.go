// Package anthropic adapts the Anthropic Messages API to llm.Provider.
package anthropic

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/snowchat/snowchat/internal/llm"
)

const defaultMaxTokens = 1024

type Provider struct {
	name   string
	apiKey string
	client anthropic.Client
}

func New(cfg llm.ProviderConfig) *Provider {
	name := cfg.ID
	if name == "" {
		name = "anthropic"
	}
	apiKey := cfg.Credential()
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	return &Provider{
		name:   name,
		apiKey: apiKey,
		client: anthropic.NewClient(opts...),
	}
}

func (p *Provider) Name() string {
	return p.name
}

func (p *Provider) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	if p.apiKey == "" {
		return llm.Response{}, &llm.AuthError{Provider: p.name, Message: "api key is not configured"}
	}
	message, err := p.client.Messages.New(ctx, params(req))
	if err != nil {
		return llm.Response{}, p.mapError(ctx, err)
	}

	var text strings.Builder
	for _, block := range message.Content {
		if textBlock, ok := block.AsAny().(anthropic.TextBlock); ok {
			text.WriteString(textBlock.Text)
		}
	}
	if text.Len() == 0 {
		return llm.Response{}, &llm.ProviderError{Provider: p.name, Message: "response has no text content"}
	}
	return llm.Response{Text: text.String(), Provider: p.name, Model: string(message.Model)}, nil
}

func (p *Provider) Stream(ctx context.Context, req llm.Request) (<-chan llm.Event, error) {
	if p.apiKey == "" {
		return nil, &llm.AuthError{Provider: p.name, Message: "api key is not configured"}
	}
	stream := p.client.Messages.NewStreaming(ctx, params(req))

	events := make(chan llm.Event)
	go func() {
		defer close(events)
		defer func() { _ = stream.Close() }()

		send := func(event llm.Event) bool {
			select {
			case events <- event:
				return true
			case <-ctx.Done():
				return false
			}
		}

		var text strings.Builder
		for stream.Next() {
			switch event := stream.Current().AsAny().(type) {
			case anthropic.ContentBlockDeltaEvent:
				delta, ok := event.Delta.AsAny().(anthropic.TextDelta)
				if !ok || delta.Text == "" {
					continue
				}
				text.WriteString(delta.Text)
				if !send(llm.Event{Delta: delta.Text, Text: text.String()}) {
					return
				}
			case anthropic.MessageStopEvent:
				send(llm.Event{Text: text.String(), Done: true})
				return
			}
		}
		if err := stream.Err(); err != nil {
			send(llm.Event{Err: p.mapError(ctx, err)})
			return
		}
		send(llm.Event{Err: &llm.ProviderError{Provider: p.name, Message: "stream closed before message_stop"}})
	}()
	return events, nil
}

func params(req llm.Request) anthropic.MessageNewParams {
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	out := anthropic.MessageNewParams{
		Model:       anthropic.Model(req.Model),
		MaxTokens:   maxTokens,
		Temperature: anthropic.Float(req.Temperature),
	}
	for _, message := range req.Messages {
		switch message.Role {
		case llm.RoleSystem:
			out.System = append(out.System, anthropic.TextBlockParam{Text: message.Content})
		case llm.RoleAssistant:
			out.Messages = append(out.Messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(message.Content)))
		default:
			out.Messages = append(out.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(message.Content)))
		}
	}
	return out
}

func (p *Provider) mapError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		var header http.Header
		if apiErr.Response != nil {
			header = apiErr.Response.Header
		}
		return llm.StatusError(p.name, apiErr.StatusCode, header, []byte(apiErr.RawJSON()))
	}
	return &llm.ProviderError{Provider: p.name, Message: err.Error(), Err: err}
}
