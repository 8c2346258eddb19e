// Package openai talks to any OpenAI-compatible chat completions endpoint
// (OpenAI, OpenRouter, Fireworks and similar gateways).
package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/snowchat/snowchat/internal/llm"
)

const defaultBaseURL = "https://api.openai.com/v1"

type Provider struct {
	name    string
	baseURL string
	apiKey  string
	extra   map[string]any
	timeout time.Duration
	client  *http.Client
}

func New(cfg llm.ProviderConfig) *Provider {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	name := cfg.ID
	if name == "" {
		name = "openai"
	}
	return &Provider{
		name:    name,
		baseURL: baseURL,
		apiKey:  cfg.Credential(),
		extra:   cfg.Extra,
		timeout: timeout,
		// Streams are bounded by the request context, not a client timeout.
		client: &http.Client{},
	}
}

func (p *Provider) Name() string {
	return p.name
}

func (p *Provider) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.do(ctx, req, false)
	if err != nil {
		return llm.Response{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return llm.Response{}, &llm.ProviderError{Provider: p.name, Message: "read chat response body", Err: err}
	}
	content := gjson.GetBytes(raw, "choices.0.message.content")
	if !content.Exists() {
		return llm.Response{}, &llm.ProviderError{Provider: p.name, Status: resp.StatusCode, Message: "response has no choices[0].message.content"}
	}
	model := gjson.GetBytes(raw, "model").String()
	if model == "" {
		model = req.Model
	}
	return llm.Response{Text: content.String(), Provider: p.name, Model: model}, nil
}

func (p *Provider) Stream(ctx context.Context, req llm.Request) (<-chan llm.Event, error) {
	resp, err := p.do(ctx, req, true)
	if err != nil {
		return nil, err
	}

	events := make(chan llm.Event)
	go func() {
		defer close(events)
		defer func() { _ = resp.Body.Close() }()

		send := func(event llm.Event) bool {
			select {
			case events <- event:
				return true
			case <-ctx.Done():
				return false
			}
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(nil, 4<<20)
		var text strings.Builder
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 || !bytes.HasPrefix(line, []byte("data:")) {
				continue
			}
			payload := bytes.TrimSpace(bytes.TrimPrefix(line, []byte("data:")))
			if string(payload) == "[DONE]" {
				send(llm.Event{Text: text.String(), Done: true})
				return
			}
			if message := gjson.GetBytes(payload, "error.message"); message.Exists() {
				send(llm.Event{Err: &llm.ProviderError{Provider: p.name, Message: message.String()}})
				return
			}
			delta := gjson.GetBytes(payload, "choices.0.delta.content").String()
			if delta == "" {
				continue
			}
			text.WriteString(delta)
			if !send(llm.Event{Delta: delta, Text: text.String()}) {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			send(llm.Event{Err: &llm.ProviderError{Provider: p.name, Message: "read stream", Err: err}})
			return
		}
		send(llm.Event{Err: &llm.ProviderError{Provider: p.name, Message: "stream closed before [DONE]"}})
	}()
	return events, nil
}

func (p *Provider) do(ctx context.Context, req llm.Request, stream bool) (*http.Response, error) {
	if p.apiKey == "" {
		return nil, &llm.AuthError{Provider: p.name, Message: "api key is not configured"}
	}
	body, err := p.payload(req, stream)
	if err != nil {
		return nil, &llm.ProviderError{Provider: p.name, Message: "build chat payload", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, &llm.ProviderError{Provider: p.name, Message: "build chat request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
		httpReq.Header.Set("Cache-Control", "no-cache")
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &llm.ProviderError{Provider: p.name, Message: "request chat completion", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		return nil, llm.StatusError(p.name, resp.StatusCode, resp.Header, raw)
	}
	return resp, nil
}

func (p *Provider) payload(req llm.Request, stream bool) ([]byte, error) {
	body, err := json.Marshal(map[string]any{
		"model":       req.Model,
		"messages":    req.Messages,
		"temperature": req.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal chat payload: %w", err)
	}
	if req.MaxTokens > 0 {
		if body, err = sjson.SetBytes(body, "max_tokens", req.MaxTokens); err != nil {
			return nil, err
		}
	}
	if stream {
		if body, err = sjson.SetBytes(body, "stream", true); err != nil {
			return nil, err
		}
	}
	for key, value := range p.extra {
		if body, err = sjson.SetBytes(body, key, value); err != nil {
			return nil, fmt.Errorf("apply extra field %q: %w", key, err)
		}
	}
	return body, nil
}
