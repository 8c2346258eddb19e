package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Embedder calls an OpenAI-compatible /v1/embeddings endpoint.
type Embedder struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

func NewEmbedder(cfg Config) (*Embedder, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "text-embedding-3-small"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Embedder{
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:  strings.TrimSpace(cfg.APIKey),
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	body, err := json.Marshal(map[string]any{
		"model": e.model,
		"input": texts,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal embeddings payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/v1/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embeddings request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request embeddings: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read embeddings response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		message := gjson.GetBytes(raw, "error.message").String()
		if message == "" {
			message = strings.TrimSpace(string(raw))
		}
		return nil, fmt.Errorf("embeddings failed status=%d: %s", resp.StatusCode, message)
	}

	data := gjson.GetBytes(raw, "data")
	if !data.IsArray() {
		return nil, fmt.Errorf("decode embeddings response: missing data array")
	}
	out := make([][]float32, len(texts))
	var decodeErr error
	data.ForEach(func(_, item gjson.Result) bool {
		index := int(item.Get("index").Int())
		if index < 0 || index >= len(out) {
			decodeErr = fmt.Errorf("decode embeddings response: index %d out of range", index)
			return false
		}
		values := item.Get("embedding").Array()
		vector := make([]float32, len(values))
		for i, v := range values {
			vector[i] = float32(v.Float())
		}
		out[index] = vector
		return true
	})
	if decodeErr != nil {
		return nil, decodeErr
	}
	for i, vector := range out {
		if len(vector) == 0 {
			return nil, fmt.Errorf("decode embeddings response: missing embedding for input %d", i)
		}
	}
	return out, nil
}
