// Package llm is the provider-agnostic completion boundary. Every provider
// adapter normalizes its auth, stream framing and error shapes into the types
// declared here.
package llm

import (
	"context"
	"os"
	"strings"
	"time"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Request struct {
	Messages    []Message
	Model       string
	Temperature float64
	MaxTokens   int
}

type Response struct {
	Text      string `json:"text"`
	Streaming bool   `json:"streaming"`
	Provider  string `json:"provider"`
	Model     string `json:"model"`
}

// Event is one step of a streamed completion. Text is the whole buffer so far
// and only grows; Done marks the final event of a successful stream. A stream
// that fails ends with an event carrying Err.
type Event struct {
	Delta string
	Text  string
	Done  bool
	Err   error
}

// Provider is implemented once per provider family.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (Response, error)
	// Stream returns a finite channel that is closed after the final event.
	// It cannot be restarted.
	Stream(ctx context.Context, req Request) (<-chan Event, error)
}

type PromptVariant string

const (
	VariantChat     PromptVariant = "chat"
	VariantInstruct PromptVariant = "instruct"
)

// ProviderConfig describes one selectable model.
type ProviderConfig struct {
	ID            string         `yaml:"id" json:"id"`
	Kind          string         `yaml:"kind" json:"kind"`
	Label         string         `yaml:"label,omitempty" json:"label,omitempty"`
	BaseURL       string         `yaml:"base_url,omitempty" json:"base_url,omitempty"`
	APIKey        string         `yaml:"api_key,omitempty" json:"-"`
	APIKeyEnv     string         `yaml:"api_key_env,omitempty" json:"api_key_env,omitempty"`
	Model         string         `yaml:"model" json:"model"`
	Temperature   float64        `yaml:"temperature" json:"temperature"`
	MaxTokens     int            `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty"`
	PromptVariant PromptVariant  `yaml:"prompt_variant,omitempty" json:"prompt_variant,omitempty"`
	Timeout       time.Duration  `yaml:"timeout,omitempty" json:"-"`
	Extra         map[string]any `yaml:"extra,omitempty" json:"-"`
}

// Credential returns the inline key or, failing that, the value of APIKeyEnv.
func (c ProviderConfig) Credential() string {
	if key := strings.TrimSpace(c.APIKey); key != "" {
		return key
	}
	if c.APIKeyEnv == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(c.APIKeyEnv))
}

func (c ProviderConfig) Variant() PromptVariant {
	if c.PromptVariant == "" {
		return VariantChat
	}
	return c.PromptVariant
}

func (c ProviderConfig) Request(messages []Message) Request {
	return Request{
		Messages:    messages,
		Model:       c.Model,
		Temperature: c.Temperature,
		MaxTokens:   c.MaxTokens,
	}
}
