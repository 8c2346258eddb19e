// Package providers resolves the model catalog into runnable llm.Provider
// values.
package providers

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/snowchat/snowchat/internal/llm"
	"github.com/snowchat/snowchat/internal/llm/anthropic"
	"github.com/snowchat/snowchat/internal/llm/openai"
)

const (
	KindOpenAI    = "openai"
	KindAnthropic = "anthropic"
)

// Catalog is the set of selectable models keyed by ID.
type Catalog struct {
	Providers []llm.ProviderConfig `yaml:"providers"`
}

// Default mirrors the models the chat UI offers out of the box. OpenRouter and
// Fireworks speak the OpenAI chat completions dialect.
func Default() Catalog {
	return Catalog{Providers: []llm.ProviderConfig{
		{
			ID:        "gpt-4o",
			Kind:      KindOpenAI,
			Label:     "GPT-4o",
			APIKeyEnv: "OPENAI_API_KEY",
			Model:     "gpt-4o",
			MaxTokens: 1024,
		},
		{
			ID:        "gemini-flash",
			Kind:      KindOpenAI,
			Label:     "Gemini Flash 1.5",
			BaseURL:   "https://openrouter.ai/api/v1",
			APIKeyEnv: "OPENROUTER_API_KEY",
			Model:     "google/gemini-flash-1.5",
			MaxTokens: 1024,
		},
		{
			ID:        "claude-3-haiku",
			Kind:      KindAnthropic,
			Label:     "Claude 3 Haiku",
			APIKeyEnv: "ANTHROPIC_API_KEY",
			Model:     "claude-3-haiku-20240307",
			MaxTokens: 1024,
		},
		{
			ID:            "llama-3.2-3b",
			Kind:          KindOpenAI,
			Label:         "Llama 3.2 3B",
			BaseURL:       "https://api.fireworks.ai/inference/v1",
			APIKeyEnv:     "FIREWORKS_API_KEY",
			Model:         "accounts/fireworks/models/llama-v3p2-3b-instruct",
			MaxTokens:     1024,
			PromptVariant: llm.VariantInstruct,
		},
		{
			ID:            "llama-3.1-405b",
			Kind:          KindOpenAI,
			Label:         "Llama 3.1 405B",
			BaseURL:       "https://api.fireworks.ai/inference/v1",
			APIKeyEnv:     "FIREWORKS_API_KEY",
			Model:         "accounts/fireworks/models/llama-v3p1-405b-instruct",
			MaxTokens:     1024,
			PromptVariant: llm.VariantInstruct,
		},
	}}
}

// Load reads a YAML catalog. An empty path returns Default.
func Load(path string) (Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("read provider catalog: %w", err)
	}
	return Parse(raw)
}

func Parse(raw []byte) (Catalog, error) {
	var catalog Catalog
	if err := yaml.Unmarshal(raw, &catalog); err != nil {
		return Catalog{}, fmt.Errorf("decode provider catalog: %w", err)
	}
	if err := catalog.validate(); err != nil {
		return Catalog{}, err
	}
	return catalog, nil
}

func (c Catalog) validate() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("provider catalog is empty")
	}
	seen := make(map[string]struct{}, len(c.Providers))
	for i, p := range c.Providers {
		if strings.TrimSpace(p.ID) == "" {
			return fmt.Errorf("provider %d: id is required", i)
		}
		if _, ok := seen[p.ID]; ok {
			return fmt.Errorf("provider %q: duplicate id", p.ID)
		}
		seen[p.ID] = struct{}{}
		if strings.TrimSpace(p.Model) == "" {
			return fmt.Errorf("provider %q: model is required", p.ID)
		}
		switch p.Kind {
		case KindOpenAI, KindAnthropic:
		default:
			return fmt.Errorf("provider %q: unsupported kind %q", p.ID, p.Kind)
		}
		switch p.Variant() {
		case llm.VariantChat, llm.VariantInstruct:
		default:
			return fmt.Errorf("provider %q: unsupported prompt_variant %q", p.ID, p.PromptVariant)
		}
	}
	return nil
}

func (c Catalog) Lookup(id string) (llm.ProviderConfig, bool) {
	for _, p := range c.Providers {
		if p.ID == id {
			return p, true
		}
	}
	return llm.ProviderConfig{}, false
}

// IDs returns the catalog IDs in sorted order.
func (c Catalog) IDs() []string {
	ids := make([]string, 0, len(c.Providers))
	for _, p := range c.Providers {
		ids = append(ids, p.ID)
	}
	sort.Strings(ids)
	return ids
}

// New builds the adapter for one catalog entry.
func New(cfg llm.ProviderConfig) (llm.Provider, error) {
	switch cfg.Kind {
	case KindOpenAI:
		return openai.New(cfg), nil
	case KindAnthropic:
		return anthropic.New(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported provider kind %q", cfg.Kind)
	}
}

// Client resolves id in the catalog and wraps the adapter in an llm.Client.
func (c Catalog) Client(id string, opts ...llm.ClientOption) (*llm.Client, error) {
	cfg, ok := c.Lookup(id)
	if !ok {
		return nil, fmt.Errorf("unknown provider %q (available: %s)", id, strings.Join(c.IDs(), ", "))
	}
	provider, err := New(cfg)
	if err != nil {
		return nil, err
	}
	return llm.NewClient(provider, cfg, opts...), nil
}
