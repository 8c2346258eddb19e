package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestEmbedOrdersVectorsByIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			t.Fatalf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Fatalf("Authorization = %q", got)
		}
		var body struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body.Model != "embed-small" || len(body.Input) != 2 {
			t.Fatalf("body = %+v", body)
		}
		_, _ = w.Write([]byte(`{"data":[{"index":1,"embedding":[0.5,0.25]},{"index":0,"embedding":[1,2]}]}`))
	}))
	defer srv.Close()

	embedder, err := NewEmbedder(Config{BaseURL: srv.URL + "/", APIKey: "sk-test", Model: "embed-small"})
	if err != nil {
		t.Fatalf("NewEmbedder() error = %v", err)
	}
	vectors, err := embedder.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if vectors[0][1] != 2 || vectors[1][0] != 0.5 {
		t.Fatalf("Embed() = %v", vectors)
	}
}

func TestEmbedSurfacesProviderMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"Incorrect API key provided"}}`))
	}))
	defer srv.Close()

	embedder, err := NewEmbedder(Config{BaseURL: srv.URL, APIKey: "bad"})
	if err != nil {
		t.Fatalf("NewEmbedder() error = %v", err)
	}
	_, err = embedder.Embed(context.Background(), []string{"a"})
	if err == nil || !strings.Contains(err.Error(), "Incorrect API key provided") {
		t.Fatalf("Embed() error = %v", err)
	}
}

func TestNewEmbedderRequiresKey(t *testing.T) {
	if _, err := NewEmbedder(Config{BaseURL: "http://localhost"}); err == nil {
		t.Fatal("expected error for missing api key")
	}
}
