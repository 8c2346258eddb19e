package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

type remoteFlags struct {
	baseURL  string
	apiKey   string
	timeout  time.Duration
	provider string
}

// newRemoteCommand talks to a running snowchat-api instead of building the
// pipeline locally.
func newRemoteCommand(opts Options) *cobra.Command {
	flags := remoteFlags{}
	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Call a running snowchat-api",
	}
	cmd.PersistentFlags().StringVar(&flags.baseURL, "base-url", lookupOr(opts.Lookup, "SNOWCHAT_API_URL", "http://localhost:8080"), "snowchat API base URL")
	cmd.PersistentFlags().StringVar(&flags.apiKey, "api-key", lookupOr(opts.Lookup, "SNOWCHAT_API_KEY", ""), "API key for authenticated requests")
	cmd.PersistentFlags().DurationVar(&flags.timeout, "timeout", 2*time.Minute, "HTTP timeout")

	get := func(use, short, path string) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return flags.call(cmd, opts, http.MethodGet, path, nil)
			},
		}
	}

	schema := &cobra.Command{
		Use:   "schema [query]",
		Short: "GET /v1/schema/search",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return flags.call(cmd, opts, http.MethodGet, "/v1/schema/search?q="+url.QueryEscape(strings.Join(args, " ")), nil)
		},
	}
	sqlCmd := &cobra.Command{
		Use:   "query [sql]",
		Short: "POST /v1/query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return flags.call(cmd, opts, http.MethodPost, "/v1/query", map[string]any{"sql": strings.Join(args, " ")})
		},
	}
	ask := &cobra.Command{
		Use:   "ask [question]",
		Short: "POST /v1/chat",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return flags.call(cmd, opts, http.MethodPost, "/v1/chat", map[string]any{
				"question": strings.Join(args, " "),
				"provider": flags.provider,
			})
		},
	}
	ask.Flags().StringVarP(&flags.provider, "provider", "p", "", "provider ID")

	cmd.AddCommand(
		get("health", "GET /v1/health", "/v1/health"),
		get("ready", "GET /v1/ready", "/v1/ready"),
		get("providers", "GET /v1/providers", "/v1/providers"),
		schema,
		sqlCmd,
		ask,
	)
	return cmd
}

func (f *remoteFlags) call(cmd *cobra.Command, opts Options, method, path string, payload any) error {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: f.timeout}
	}
	endpoint := strings.TrimRight(f.baseURL, "/") + path
	code, responseBody, err := doRequest(cmd.Context(), client, method, endpoint, f.apiKey, payload)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	if code >= 400 {
		return fmt.Errorf("http %d: %s", code, strings.TrimSpace(string(responseBody)))
	}

	out := cmd.OutOrStdout()
	if pretty, ok := prettyJSON(responseBody); ok {
		_, _ = fmt.Fprintln(out, pretty)
		return nil
	}
	if len(responseBody) > 0 {
		_, _ = fmt.Fprintln(out, string(responseBody))
	}
	return nil
}

func doRequest(ctx context.Context, client *http.Client, method, url, apiKey string, payload any) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(apiKey) != "" {
		req.Header.Set("X-API-Key", strings.TrimSpace(apiKey))
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, raw, nil
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func lookupOr(lookup func(string) (string, bool), key, fallback string) string {
	if lookup == nil {
		return fallback
	}
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}
