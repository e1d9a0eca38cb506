// Package notify holds the delivery plumbing shared by outbound notifiers.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPTimeout bounds a single webhook delivery.
const HTTPTimeout = 10 * time.Second

// NewClient returns the HTTP client notifiers use by default.
func NewClient() *http.Client {
	return &http.Client{Timeout: HTTPTimeout}
}

// PostJSON posts v as JSON to url and fails on a non-2xx response. name
// prefixes every error.
func PostJSON(ctx context.Context, client *http.Client, url, name string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%s: marshal message: %w", name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: create request: %w", name, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req) //nolint:gosec // G704: url is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("%s: post webhook: %w", name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s: webhook returned %d: %s", name, resp.StatusCode, string(respBody))
	}
	return nil
}
