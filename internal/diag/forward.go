package diag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tinytelemetry/diagd/internal/model"
)

// HTTPForwarder posts events to a remote collector's /log endpoint.
type HTTPForwarder struct {
	url    string
	client *http.Client
}

// NewHTTPForwarder creates a forwarder for url. A nil client gets a plain
// 5s-timeout client; it must not route through a call interceptor, since a
// failing collector would otherwise feed CRITICAL events back into itself.
func NewHTTPForwarder(url string, client *http.Client) *HTTPForwarder {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &HTTPForwarder{url: url, client: client}
}

// Forward sends one event. Non-2xx responses are errors.
func (f *HTTPForwarder) Forward(ctx context.Context, event model.DiagnosticEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("collector responded %d", resp.StatusCode)
	}
	return nil
}

// ForwarderFunc adapts a function to model.EventForwarder.
type ForwarderFunc func(ctx context.Context, event model.DiagnosticEvent) error

func (f ForwarderFunc) Forward(ctx context.Context, event model.DiagnosticEvent) error {
	return f(ctx, event)
}
