// Package webhook posts alert lifecycle events as JSON to an HTTP endpoint.
//
// The payload is the raw event envelope, for downstream systems that want
// the whole alert rather than a rendered message.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/linnemanlabs/warden/internal/workflow"
)

const httpTimeout = 10 * time.Second

// Notifier sends lifecycle events to a generic webhook.
type Notifier struct {
	url    string
	token  string
	client *http.Client
}

// New creates a webhook notifier. If url is empty, Send is a no-op. A
// non-empty token is sent as a bearer Authorization header.
func New(url, token string) *Notifier {
	return &Notifier{
		url:    url,
		token:  token,
		client: &http.Client{Timeout: httpTimeout},
	}
}

// Name identifies the sink in logs and metrics.
func (n *Notifier) Name() string { return "webhook" }

type payload struct {
	Kind  workflow.EventKind `json:"kind"`
	Alert *workflow.Alert    `json:"alert"`
	Brief string             `json:"brief,omitempty"`
	At    time.Time          `json:"at"`
}

// Send posts the event envelope to the configured endpoint.
func (n *Notifier) Send(ctx context.Context, ev *workflow.Event) error {
	if n.url == "" {
		return nil
	}

	body, err := json.Marshal(payload{
		Kind:  ev.Kind,
		Alert: ev.Alert,
		Brief: ev.Brief,
		At:    time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("webhook: marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if n.token != "" {
		req.Header.Set("Authorization", "Bearer "+n.token)
	}

	resp, err := n.client.Do(req) //nolint:gosec // G704: url is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("webhook: post event: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook: endpoint returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}
