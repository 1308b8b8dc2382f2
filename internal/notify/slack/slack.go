// Package slack posts alert lifecycle events to Slack via incoming webhooks.
package slack

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

const (
	maxBodyLen  = 3000
	httpTimeout = 10 * time.Second
)

// Notifier sends lifecycle events to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
}

// New creates a new Slack notifier. If webhookURL is empty, Send is a no-op.
func New(webhookURL string) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
	}
}

// Name identifies the sink in logs and metrics.
func (n *Notifier) Name() string { return "slack" }

// Send posts a lifecycle event to the configured Slack webhook.
// If no webhook URL is configured, it returns nil immediately.
func (n *Notifier) Send(ctx context.Context, ev *workflow.Event) error {
	if n.webhookURL == "" {
		return nil
	}

	msg := buildMessage(ev)

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func buildMessage(ev *workflow.Event) map[string]any {
	return map[string]any{
		"blocks": []map[string]any{
			headerBlock(ev),
			{"type": "divider"},
			fieldsBlock(ev.Alert),
			{"type": "divider"},
			bodyBlock(ev),
			{"type": "divider"},
			contextBlock(ev.Alert),
		},
	}
}

var kindTitles = map[workflow.EventKind]string{
	workflow.EventCreated:   "New Alert",
	workflow.EventAssigned:  "Alert Assigned",
	workflow.EventReviewed:  "Alert Reviewed",
	workflow.EventEscalated: "Alert Escalated",
	workflow.EventResolved:  "Alert Resolved",
}

func headerBlock(ev *workflow.Event) map[string]any {
	title := kindTitles[ev.Kind]
	if title == "" {
		title = "Alert Update"
	}
	text := fmt.Sprintf("%s %s: %s", kindEmoji(ev.Kind, ev.Alert.Priority), title, ev.Alert.Type)

	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": text,
		},
	}
}

func fieldsBlock(a *workflow.Alert) map[string]any {
	fields := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Subject:* %s", a.SubjectID),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Priority:* %s", a.Priority),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Status:* %s", a.Status),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Assigned:* %s", orDash(a.AssignedTo)),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Reviewed by:* %s", orDash(a.ReviewedBy)),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Decision:* %s", orDash(string(a.Decision))),
		},
	}

	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

// bodyBlock carries the situation brief for escalations, reviewer notes
// otherwise.
func bodyBlock(ev *workflow.Event) map[string]any {
	text := ev.Brief
	if text == "" {
		text = ev.Alert.Notes
	}
	if text == "" && ev.Alert.EscalationReason != "" {
		text = ev.Alert.EscalationReason
	}
	text = truncate(text, maxBodyLen)
	if text == "" {
		text = "_No details available._"
	}

	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Details*\n\n%s", text),
		},
	}
}

func contextBlock(a *workflow.Alert) map[string]any {
	ts := a.ReviewedAt
	if ts.IsZero() {
		ts = a.CreatedAt
	}

	elements := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("warden • alert %s • %s", a.ID, ts.UTC().Format("2006-01-02 15:04 UTC")),
		},
	}

	return map[string]any{
		"type":     "context",
		"elements": elements,
	}
}

func kindEmoji(kind workflow.EventKind, p workflow.Priority) string {
	if kind == workflow.EventEscalated {
		return "\U0001f534" // red circle
	}
	switch p {
	case workflow.PriorityCritical:
		return "\U0001f534" // red circle
	case workflow.PriorityHigh:
		return "\U0001f7e1" // yellow circle
	default:
		return "\U0001f7e2" // green circle
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
