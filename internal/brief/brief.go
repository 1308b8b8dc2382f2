// Package brief composes dispatcher-facing situation briefs for escalated
// alerts using the Anthropic API.
package brief

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/linnemanlabs/warden/internal/workflow"
)

const maxTokens = 512

const systemPrompt = `You are Warden, a safety incident assistant. You write situation briefs for emergency dispatchers handling escalated alerts.

Given the alert details, write a short brief covering:
1. What happened and where
2. Who is affected
3. Why it escalated
4. What the responder should do first

Be concise and operational. A dispatcher will read this aloud over a radio. No markdown, no preamble, three sentences or fewer.`

// Composer builds situation briefs. It satisfies the workflow Briefer
// contract.
type Composer struct {
	client anthropic.Client
	model  string
}

// New creates a Composer for the given model. Extra request options are
// passed through to the underlying client.
func New(apiKey, model string, opts ...option.RequestOption) *Composer {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &Composer{
		client: anthropic.NewClient(opts...),
		model:  model,
	}
}

// Compose renders a brief for an escalated alert.
func (c *Composer) Compose(ctx context.Context, a *workflow.Alert) (string, error) {
	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: maxTokens,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(renderAlert(a))),
		},
	})
	if err != nil {
		return "", fmt.Errorf("brief: message request: %w", err)
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", fmt.Errorf("brief: empty completion for alert %s", a.ID)
	}
	return text, nil
}

// renderAlert flattens the alert into the prompt body.
func renderAlert(a *workflow.Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Escalated alert %s\n", a.ID)
	fmt.Fprintf(&b, "Type: %s\n", a.Type)
	fmt.Fprintf(&b, "Priority: %s\n", a.Priority)
	fmt.Fprintf(&b, "Subject: %s\n", a.SubjectID)
	fmt.Fprintf(&b, "Created: %s\n", a.CreatedAt.UTC().Format(time.RFC3339))
	if len(a.Location) > 0 {
		fmt.Fprintf(&b, "Location: %s\n", a.Location)
	}
	if a.EvidenceRef != "" {
		fmt.Fprintf(&b, "Evidence: %s\n", a.EvidenceRef)
	}
	if a.AssignedTo != "" {
		fmt.Fprintf(&b, "Assigned dispatcher: %s\n", a.AssignedTo)
	}
	if a.EscalationReason != "" {
		fmt.Fprintf(&b, "Escalation reason: %s\n", a.EscalationReason)
	}
	if a.Notes != "" {
		fmt.Fprintf(&b, "Reviewer notes: %s\n", a.Notes)
	}
	b.WriteString("\nWrite the situation brief.")
	return b.String()
}
