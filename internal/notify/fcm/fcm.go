// Package fcm pushes alert lifecycle events to dispatcher devices via
// Firebase Cloud Messaging topics.
package fcm

import (
	"context"
	"fmt"
	"strings"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	"github.com/linnemanlabs/warden/internal/workflow"
)

// DefaultTopic is the broadcast topic dispatcher apps subscribe to.
const DefaultTopic = "warden-dispatchers"

const maxBodyLen = 240

// Notifier publishes events to FCM topics. Most kinds broadcast to the
// base topic; assignment events go to the assigned dispatcher's own topic
// so only their devices ring.
type Notifier struct {
	client *messaging.Client
	topic  string
}

// New initializes the Firebase messaging client from a service account
// credentials file. An empty topic falls back to DefaultTopic.
func New(ctx context.Context, credentialsFile, topic string) (*Notifier, error) {
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("fcm: init app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("fcm: init messaging: %w", err)
	}
	if topic == "" {
		topic = DefaultTopic
	}
	return &Notifier{client: client, topic: topic}, nil
}

// Name identifies the sink in logs and metrics.
func (n *Notifier) Name() string { return "fcm" }

// Send publishes the event to its topic.
func (n *Notifier) Send(ctx context.Context, ev *workflow.Event) error {
	if _, err := n.client.Send(ctx, buildMessage(n.topic, ev)); err != nil {
		return fmt.Errorf("fcm: send: %w", err)
	}
	return nil
}

var kindTitles = map[workflow.EventKind]string{
	workflow.EventCreated:   "New alert",
	workflow.EventAssigned:  "Alert assigned to you",
	workflow.EventReviewed:  "Alert reviewed",
	workflow.EventEscalated: "Alert escalated",
	workflow.EventResolved:  "Alert resolved",
}

func buildMessage(topic string, ev *workflow.Event) *messaging.Message {
	a := ev.Alert
	if ev.Kind == workflow.EventAssigned && a.AssignedTo != "" {
		topic = topic + "." + a.AssignedTo
	}

	title := kindTitles[ev.Kind]
	if title == "" {
		title = "Alert update"
	}
	title = fmt.Sprintf("[%s] %s", strings.ToUpper(string(a.Priority)), title)

	body := fmt.Sprintf("%s for %s", a.Type, a.SubjectID)
	if ev.Brief != "" {
		body = truncate(ev.Brief, maxBodyLen)
	}

	msg := &messaging.Message{
		Topic: topic,
		Notification: &messaging.Notification{
			Title: title,
			Body:  body,
		},
		Data: map[string]string{
			"alert_id":   a.ID,
			"kind":       string(ev.Kind),
			"alert_type": a.Type,
			"priority":   string(a.Priority),
			"status":     string(a.Status),
		},
	}

	// Critical and escalated alerts must break through silenced phones.
	if a.Priority == workflow.PriorityCritical || ev.Kind == workflow.EventEscalated {
		msg.Android = &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				Sound:        "default",
				ChannelID:    "warden_alerts",
				Priority:     messaging.PriorityHigh,
				DefaultSound: true,
			},
		}
		msg.APNS = &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{Sound: "default"},
			},
		}
	}
	return msg
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
