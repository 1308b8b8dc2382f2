package slack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/linnemanlabs/warden/internal/workflow"
)

func escalatedEvent() *workflow.Event {
	return &workflow.Event{
		Kind: workflow.EventEscalated,
		Alert: &workflow.Alert{
			ID:               "01JN123",
			SubjectID:        "resident-42",
			Type:             "fall_detected",
			Priority:         workflow.PriorityCritical,
			Status:           workflow.StatusEscalated,
			EscalationReason: "Auto-escalated due to timeout",
			CreatedAt:        time.Date(2026, 2, 26, 14, 23, 0, 0, time.UTC),
		},
		Brief: "Resident fell in room 204; no response for 5 minutes.",
	}
}

func TestSend_PostsToWebhook(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content-type = %q, want application/json", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(srv.URL)
	if err := n.Send(context.Background(), escalatedEvent()); err != nil {
		t.Fatalf("Send: %v", err)
	}

	blocks, ok := got["blocks"].([]any)
	if !ok {
		t.Fatal("expected blocks array in payload")
	}

	// header, divider, fields, divider, body, divider, context = 7 blocks
	if len(blocks) != 7 {
		t.Errorf("blocks count = %d, want 7", len(blocks))
	}

	// Verify header carries the alert type and the escalation emoji
	header := blocks[0].(map[string]any)
	headerText := header["text"].(map[string]any)["text"].(string)
	if !strings.Contains(headerText, "fall_detected") {
		t.Errorf("header text = %q, want to contain fall_detected", headerText)
	}
	if !strings.Contains(headerText, "Alert Escalated") {
		t.Errorf("header text = %q, want to contain Alert Escalated", headerText)
	}
	if !strings.Contains(headerText, "\U0001f534") {
		t.Errorf("header should contain red circle for escalation")
	}

	// The brief rides in the body section
	body := blocks[4].(map[string]any)
	bodyText := body["text"].(map[string]any)["text"].(string)
	if !strings.Contains(bodyText, "room 204") {
		t.Errorf("body text = %q, want to contain the brief", bodyText)
	}
}

func TestSend_NoOpWithoutURL(t *testing.T) {
	t.Parallel()

	n := New("")
	if err := n.Send(context.Background(), escalatedEvent()); err != nil {
		t.Fatalf("Send with empty URL should be no-op, got: %v", err)
	}
}

func TestSend_TruncatesLongBrief(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ev := escalatedEvent()
	ev.Brief = strings.Repeat("x", 4000)

	n := New(srv.URL)
	if err := n.Send(context.Background(), ev); err != nil {
		t.Fatalf("Send: %v", err)
	}

	blocks := got["blocks"].([]any)
	body := blocks[4].(map[string]any)
	text := body["text"].(map[string]any)["text"].(string)

	// Text includes the "*Details*\n\n" prefix, so the brief portion is what
	// follows and should be truncated to maxBodyLen chars.
	if len(text) > maxBodyLen+len("*Details*\n\n") {
		t.Errorf("body text length = %d, expected <= %d", len(text), maxBodyLen+len("*Details*\n\n"))
	}
	if !strings.HasSuffix(text, "...") {
		t.Error("expected truncated brief to end with ...")
	}
}

func TestKindEmoji(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		kind     workflow.EventKind
		priority workflow.Priority
		want     string
	}{
		{"escalated", workflow.EventEscalated, workflow.PriorityLow, "\U0001f534"},
		{"critical", workflow.EventCreated, workflow.PriorityCritical, "\U0001f534"},
		{"high", workflow.EventCreated, workflow.PriorityHigh, "\U0001f7e1"},
		{"medium", workflow.EventReviewed, workflow.PriorityMedium, "\U0001f7e2"},
		{"low", workflow.EventResolved, workflow.PriorityLow, "\U0001f7e2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := kindEmoji(tt.kind, tt.priority)
			if got != tt.want {
				t.Errorf("kindEmoji(%q, %q) = %q, want %q", tt.kind, tt.priority, got, tt.want)
			}
		})
	}
}

func FuzzSlackBuild(f *testing.F) {
	f.Add("fall_detected", "critical", "Resident down in the hallway.", "disp-7")
	f.Add("", "", "", "")
	f.Add("<@U123> mention", "high", "*bold* _italic_ ~strike~", "disp 2")
	f.Add("alert\x00\x01\x02", "pri\nline", "notes\ttab", "d\x00isp")
	f.Add(strings.Repeat("A", 5000), "critical", strings.Repeat("x", 10000), "disp")
	f.Add("wander_detection", "low", "```code block``` and <http://example.com|link>", "disp-9")

	f.Fuzz(func(t *testing.T, alertType, priority, notes, assignedTo string) {
		ev := &workflow.Event{
			Kind: workflow.EventReviewed,
			Alert: &workflow.Alert{
				ID:         "fuzz-id",
				SubjectID:  "subject-1",
				Type:       alertType,
				Priority:   workflow.Priority(priority),
				Status:     workflow.StatusConfirmed,
				AssignedTo: assignedTo,
				Notes:      notes,
				CreatedAt:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			},
		}

		// Must not panic
		msg := buildMessage(ev)

		// Must produce valid JSON
		data, err := json.Marshal(msg)
		if err != nil {
			t.Fatalf("buildMessage produced non-marshalable output: %v", err)
		}

		// Must round-trip
		var decoded map[string]any
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("buildMessage JSON does not round-trip: %v", err)
		}

		blocks, ok := decoded["blocks"].([]any)
		if !ok {
			t.Fatal("expected blocks array")
		}
		if len(blocks) != 7 {
			t.Fatalf("blocks count = %d, want 7", len(blocks))
		}
	})
}

func TestSend_NonOKStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("internal error"))
	}))
	defer srv.Close()

	n := New(srv.URL)
	err := n.Send(context.Background(), escalatedEvent())
	if err == nil {
		t.Fatal("expected error on non-OK status")
	}
	if !strings.Contains(err.Error(), "500") {
		t.Errorf("error = %q, want to contain status code 500", err.Error())
	}
}
