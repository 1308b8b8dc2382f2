package workflow

import (
	"encoding/json"
	"time"
)

// Status tracks where an alert is in its review lifecycle.
type Status string

const (
	// StatusPending means created, not yet claimed by a dispatcher
	StatusPending Status = "pending"

	// StatusReviewing means assigned to a dispatcher and under review
	StatusReviewing Status = "reviewing"

	// StatusConfirmed means a dispatcher confirmed the incident
	StatusConfirmed Status = "confirmed"

	// StatusRejected means a dispatcher dismissed the incident
	StatusRejected Status = "rejected"

	// StatusEscalated means forced to higher attention, by a reviewer or by timeout
	StatusEscalated Status = "escalated"

	// StatusResolved means closed out; terminal
	StatusResolved Status = "resolved"
)

// transitions is the closed transition table. Status changes happen only
// through CompareAndUpdate keyed on the expected source status, so a row
// here is the complete set of legal targets from that source.
var transitions = map[Status][]Status{
	StatusPending:   {StatusReviewing, StatusEscalated},
	StatusReviewing: {StatusConfirmed, StatusRejected, StatusEscalated},
	StatusConfirmed: {StatusResolved},
	StatusRejected:  {StatusResolved},
	StatusEscalated: {StatusResolved},
	StatusResolved:  {},
}

// Valid reports whether s is one of the recognized statuses.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal reports whether an alert in this status is never mutated again.
func (s Status) Terminal() bool { return s == StatusResolved }

// CanTransition reports whether the transition table allows from -> to.
func CanTransition(from, to Status) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Priority is the urgency class attached to an alert at creation.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Valid reports whether p is one of the recognized priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// Decision is a reviewer's disposition. Each decision moves the alert into
// the status of the same name.
type Decision string

const (
	DecisionConfirmed Decision = "confirmed"
	DecisionRejected  Decision = "rejected"
	DecisionEscalated Decision = "escalated"
)

// Valid reports whether d is one of the recognized decisions.
func (d Decision) Valid() bool {
	switch d {
	case DecisionConfirmed, DecisionRejected, DecisionEscalated:
		return true
	}
	return false
}

// Status returns the alert status a decision resolves to.
func (d Decision) Status() Status { return Status(d) }

// Alert is one admitted, deduplicated incident requiring human disposition.
// ID and CreatedAt are immutable; AutoEscalateAt is fixed at creation and
// never recomputed. Review fields (ReviewedBy, ReviewedAt, ConfidenceScore,
// Decision, Notes) are written exactly once, at review time.
type Alert struct {
	ID               string          `json:"id"`
	SubjectID        string          `json:"subject_id"`
	Type             string          `json:"alert_type"`
	Priority         Priority        `json:"priority"`
	Status           Status          `json:"status"`
	Location         json.RawMessage `json:"location,omitempty"`
	EvidenceRef      string          `json:"evidence_ref,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	AutoEscalateAt   time.Time       `json:"auto_escalate_at"`
	AssignedTo       string          `json:"assigned_to,omitempty"`
	ReviewedBy       string          `json:"reviewed_by,omitempty"`
	ReviewedAt       time.Time       `json:"reviewed_at,omitzero"`
	ConfidenceScore  float64         `json:"confidence_score,omitempty"`
	Decision         Decision        `json:"decision,omitempty"`
	Notes            string          `json:"notes,omitempty"`
	EscalationReason string          `json:"escalation_reason,omitempty"`
	ResolutionNotes  string          `json:"resolution_notes,omitempty"`
}

// AssignmentStatus tracks the lifecycle of one dispatcher assignment row.
type AssignmentStatus string

const (
	// AssignmentActive is the single live assignment for an alert
	AssignmentActive AssignmentStatus = "assigned"

	// AssignmentReviewed means the dispatcher completed their review
	AssignmentReviewed AssignmentStatus = "reviewed"

	// AssignmentSuperseded means a newer assignment replaced this one
	AssignmentSuperseded AssignmentStatus = "superseded"
)

// Assignment joins an alert to the dispatcher responsible for it. An alert
// has at most one active assignment; creating a new one supersedes the rest.
type Assignment struct {
	ID           string           `json:"id"`
	AlertID      string           `json:"alert_id"`
	DispatcherID string           `json:"dispatcher_id"`
	AssignedAt   time.Time        `json:"assigned_at"`
	Status       AssignmentStatus `json:"status"`
}

// Evidence is a pointer to captured material (clip, snapshot, sensor dump)
// backing an alert. Rows are pruned by the retention job; alerts are not.
type Evidence struct {
	ID        string          `json:"id"`
	AlertID   string          `json:"alert_id"`
	Kind      string          `json:"kind"`
	Path      string          `json:"path"`
	Meta      json.RawMessage `json:"meta,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// InboxEntry is an alert as seen from a dispatcher's queue, annotated with
// the minutes left before the escalation watchdog takes it away.
type InboxEntry struct {
	Alert
	TimeRemainingMinutes int `json:"time_remaining_minutes"`
}

// Statistics is a read-only rollup over a trailing window.
type Statistics struct {
	WindowHours       int              `json:"window_hours"`
	Total             int              `json:"total"`
	ByStatus          map[Status]int   `json:"by_status"`
	ByPriority        map[Priority]int `json:"by_priority"`
	ReviewedCount     int              `json:"reviewed_count"`
	MeanReviewMinutes float64          `json:"mean_review_minutes"`
}
