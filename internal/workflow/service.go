package workflow

import (
	"context"
	"encoding/json"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"
)

// AutoEscalateReason is the escalation reason recorded by the watchdog
// sweep. Downstream consumers match on it, so it never changes.
const AutoEscalateReason = "Auto-escalated due to timeout"

// DefaultEscalateAfter is how long an alert may sit pending before the
// watchdog escalates it, unless configured otherwise.
const DefaultEscalateAfter = 5 * time.Minute

const briefTimeout = 30 * time.Second

// Signal is a detection event offered for admission. Priority is already
// derived by the producer; the service does not second-guess it.
type Signal struct {
	ID          string          `json:"id"`
	SubjectID   string          `json:"subject_id"`
	Type        string          `json:"type"`
	Priority    Priority        `json:"priority"`
	Confidence  float64         `json:"confidence"`
	SourceID    string          `json:"source_id,omitempty"`
	Location    json.RawMessage `json:"location,omitempty"`
	EvidenceRef string          `json:"evidence_ref,omitempty"`
	Timestamp   time.Time       `json:"timestamp,omitzero"`
}

// IngestResult is the outcome of offering a signal for admission.
type IngestResult struct {
	AlertID    string `json:"alert_id,omitempty"`
	Suppressed bool   `json:"suppressed"`
	Reason     string `json:"reason,omitempty"`
}

// CreateParams are the caller-supplied fields of a new alert.
type CreateParams struct {
	SubjectID   string          `json:"subject_id"`
	Type        string          `json:"alert_type"`
	Priority    Priority        `json:"priority"`
	Location    json.RawMessage `json:"location,omitempty"`
	EvidenceRef string          `json:"evidence_ref,omitempty"`
}

// ReviewParams are the fields of a dispatcher's review submission.
type ReviewParams struct {
	AlertID      string   `json:"-"`
	DispatcherID string   `json:"dispatcher_id"`
	Decision     Decision `json:"decision"`
	Confidence   float64  `json:"confidence"`
	Notes        string   `json:"notes,omitempty"`
}

// AdmissionGate decides whether a detection signal may create an alert.
// The key scopes the cooldown; the empty key is the global scope.
type AdmissionGate interface {
	Admit(ctx context.Context, key string) (bool, error)
}

// Briefer composes a short situation brief for an escalated alert.
type Briefer interface {
	Compose(ctx context.Context, a *Alert) (string, error)
}

// EventKind names a lifecycle moment worth telling humans about.
type EventKind string

const (
	EventCreated   EventKind = "created"
	EventAssigned  EventKind = "assigned"
	EventReviewed  EventKind = "reviewed"
	EventEscalated EventKind = "escalated"
	EventResolved  EventKind = "resolved"
)

// Event is a lifecycle notification. Brief is set only on escalations,
// and only when a Briefer is configured and answered in time.
type Event struct {
	Kind  EventKind
	Alert *Alert
	Brief string
}

// Notifier delivers lifecycle events to external sinks. Delivery is best
// effort; a failing notifier never fails the transition that produced
// the event.
type Notifier interface {
	Send(ctx context.Context, ev *Event) error
}

// Options tunes service behavior.
type Options struct {
	// EscalateAfter is the pending-review deadline applied to new
	// alerts. Defaults to DefaultEscalateAfter.
	EscalateAfter time.Duration

	// MaxPending is the advisory pending backlog limit; exceeding it
	// logs and counts but never blocks creation. Zero disables the
	// check.
	MaxPending int

	// PerSourceCooldown scopes the admission gate by signal source
	// instead of globally.
	PerSourceCooldown bool

	// Roster, when set, auto-assigns new alerts round-robin.
	Roster *Roster

	// Briefer, when set, composes a situation brief attached to
	// escalation notifications.
	Briefer Briefer
}

// Service is the business boundary for the alert workflow. All status
// changes funnel through the store's CompareAndUpdate, so concurrent
// dispatchers and the watchdog can race freely: exactly one writer wins
// and the rest observe a false updated flag.
type Service struct {
	store    Store
	gate     AdmissionGate
	logger   log.Logger
	metrics  *Metrics
	notifier Notifier
	opts     Options

	now func() time.Time
}

// NewService creates a new workflow service. The gate, metrics, and
// notifier may be nil; a nil gate admits everything.
func NewService(store Store, gate AdmissionGate, logger log.Logger, metrics *Metrics, notifier Notifier, opts Options) *Service {
	if logger == nil {
		logger = log.Nop()
	}
	if opts.EscalateAfter <= 0 {
		opts.EscalateAfter = DefaultEscalateAfter
	}
	return &Service{
		store:    store,
		gate:     gate,
		logger:   logger,
		metrics:  metrics,
		notifier: notifier,
		opts:     opts,
		now:      time.Now,
	}
}

// IngestSignal offers a detection signal for admission. Suppressed
// signals are dropped silently; admitted ones become pending alerts. A
// gate backend failure admits the signal rather than losing it.
func (s *Service) IngestSignal(ctx context.Context, sig *Signal) (*IngestResult, error) {
	if sig == nil {
		return nil, &ValidationError{Reason: "signal is required"}
	}
	if sig.Type == "" {
		return nil, &ValidationError{Field: "type", Reason: "must not be empty"}
	}
	if sig.SubjectID == "" {
		return nil, &ValidationError{Field: "subject_id", Reason: "must not be empty"}
	}
	if !sig.Priority.Valid() {
		return nil, &ValidationError{Field: "priority", Reason: "unrecognized value " + string(sig.Priority)}
	}
	if sig.Confidence < 0 || sig.Confidence > 1 {
		return nil, &ValidationError{Field: "confidence", Reason: "must be within [0, 1]"}
	}

	key := ""
	if s.opts.PerSourceCooldown {
		key = sig.SourceID
	}
	if s.gate != nil {
		admitted, err := s.gate.Admit(ctx, key)
		if err != nil {
			s.logger.Warn(ctx, "admission gate unavailable, admitting signal", "signal_id", sig.ID, "error", err)
			s.countSignal("gate_error")
		} else if !admitted {
			s.countSignal("suppressed")
			s.logger.Info(ctx, "signal suppressed by cooldown", "signal_id", sig.ID, "type", sig.Type, "source_id", sig.SourceID)
			return &IngestResult{Suppressed: true, Reason: "cooldown window"}, nil
		}
	}
	s.countSignal("admitted")

	a, err := s.CreateAlert(ctx, CreateParams{
		SubjectID:   sig.SubjectID,
		Type:        sig.Type,
		Priority:    sig.Priority,
		Location:    sig.Location,
		EvidenceRef: sig.EvidenceRef,
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "signal admitted", "signal_id", sig.ID, "alert_id", a.ID, "type", sig.Type, "confidence", sig.Confidence)
	return &IngestResult{AlertID: a.ID}, nil
}

// CreateAlert validates the params and persists a new pending alert. The
// auto-escalation deadline is fixed here and never recomputed.
func (s *Service) CreateAlert(ctx context.Context, p CreateParams) (*Alert, error) {
	if p.SubjectID == "" {
		return nil, &ValidationError{Field: "subject_id", Reason: "must not be empty"}
	}
	if p.Type == "" {
		return nil, &ValidationError{Field: "alert_type", Reason: "must not be empty"}
	}
	if !p.Priority.Valid() {
		return nil, &ValidationError{Field: "priority", Reason: "unrecognized value " + string(p.Priority)}
	}
	if len(p.Location) > 0 && !json.Valid(p.Location) {
		return nil, &ValidationError{Field: "location", Reason: "must be valid JSON"}
	}

	now := s.now()
	a := &Alert{
		ID:             ulid.Make().String(),
		SubjectID:      p.SubjectID,
		Type:           p.Type,
		Priority:       p.Priority,
		Status:         StatusPending,
		Location:       p.Location,
		EvidenceRef:    p.EvidenceRef,
		CreatedAt:      now,
		AutoEscalateAt: now.Add(s.opts.EscalateAfter),
	}
	if err := s.store.Create(ctx, a); err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.AlertsTotal.WithLabelValues(a.Type, string(a.Priority)).Inc()
	}
	s.logger.Info(ctx, "alert created",
		"alert_id", a.ID,
		"subject_id", a.SubjectID,
		"type", a.Type,
		"priority", string(a.Priority),
		"auto_escalate_at", a.AutoEscalateAt,
	)
	s.checkBacklog(ctx)
	s.dispatchEvent(ctx, EventCreated, a)

	if s.opts.Roster != nil {
		dispatcherID := s.opts.Roster.Next()
		if ok, err := s.AssignToDispatcher(ctx, a.ID, dispatcherID); err != nil {
			s.logger.Warn(ctx, "auto-assignment failed", "alert_id", a.ID, "dispatcher_id", dispatcherID, "error", err)
		} else if ok {
			if fresh, found, err := s.store.Get(ctx, a.ID); err == nil && found {
				a = fresh
			}
		}
	}

	return a, nil
}

// AssignToDispatcher claims a pending alert for a dispatcher. Returns
// false without mutating anything when the alert was already claimed,
// escalated, or otherwise left pending.
func (s *Service) AssignToDispatcher(ctx context.Context, alertID, dispatcherID string) (bool, error) {
	if alertID == "" {
		return false, &ValidationError{Field: "alert_id", Reason: "must not be empty"}
	}
	if dispatcherID == "" {
		return false, &ValidationError{Field: "dispatcher_id", Reason: "must not be empty"}
	}
	if _, ok, err := s.store.Get(ctx, alertID); err != nil {
		return false, err
	} else if !ok {
		return false, &NotFoundError{AlertID: alertID}
	}

	now := s.now()
	updated, applied, err := s.store.CompareAndUpdate(ctx, alertID, StatusPending, func(a *Alert) {
		a.Status = StatusReviewing
		a.AssignedTo = dispatcherID
	})
	if err != nil {
		return false, err
	}
	if !applied {
		return false, nil
	}

	// The status transition is authoritative; the assignment row is
	// inbox bookkeeping and must not fail the claim.
	if err := s.store.CreateAssignment(ctx, &Assignment{
		ID:           ulid.Make().String(),
		AlertID:      alertID,
		DispatcherID: dispatcherID,
		AssignedAt:   now,
		Status:       AssignmentActive,
	}); err != nil {
		s.logger.Error(ctx, err, "failed to record assignment", "alert_id", alertID, "dispatcher_id", dispatcherID)
	}

	s.countTransition(StatusReviewing, "dispatcher")
	s.logger.Info(ctx, "alert assigned", "alert_id", alertID, "dispatcher_id", dispatcherID)
	s.dispatchEvent(ctx, EventAssigned, updated)
	return true, nil
}

// GetDispatcherInbox returns the dispatcher's active alerts, newest
// first, each annotated with the whole minutes left on its escalation
// clock. Decided and resolved alerts never appear.
func (s *Service) GetDispatcherInbox(ctx context.Context, dispatcherID string) ([]*InboxEntry, error) {
	if dispatcherID == "" {
		return nil, &ValidationError{Field: "dispatcher_id", Reason: "must not be empty"}
	}
	alerts, err := s.store.ListByDispatcher(ctx, dispatcherID, []Status{StatusPending, StatusReviewing})
	if err != nil {
		return nil, err
	}
	now := s.now()
	entries := make([]*InboxEntry, 0, len(alerts))
	for _, a := range alerts {
		entries = append(entries, &InboxEntry{
			Alert:                *a,
			TimeRemainingMinutes: minutesUntil(a.AutoEscalateAt, now),
		})
	}
	return entries, nil
}

// ReviewAlert records a dispatcher's decision on an alert under review.
// Returns false without mutating anything when the alert is not in
// reviewing status, such as after a concurrent auto-escalation.
func (s *Service) ReviewAlert(ctx context.Context, p ReviewParams) (bool, error) {
	if p.AlertID == "" {
		return false, &ValidationError{Field: "alert_id", Reason: "must not be empty"}
	}
	if p.DispatcherID == "" {
		return false, &ValidationError{Field: "dispatcher_id", Reason: "must not be empty"}
	}
	if !p.Decision.Valid() {
		return false, &ValidationError{Field: "decision", Reason: "unrecognized value " + string(p.Decision)}
	}
	if p.Confidence < 0 || p.Confidence > 1 {
		return false, &ValidationError{Field: "confidence", Reason: "must be within [0, 1]"}
	}
	if _, ok, err := s.store.Get(ctx, p.AlertID); err != nil {
		return false, err
	} else if !ok {
		return false, &NotFoundError{AlertID: p.AlertID}
	}

	now := s.now()
	updated, applied, err := s.store.CompareAndUpdate(ctx, p.AlertID, StatusReviewing, func(a *Alert) {
		a.Status = p.Decision.Status()
		a.ReviewedBy = p.DispatcherID
		a.ReviewedAt = now
		a.ConfidenceScore = p.Confidence
		a.Decision = p.Decision
		a.Notes = p.Notes
		if p.Decision == DecisionEscalated {
			a.EscalationReason = "Escalated by reviewer"
		}
	})
	if err != nil {
		return false, err
	}
	if !applied {
		return false, nil
	}

	if err := s.store.MarkAssignmentReviewed(ctx, p.AlertID, p.DispatcherID); err != nil {
		s.logger.Error(ctx, err, "failed to close assignment", "alert_id", p.AlertID, "dispatcher_id", p.DispatcherID)
	}

	s.countTransition(updated.Status, "dispatcher")
	if s.metrics != nil {
		s.metrics.ReviewLatency.Observe(updated.ReviewedAt.Sub(updated.CreatedAt).Seconds())
	}
	s.logger.Info(ctx, "alert reviewed",
		"alert_id", p.AlertID,
		"dispatcher_id", p.DispatcherID,
		"decision", string(p.Decision),
		"confidence", p.Confidence,
	)
	kind := EventReviewed
	if p.Decision == DecisionEscalated {
		kind = EventEscalated
	}
	s.dispatchEvent(ctx, kind, updated)
	return true, nil
}

// EscalateAlert forces an alert to escalated status out of pending or
// reviewing. Returns false when the alert is already decided.
func (s *Service) EscalateAlert(ctx context.Context, alertID, reason string) (bool, error) {
	if alertID == "" {
		return false, &ValidationError{Field: "alert_id", Reason: "must not be empty"}
	}
	if reason == "" {
		reason = "Escalated manually"
	}

	// Two attempts: the status may legally move once underneath us
	// (pending -> reviewing) while still allowing escalation.
	for range 2 {
		a, ok, err := s.store.Get(ctx, alertID)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, &NotFoundError{AlertID: alertID}
		}
		if !CanTransition(a.Status, StatusEscalated) {
			return false, nil
		}
		updated, applied, err := s.store.CompareAndUpdate(ctx, alertID, a.Status, func(al *Alert) {
			al.Status = StatusEscalated
			al.EscalationReason = reason
		})
		if err != nil {
			return false, err
		}
		if applied {
			s.countTransition(StatusEscalated, "manual")
			s.logger.Info(ctx, "alert escalated", "alert_id", alertID, "reason", reason)
			s.dispatchEvent(ctx, EventEscalated, updated)
			return true, nil
		}
	}
	return false, nil
}

// ResolveAlert closes a decided alert. Returns false when the alert is
// still undecided or already resolved.
func (s *Service) ResolveAlert(ctx context.Context, alertID, notes string) (bool, error) {
	if alertID == "" {
		return false, &ValidationError{Field: "alert_id", Reason: "must not be empty"}
	}

	for range 2 {
		a, ok, err := s.store.Get(ctx, alertID)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, &NotFoundError{AlertID: alertID}
		}
		if !CanTransition(a.Status, StatusResolved) {
			return false, nil
		}
		updated, applied, err := s.store.CompareAndUpdate(ctx, alertID, a.Status, func(al *Alert) {
			al.Status = StatusResolved
			al.ResolutionNotes = notes
		})
		if err != nil {
			return false, err
		}
		if applied {
			s.countTransition(StatusResolved, "dispatcher")
			s.logger.Info(ctx, "alert resolved", "alert_id", alertID)
			s.dispatchEvent(ctx, EventResolved, updated)
			return true, nil
		}
	}
	return false, nil
}

// GetAlertDetails returns an alert and its attached evidence.
func (s *Service) GetAlertDetails(ctx context.Context, alertID string) (*Alert, []*Evidence, error) {
	a, ok, err := s.store.Get(ctx, alertID)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, &NotFoundError{AlertID: alertID}
	}
	evidence, err := s.store.ListEvidence(ctx, alertID)
	if err != nil {
		return nil, nil, err
	}
	return a, evidence, nil
}

// AttachEvidence records a pointer to captured material on an alert. A
// resolved alert is closed to new evidence.
func (s *Service) AttachEvidence(ctx context.Context, alertID, kind, path string, meta json.RawMessage) (*Evidence, error) {
	if alertID == "" {
		return nil, &ValidationError{Field: "alert_id", Reason: "must not be empty"}
	}
	if kind == "" {
		return nil, &ValidationError{Field: "kind", Reason: "must not be empty"}
	}
	if path == "" {
		return nil, &ValidationError{Field: "path", Reason: "must not be empty"}
	}
	if len(meta) > 0 && !json.Valid(meta) {
		return nil, &ValidationError{Field: "meta", Reason: "must be valid JSON"}
	}
	a, ok, err := s.store.Get(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &NotFoundError{AlertID: alertID}
	}
	if a.Status == StatusResolved {
		return nil, &ConflictError{AlertID: alertID, Reason: "resolved alerts accept no new evidence"}
	}

	ev := &Evidence{
		ID:        ulid.Make().String(),
		AlertID:   alertID,
		Kind:      kind,
		Path:      path,
		Meta:      meta,
		CreatedAt: s.now(),
	}
	if err := s.store.AddEvidence(ctx, ev); err != nil {
		return nil, err
	}
	return ev, nil
}

// ListEvidence returns an alert's evidence, oldest first.
func (s *Service) ListEvidence(ctx context.Context, alertID string) ([]*Evidence, error) {
	if _, ok, err := s.store.Get(ctx, alertID); err != nil {
		return nil, err
	} else if !ok {
		return nil, &NotFoundError{AlertID: alertID}
	}
	return s.store.ListEvidence(ctx, alertID)
}

// statsWindow is the trailing window GetWorkflowStatistics reports over.
const statsWindow = 24 * time.Hour

// GetWorkflowStatistics aggregates alert counts and review latency over
// the trailing window. Zero counts are reported explicitly so consumers
// see the full enum.
func (s *Service) GetWorkflowStatistics(ctx context.Context) (*Statistics, error) {
	now := s.now()
	alerts, err := s.store.ListCreatedSince(ctx, now.Add(-statsWindow))
	if err != nil {
		return nil, err
	}

	st := &Statistics{
		WindowHours: int(statsWindow / time.Hour),
		ByStatus: map[Status]int{
			StatusPending:   0,
			StatusReviewing: 0,
			StatusConfirmed: 0,
			StatusRejected:  0,
			StatusEscalated: 0,
			StatusResolved:  0,
		},
		ByPriority: map[Priority]int{
			PriorityLow:      0,
			PriorityMedium:   0,
			PriorityHigh:     0,
			PriorityCritical: 0,
		},
	}
	var reviewMinutes float64
	for _, a := range alerts {
		st.Total++
		st.ByStatus[a.Status]++
		st.ByPriority[a.Priority]++
		if !a.ReviewedAt.IsZero() {
			st.ReviewedCount++
			reviewMinutes += a.ReviewedAt.Sub(a.CreatedAt).Minutes()
		}
	}
	if st.ReviewedCount > 0 {
		st.MeanReviewMinutes = reviewMinutes / float64(st.ReviewedCount)
	}
	return st, nil
}

// RunEscalationSweep escalates every pending alert whose deadline has
// passed, recording the canonical reason. Alerts claimed between the
// list and the update are skipped; failed updates are left for the next
// sweep rather than retried.
func (s *Service) RunEscalationSweep(ctx context.Context) (int, error) {
	sweepStart := time.Now()
	now := s.now()
	overdue, err := s.store.ListOverdue(ctx, now)
	if err != nil {
		return 0, err
	}

	escalated := 0
	for _, a := range overdue {
		updated, applied, err := s.store.CompareAndUpdate(ctx, a.ID, StatusPending, func(al *Alert) {
			al.Status = StatusEscalated
			al.EscalationReason = AutoEscalateReason
		})
		if err != nil {
			s.logger.Error(ctx, err, "sweep escalation failed", "alert_id", a.ID)
			continue
		}
		if !applied {
			continue
		}
		escalated++
		s.countTransition(StatusEscalated, "watchdog")
		s.logger.Warn(ctx, "alert auto-escalated",
			"alert_id", a.ID,
			"subject_id", a.SubjectID,
			"priority", string(a.Priority),
			"pending_for", now.Sub(a.CreatedAt).String(),
		)
		s.dispatchEvent(ctx, EventEscalated, updated)
	}

	if s.metrics != nil {
		s.metrics.SweepDuration.Observe(time.Since(sweepStart).Seconds())
		s.metrics.SweepEscalations.Observe(float64(escalated))
	}
	return escalated, nil
}

func (s *Service) checkBacklog(ctx context.Context) {
	if s.opts.MaxPending <= 0 {
		return
	}
	n, err := s.store.CountPending(ctx)
	if err != nil {
		return
	}
	if n > s.opts.MaxPending {
		s.logger.Warn(ctx, "pending backlog over limit", "pending", n, "limit", s.opts.MaxPending)
		if s.metrics != nil {
			s.metrics.PendingOverflowTotal.Inc()
		}
	}
}

func (s *Service) countSignal(result string) {
	if s.metrics != nil {
		s.metrics.SignalsTotal.WithLabelValues(result).Inc()
	}
}

func (s *Service) countTransition(to Status, trigger string) {
	if s.metrics != nil {
		s.metrics.TransitionsTotal.WithLabelValues(string(to), trigger).Inc()
	}
}

func (s *Service) dispatchEvent(ctx context.Context, kind EventKind, a *Alert) {
	if s.notifier == nil {
		return
	}
	cp := *a
	// deliver async - pass a copy to avoid sharing the alert pointer.
	go s.deliver(context.WithoutCancel(ctx), kind, &cp)
}

func (s *Service) deliver(ctx context.Context, kind EventKind, a *Alert) {
	ev := &Event{Kind: kind, Alert: a}
	if kind == EventEscalated && s.opts.Briefer != nil {
		bctx, cancel := context.WithTimeout(ctx, briefTimeout)
		brief, err := s.opts.Briefer.Compose(bctx, a)
		cancel()
		if err != nil {
			s.logger.Warn(ctx, "situation brief unavailable", "alert_id", a.ID, "error", err)
		} else {
			ev.Brief = brief
		}
	}
	if err := s.notifier.Send(ctx, ev); err != nil {
		s.logger.Warn(ctx, "notification delivery failed", "kind", string(kind), "alert_id", a.ID, "error", err)
	}
}

// minutesUntil reports whole minutes from now until t, rounded up and
// floored at zero.
func minutesUntil(t, now time.Time) int {
	d := t.Sub(now)
	if d <= 0 {
		return 0
	}
	return int((d + time.Minute - 1) / time.Minute)
}
