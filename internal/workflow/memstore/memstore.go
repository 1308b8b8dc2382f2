// Package memstore provides an in-memory implementation of workflow.Store.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/linnemanlabs/warden/internal/workflow"
)

// Store holds alerts, assignments, and evidence in memory. Suitable for
// dev/testing and for single-node deployments without a database.
type Store struct {
	mu          sync.RWMutex
	alerts      map[string]*workflow.Alert        // alert ID -> alert
	assignments map[string][]*workflow.Assignment // alert ID -> assignment history
	evidence    map[string][]*workflow.Evidence   // alert ID -> evidence, append order
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		alerts:      make(map[string]*workflow.Alert),
		assignments: make(map[string][]*workflow.Assignment),
		evidence:    make(map[string][]*workflow.Evidence),
	}
}

// Create stores a copy of the alert. The ID must be unused.
func (s *Store) Create(_ context.Context, a *workflow.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.alerts[a.ID]; ok {
		return &workflow.ConflictError{AlertID: a.ID, Reason: "already exists"}
	}
	cp := *a
	s.alerts[a.ID] = &cp
	return nil
}

// Get retrieves an alert by its ID. Returns a copy.
func (s *Store) Get(_ context.Context, id string) (*workflow.Alert, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.alerts[id]
	if !ok {
		return nil, false, nil
	}
	cp := *a
	return &cp, true, nil
}

// CompareAndUpdate applies mutate under the write lock iff the alert's
// current status equals expected. Returns a copy of the updated alert.
func (s *Store) CompareAndUpdate(_ context.Context, id string, expected workflow.Status, mutate func(*workflow.Alert)) (*workflow.Alert, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[id]
	if !ok || a.Status != expected {
		return nil, false, nil
	}
	cp := *a
	mutate(&cp)
	cp.ID = a.ID
	cp.CreatedAt = a.CreatedAt
	s.alerts[id] = &cp
	out := cp
	return &out, true, nil
}

// ListByDispatcher returns copies of the alerts actively assigned to the
// dispatcher whose status is in the given set, newest first.
func (s *Store) ListByDispatcher(_ context.Context, dispatcherID string, statuses []workflow.Status) ([]*workflow.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	want := make(map[workflow.Status]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	var out []*workflow.Alert
	for alertID, history := range s.assignments {
		for _, as := range history {
			if as.Status != workflow.AssignmentActive || as.DispatcherID != dispatcherID {
				continue
			}
			a, ok := s.alerts[alertID]
			if !ok || !want[a.Status] {
				continue
			}
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// ListOverdue returns copies of pending alerts whose auto-escalation
// deadline is at or before now.
func (s *Store) ListOverdue(_ context.Context, now time.Time) ([]*workflow.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*workflow.Alert
	for _, a := range s.alerts {
		if a.Status != workflow.StatusPending || a.AutoEscalateAt.After(now) {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AutoEscalateAt.Before(out[j].AutoEscalateAt) })
	return out, nil
}

// ListCreatedSince returns copies of alerts created at or after the cutoff.
func (s *Store) ListCreatedSince(_ context.Context, since time.Time) ([]*workflow.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*workflow.Alert
	for _, a := range s.alerts {
		if a.CreatedAt.Before(since) {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// CountPending returns the number of pending alerts.
func (s *Store) CountPending(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, a := range s.alerts {
		if a.Status == workflow.StatusPending {
			n++
		}
	}
	return n, nil
}

// CreateAssignment stores a copy of the assignment, superseding any prior
// active assignment for the same alert.
func (s *Store) CreateAssignment(_ context.Context, as *workflow.Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, prev := range s.assignments[as.AlertID] {
		if prev.Status == workflow.AssignmentActive {
			prev.Status = workflow.AssignmentSuperseded
		}
	}
	cp := *as
	s.assignments[as.AlertID] = append(s.assignments[as.AlertID], &cp)
	return nil
}

// MarkAssignmentReviewed closes the active assignment joining the alert
// and dispatcher. Missing rows are ignored.
func (s *Store) MarkAssignmentReviewed(_ context.Context, alertID, dispatcherID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, as := range s.assignments[alertID] {
		if as.Status == workflow.AssignmentActive && as.DispatcherID == dispatcherID {
			as.Status = workflow.AssignmentReviewed
		}
	}
	return nil
}

// AddEvidence stores a copy of the evidence record.
func (s *Store) AddEvidence(_ context.Context, ev *workflow.Evidence) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *ev
	s.evidence[ev.AlertID] = append(s.evidence[ev.AlertID], &cp)
	return nil
}

// ListEvidence returns copies of an alert's evidence, oldest first.
func (s *Store) ListEvidence(_ context.Context, alertID string) ([]*workflow.Evidence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := s.evidence[alertID]
	out := make([]*workflow.Evidence, 0, len(history))
	for _, ev := range history {
		cp := *ev
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// PruneEvidenceBefore deletes evidence created before the cutoff.
func (s *Store) PruneEvidenceBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for alertID, history := range s.evidence {
		kept := history[:0]
		for _, ev := range history {
			if ev.CreatedAt.Before(cutoff) {
				removed++
				continue
			}
			kept = append(kept, ev)
		}
		if len(kept) == 0 {
			delete(s.evidence, alertID)
			continue
		}
		s.evidence[alertID] = kept
	}
	return removed, nil
}
