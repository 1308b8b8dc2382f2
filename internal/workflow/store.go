package workflow

import (
	"context"
	"time"
)

// Store is the persistence boundary for alerts, assignments, and evidence.
// Implementations are safe for concurrent use and return copies; callers
// may mutate returned values freely.
//
// Every status change goes through CompareAndUpdate. There is no blind
// update: a writer names the status it believes the alert is in, and the
// store applies the mutation only while that belief still holds.
type Store interface {
	// Create persists a new alert. It fails with a ConflictError if the
	// ID is already taken.
	Create(ctx context.Context, a *Alert) error

	// Get returns the alert with the given ID. The boolean reports
	// whether it exists; absence is not an error.
	Get(ctx context.Context, id string) (*Alert, bool, error)

	// CompareAndUpdate atomically applies mutate to the alert iff its
	// current status equals expected. It returns the updated alert and
	// true when applied, or (nil, false, nil) when the alert is missing
	// or its status moved on. The mutator must not be retained and must
	// not touch ID or CreatedAt.
	CompareAndUpdate(ctx context.Context, id string, expected Status, mutate func(*Alert)) (*Alert, bool, error)

	// ListByDispatcher returns the alerts actively assigned to a
	// dispatcher whose status is one of the given set, newest first.
	ListByDispatcher(ctx context.Context, dispatcherID string, statuses []Status) ([]*Alert, error)

	// ListOverdue returns pending alerts whose auto-escalation deadline
	// is at or before now.
	ListOverdue(ctx context.Context, now time.Time) ([]*Alert, error)

	// ListCreatedSince returns alerts created at or after the cutoff.
	ListCreatedSince(ctx context.Context, since time.Time) ([]*Alert, error)

	// CountPending returns the number of alerts currently pending.
	CountPending(ctx context.Context) (int, error)

	// CreateAssignment records a dispatcher claiming an alert. Any prior
	// active assignment for the same alert is marked superseded.
	CreateAssignment(ctx context.Context, as *Assignment) error

	// MarkAssignmentReviewed closes out the active assignment joining
	// the alert and dispatcher. Missing rows are ignored.
	MarkAssignmentReviewed(ctx context.Context, alertID, dispatcherID string) error

	// AddEvidence attaches an evidence record to an alert.
	AddEvidence(ctx context.Context, ev *Evidence) error

	// ListEvidence returns an alert's evidence, oldest first.
	ListEvidence(ctx context.Context, alertID string) ([]*Evidence, error)

	// PruneEvidenceBefore deletes evidence rows created before the
	// cutoff and reports how many were removed.
	PruneEvidenceBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
