package pgstore_test

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/linnemanlabs/warden/internal/postgres"
	"github.com/linnemanlabs/warden/internal/workflow"
	"github.com/linnemanlabs/warden/internal/workflow/pgstore"
)

func openStore(t *testing.T) *pgstore.Store {
	t.Helper()
	dsn := os.Getenv("WARDEN_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("WARDEN_TEST_DATABASE_URL not set, skipping integration test")
	}
	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, dsn)
	if err != nil {
		t.Fatalf("postgres.NewPool: %v", err)
	}
	s, err := pgstore.New(ctx, pool)
	if err != nil {
		pool.Close()
		t.Fatalf("pgstore.New: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

// testID keeps IDs unique across runs against a persistent database.
func testID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}

func newAlert(id string, st workflow.Status, createdAt time.Time) *workflow.Alert {
	return &workflow.Alert{
		ID:             id,
		SubjectID:      "subject-1",
		Type:           "fall_detected",
		Priority:       workflow.PriorityHigh,
		Status:         st,
		CreatedAt:      createdAt,
		AutoEscalateAt: createdAt.Add(5 * time.Minute),
	}
}

func TestCreateAndGet(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	now := time.Now().Truncate(time.Microsecond).UTC()
	a := newAlert(testID("test-create-get"), workflow.StatusPending, now)
	a.Location = json.RawMessage(`{"room":"204","floor":2}`)
	a.EvidenceRef = "s3://warden-clips/clip-001.mp4"

	if err := s.Create(ctx, a); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, ok, err := s.Get(ctx, a.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("Get returned ok=false, want true")
	}

	assertEqual(t, "ID", a.ID, got.ID)
	assertEqual(t, "SubjectID", a.SubjectID, got.SubjectID)
	assertEqual(t, "Type", a.Type, got.Type)
	assertEqual(t, "Priority", string(a.Priority), string(got.Priority))
	assertEqual(t, "Status", string(a.Status), string(got.Status))
	assertEqual(t, "EvidenceRef", a.EvidenceRef, got.EvidenceRef)
	if !got.CreatedAt.Equal(now) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, now)
	}
	if !got.AutoEscalateAt.Equal(now.Add(5 * time.Minute)) {
		t.Errorf("AutoEscalateAt = %v, want %v", got.AutoEscalateAt, now.Add(5*time.Minute))
	}
	if !got.ReviewedAt.IsZero() {
		t.Errorf("ReviewedAt = %v, want zero", got.ReviewedAt)
	}

	var loc map[string]any
	if err := json.Unmarshal(got.Location, &loc); err != nil {
		t.Fatalf("unmarshal location: %v", err)
	}
	if loc["room"] != "204" {
		t.Errorf("location room = %v, want 204", loc["room"])
	}
}

func TestGetMissing(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "nonexistent-id")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Error("Get returned ok=true for nonexistent ID")
	}
}

func TestCreateDuplicate(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	now := time.Now().Truncate(time.Microsecond).UTC()
	a := newAlert(testID("test-dup"), workflow.StatusPending, now)

	if err := s.Create(ctx, a); err != nil {
		t.Fatalf("Create: %v", err)
	}
	err := s.Create(ctx, a)
	if err == nil {
		t.Fatal("Create accepted a duplicate ID")
	}
	if !workflow.IsConflict(err) {
		t.Errorf("Create error = %v, want ConflictError", err)
	}
}

func TestCompareAndUpdate(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	now := time.Now().Truncate(time.Microsecond).UTC()
	a := newAlert(testID("test-cas"), workflow.StatusPending, now)
	if err := s.Create(ctx, a); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, updated, err := s.CompareAndUpdate(ctx, a.ID, workflow.StatusPending, func(x *workflow.Alert) {
		x.Status = workflow.StatusReviewing
		x.AssignedTo = "disp-7"
	})
	if err != nil {
		t.Fatalf("CompareAndUpdate: %v", err)
	}
	if !updated {
		t.Fatal("CompareAndUpdate returned updated=false, want true")
	}
	assertEqual(t, "Status", string(workflow.StatusReviewing), string(got.Status))
	assertEqual(t, "AssignedTo", "disp-7", got.AssignedTo)

	// The write must be durable, not just reflected in the return value.
	stored, _, err := s.Get(ctx, a.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	assertEqual(t, "stored Status", string(workflow.StatusReviewing), string(stored.Status))
	assertEqual(t, "stored AssignedTo", "disp-7", stored.AssignedTo)
}

func TestCompareAndUpdateStale(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	now := time.Now().Truncate(time.Microsecond).UTC()
	a := newAlert(testID("test-cas-stale"), workflow.StatusReviewing, now)
	if err := s.Create(ctx, a); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, updated, err := s.CompareAndUpdate(ctx, a.ID, workflow.StatusPending, func(x *workflow.Alert) {
		x.Status = workflow.StatusEscalated
	})
	if err != nil {
		t.Fatalf("CompareAndUpdate: %v", err)
	}
	if updated {
		t.Error("CompareAndUpdate applied against a stale expected status")
	}
	if got != nil {
		t.Errorf("alert = %+v, want nil", got)
	}
}

func TestCompareAndUpdateMissing(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	_, updated, err := s.CompareAndUpdate(ctx, "nonexistent-id", workflow.StatusPending, func(x *workflow.Alert) {
		x.Status = workflow.StatusReviewing
	})
	if err != nil {
		t.Fatalf("CompareAndUpdate: %v", err)
	}
	if updated {
		t.Error("CompareAndUpdate returned updated=true for missing alert")
	}
}

func TestCompareAndUpdatePinsImmutableFields(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	now := time.Now().Truncate(time.Microsecond).UTC()
	a := newAlert(testID("test-cas-pin"), workflow.StatusPending, now)
	if err := s.Create(ctx, a); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, updated, err := s.CompareAndUpdate(ctx, a.ID, workflow.StatusPending, func(x *workflow.Alert) {
		x.ID = "hijacked"
		x.CreatedAt = x.CreatedAt.Add(time.Hour)
		x.Status = workflow.StatusReviewing
	})
	if err != nil {
		t.Fatalf("CompareAndUpdate: %v", err)
	}
	if !updated {
		t.Fatal("CompareAndUpdate returned updated=false")
	}
	assertEqual(t, "ID", a.ID, got.ID)
	if !got.CreatedAt.Equal(now) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, now)
	}
}

func TestCompareAndUpdateConcurrent(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	now := time.Now().Truncate(time.Microsecond).UTC()
	a := newAlert(testID("test-cas-race"), workflow.StatusPending, now)
	if err := s.Create(ctx, a); err != nil {
		t.Fatalf("Create: %v", err)
	}

	var wins atomic.Int64
	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, updated, err := s.CompareAndUpdate(ctx, a.ID, workflow.StatusPending, func(x *workflow.Alert) {
				x.Status = workflow.StatusReviewing
				x.AssignedTo = fmt.Sprintf("disp-%d", i)
			})
			if err != nil {
				t.Errorf("CompareAndUpdate: %v", err)
				return
			}
			if updated {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := wins.Load(); got != 1 {
		t.Errorf("winners = %d, want exactly 1", got)
	}
}

func TestListByDispatcher(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	dispatcher := testID("disp")
	now := time.Now().Truncate(time.Microsecond).UTC()

	older := newAlert(testID("test-inbox-older"), workflow.StatusReviewing, now.Add(-time.Hour))
	newer := newAlert(testID("test-inbox-newer"), workflow.StatusReviewing, now)
	decided := newAlert(testID("test-inbox-decided"), workflow.StatusConfirmed, now)

	for _, a := range []*workflow.Alert{older, newer, decided} {
		if err := s.Create(ctx, a); err != nil {
			t.Fatalf("Create %s: %v", a.ID, err)
		}
		err := s.CreateAssignment(ctx, &workflow.Assignment{
			ID:           testID("as"),
			AlertID:      a.ID,
			DispatcherID: dispatcher,
			AssignedAt:   now,
			Status:       workflow.AssignmentActive,
		})
		if err != nil {
			t.Fatalf("CreateAssignment %s: %v", a.ID, err)
		}
	}

	got, err := s.ListByDispatcher(ctx, dispatcher, []workflow.Status{workflow.StatusPending, workflow.StatusReviewing})
	if err != nil {
		t.Fatalf("ListByDispatcher: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ListByDispatcher returned %d alerts, want 2", len(got))
	}
	assertEqual(t, "first", newer.ID, got[0].ID)
	assertEqual(t, "second", older.ID, got[1].ID)
}

func TestListByDispatcherExcludesSuperseded(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	first := testID("disp-a")
	second := testID("disp-b")
	now := time.Now().Truncate(time.Microsecond).UTC()

	a := newAlert(testID("test-supersede"), workflow.StatusReviewing, now)
	if err := s.Create(ctx, a); err != nil {
		t.Fatalf("Create: %v", err)
	}

	for _, d := range []string{first, second} {
		err := s.CreateAssignment(ctx, &workflow.Assignment{
			ID:           testID("as"),
			AlertID:      a.ID,
			DispatcherID: d,
			AssignedAt:   now,
			Status:       workflow.AssignmentActive,
		})
		if err != nil {
			t.Fatalf("CreateAssignment %s: %v", d, err)
		}
	}

	all := []workflow.Status{workflow.StatusPending, workflow.StatusReviewing}
	got, err := s.ListByDispatcher(ctx, first, all)
	if err != nil {
		t.Fatalf("ListByDispatcher first: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("superseded dispatcher still sees %d alerts", len(got))
	}

	got, err = s.ListByDispatcher(ctx, second, all)
	if err != nil {
		t.Fatalf("ListByDispatcher second: %v", err)
	}
	if len(got) != 1 || got[0].ID != a.ID {
		t.Errorf("active dispatcher inbox = %v, want [%s]", ids(got), a.ID)
	}
}

func TestListOverdue(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	now := time.Now().Truncate(time.Microsecond).UTC()

	atDeadline := newAlert(testID("test-overdue-at"), workflow.StatusPending, now.Add(-5*time.Minute))
	future := newAlert(testID("test-overdue-future"), workflow.StatusPending, now)

	for _, a := range []*workflow.Alert{atDeadline, future} {
		if err := s.Create(ctx, a); err != nil {
			t.Fatalf("Create %s: %v", a.ID, err)
		}
	}

	// atDeadline's auto_escalate_at is exactly now; the boundary is inclusive.
	got, err := s.ListOverdue(ctx, now)
	if err != nil {
		t.Fatalf("ListOverdue: %v", err)
	}
	if !contains(got, atDeadline.ID) {
		t.Errorf("alert due exactly now missing from overdue set %v", ids(got))
	}
	if contains(got, future.ID) {
		t.Errorf("alert due in the future included in overdue set %v", ids(got))
	}
}

func TestListCreatedSince(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	now := time.Now().Truncate(time.Microsecond).UTC()
	cutoff := now.Add(-24 * time.Hour)

	atCutoff := newAlert(testID("test-window-at"), workflow.StatusPending, cutoff)
	before := newAlert(testID("test-window-before"), workflow.StatusPending, cutoff.Add(-time.Minute))

	for _, a := range []*workflow.Alert{atCutoff, before} {
		if err := s.Create(ctx, a); err != nil {
			t.Fatalf("Create %s: %v", a.ID, err)
		}
	}

	got, err := s.ListCreatedSince(ctx, cutoff)
	if err != nil {
		t.Fatalf("ListCreatedSince: %v", err)
	}
	if !contains(got, atCutoff.ID) {
		t.Errorf("alert created exactly at cutoff missing from %v", ids(got))
	}
	if contains(got, before.ID) {
		t.Errorf("alert created before cutoff included in %v", ids(got))
	}
}

func TestCountPending(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	before, err := s.CountPending(ctx)
	if err != nil {
		t.Fatalf("CountPending: %v", err)
	}

	now := time.Now().Truncate(time.Microsecond).UTC()
	if err := s.Create(ctx, newAlert(testID("test-count"), workflow.StatusPending, now)); err != nil {
		t.Fatalf("Create: %v", err)
	}

	after, err := s.CountPending(ctx)
	if err != nil {
		t.Fatalf("CountPending: %v", err)
	}
	if after != before+1 {
		t.Errorf("CountPending = %d, want %d", after, before+1)
	}
}

func TestMarkAssignmentReviewed(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	dispatcher := testID("disp")
	now := time.Now().Truncate(time.Microsecond).UTC()

	a := newAlert(testID("test-mark-reviewed"), workflow.StatusReviewing, now)
	if err := s.Create(ctx, a); err != nil {
		t.Fatalf("Create: %v", err)
	}
	err := s.CreateAssignment(ctx, &workflow.Assignment{
		ID:           testID("as"),
		AlertID:      a.ID,
		DispatcherID: dispatcher,
		AssignedAt:   now,
		Status:       workflow.AssignmentActive,
	})
	if err != nil {
		t.Fatalf("CreateAssignment: %v", err)
	}

	if err := s.MarkAssignmentReviewed(ctx, a.ID, dispatcher); err != nil {
		t.Fatalf("MarkAssignmentReviewed: %v", err)
	}

	got, err := s.ListByDispatcher(ctx, dispatcher, []workflow.Status{workflow.StatusReviewing})
	if err != nil {
		t.Fatalf("ListByDispatcher: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("reviewed assignment still in inbox: %v", ids(got))
	}

	// Marking again is a no-op, not an error.
	if err := s.MarkAssignmentReviewed(ctx, a.ID, dispatcher); err != nil {
		t.Errorf("MarkAssignmentReviewed repeat: %v", err)
	}
}

func TestEvidenceRoundTrip(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	now := time.Now().Truncate(time.Microsecond).UTC()
	a := newAlert(testID("test-evidence"), workflow.StatusPending, now)
	if err := s.Create(ctx, a); err != nil {
		t.Fatalf("Create: %v", err)
	}

	first := &workflow.Evidence{
		ID:        testID("ev-1"),
		AlertID:   a.ID,
		Kind:      "clip",
		Path:      "s3://warden-clips/one.mp4",
		Meta:      json.RawMessage(`{"duration_s":12}`),
		CreatedAt: now,
	}
	second := &workflow.Evidence{
		ID:        testID("ev-2"),
		AlertID:   a.ID,
		Kind:      "snapshot",
		Path:      "s3://warden-clips/two.jpg",
		CreatedAt: now.Add(time.Second),
	}
	for _, ev := range []*workflow.Evidence{first, second} {
		if err := s.AddEvidence(ctx, ev); err != nil {
			t.Fatalf("AddEvidence %s: %v", ev.ID, err)
		}
	}

	got, err := s.ListEvidence(ctx, a.ID)
	if err != nil {
		t.Fatalf("ListEvidence: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ListEvidence returned %d rows, want 2", len(got))
	}
	assertEqual(t, "first", first.ID, got[0].ID)
	assertEqual(t, "second", second.ID, got[1].ID)
	assertEqual(t, "kind", "clip", got[0].Kind)

	var meta map[string]any
	if err := json.Unmarshal(got[0].Meta, &meta); err != nil {
		t.Fatalf("unmarshal meta: %v", err)
	}
	if meta["duration_s"] != float64(12) {
		t.Errorf("meta duration_s = %v, want 12", meta["duration_s"])
	}
	if got[1].Meta != nil {
		t.Errorf("second meta = %s, want nil", got[1].Meta)
	}
}

func TestPruneEvidenceBefore(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	now := time.Now().Truncate(time.Microsecond).UTC()
	a := newAlert(testID("test-prune"), workflow.StatusPending, now)
	if err := s.Create(ctx, a); err != nil {
		t.Fatalf("Create: %v", err)
	}

	old := &workflow.Evidence{
		ID:        testID("ev-old"),
		AlertID:   a.ID,
		Kind:      "clip",
		Path:      "s3://warden-clips/old.mp4",
		CreatedAt: now.Add(-48 * time.Hour),
	}
	fresh := &workflow.Evidence{
		ID:        testID("ev-fresh"),
		AlertID:   a.ID,
		Kind:      "clip",
		Path:      "s3://warden-clips/fresh.mp4",
		CreatedAt: now,
	}
	for _, ev := range []*workflow.Evidence{old, fresh} {
		if err := s.AddEvidence(ctx, ev); err != nil {
			t.Fatalf("AddEvidence %s: %v", ev.ID, err)
		}
	}

	n, err := s.PruneEvidenceBefore(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("PruneEvidenceBefore: %v", err)
	}
	if n < 1 {
		t.Errorf("pruned %d rows, want at least 1", n)
	}

	got, err := s.ListEvidence(ctx, a.ID)
	if err != nil {
		t.Fatalf("ListEvidence: %v", err)
	}
	if len(got) != 1 || got[0].ID != fresh.ID {
		t.Errorf("evidence after prune = %v, want only %s", evidenceIDs(got), fresh.ID)
	}
}

func contains(alerts []*workflow.Alert, id string) bool {
	for _, a := range alerts {
		if a.ID == id {
			return true
		}
	}
	return false
}

func ids(alerts []*workflow.Alert) []string {
	out := make([]string, len(alerts))
	for i, a := range alerts {
		out[i] = a.ID
	}
	return out
}

func evidenceIDs(evs []*workflow.Evidence) []string {
	out := make([]string, len(evs))
	for i, ev := range evs {
		out[i] = ev.ID
	}
	return out
}

func assertEqual[T comparable](t *testing.T, field string, want, got T) {
	t.Helper()
	if want != got {
		t.Errorf("%s: got %v, want %v", field, got, want)
	}
}
