// Package pgstore provides a PostgreSQL implementation of workflow.Store.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/warden/internal/workflow"
)

var tracer = otel.Tracer("github.com/linnemanlabs/warden/internal/workflow/pgstore")

//go:embed schema.sql
var schema string

const pgUniqueViolation = "23505"

// Store persists alerts, assignments, and evidence in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema and returns a ready Store. The Store takes
// ownership of the pool; Close releases it.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close shuts down the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

const alertColumns = `id, subject_id, alert_type, priority, status, location, evidence_ref,
	created_at, auto_escalate_at, assigned_to, reviewed_by, reviewed_at, confidence_score,
	decision, notes, escalation_reason, resolution_notes`

// Create persists a new alert.
func (s *Store) Create(ctx context.Context, a *workflow.Alert) error {
	ctx, span := tracer.Start(ctx, "pgstore.Create", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "INSERT"),
	))
	defer span.End()

	query := `INSERT INTO alerts (` + alertColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`

	_, err := s.pool.Exec(ctx, query,
		a.ID, a.SubjectID, a.Type, string(a.Priority), string(a.Status), jsonArg(a.Location),
		a.EvidenceRef, a.CreatedAt, a.AutoEscalateAt, a.AssignedTo, a.ReviewedBy,
		timeArg(a.ReviewedAt), a.ConfidenceScore, string(a.Decision), a.Notes,
		a.EscalationReason, a.ResolutionNotes,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return recordErr(span, &workflow.ConflictError{AlertID: a.ID, Reason: "already exists"})
		}
		return recordErr(span, storeErr("insert alert", err))
	}
	return nil
}

// Get retrieves an alert by ID.
func (s *Store) Get(ctx context.Context, id string) (*workflow.Alert, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.Get", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	query := `SELECT ` + alertColumns + ` FROM alerts WHERE id = $1`
	a, err := scanAlertRow(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, false, recordErr(span, storeErr("get alert", err))
	}
	if a == nil {
		return nil, false, nil
	}
	return a, true, nil
}

// CompareAndUpdate applies mutate to the alert iff its status still equals
// expected. The row lock holds concurrent writers until the transaction
// settles, so the status check cannot go stale between read and write.
func (s *Store) CompareAndUpdate(ctx context.Context, id string, expected workflow.Status, mutate func(*workflow.Alert)) (*workflow.Alert, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.CompareAndUpdate", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPDATE"),
	))
	defer span.End()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, false, recordErr(span, storeErr("begin tx", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	query := `SELECT ` + alertColumns + ` FROM alerts WHERE id = $1 FOR UPDATE`
	a, err := scanAlertRow(tx.QueryRow(ctx, query, id))
	if err != nil {
		return nil, false, recordErr(span, storeErr("lock alert", err))
	}
	if a == nil || a.Status != expected {
		return nil, false, nil
	}

	createdAt := a.CreatedAt
	mutate(a)
	a.ID, a.CreatedAt = id, createdAt

	update := `UPDATE alerts SET
		subject_id = $2, alert_type = $3, priority = $4, status = $5, location = $6,
		evidence_ref = $7, auto_escalate_at = $8, assigned_to = $9, reviewed_by = $10,
		reviewed_at = $11, confidence_score = $12, decision = $13, notes = $14,
		escalation_reason = $15, resolution_notes = $16
	WHERE id = $1`

	_, err = tx.Exec(ctx, update,
		a.ID, a.SubjectID, a.Type, string(a.Priority), string(a.Status), jsonArg(a.Location),
		a.EvidenceRef, a.AutoEscalateAt, a.AssignedTo, a.ReviewedBy,
		timeArg(a.ReviewedAt), a.ConfidenceScore, string(a.Decision), a.Notes,
		a.EscalationReason, a.ResolutionNotes,
	)
	if err != nil {
		return nil, false, recordErr(span, storeErr("update alert", err))
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, recordErr(span, storeErr("commit", err))
	}
	return a, true, nil
}

// ListByDispatcher returns the alerts actively assigned to a dispatcher
// whose status is one of the given set, newest first.
func (s *Store) ListByDispatcher(ctx context.Context, dispatcherID string, statuses []workflow.Status) ([]*workflow.Alert, error) {
	ctx, span := tracer.Start(ctx, "pgstore.ListByDispatcher", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	query := `SELECT ` + alertColumns + ` FROM alerts
		WHERE status = ANY($2) AND id IN (
			SELECT alert_id FROM assignments WHERE dispatcher_id = $1 AND status = $3
		)
		ORDER BY created_at DESC`

	vals := make([]string, len(statuses))
	for i, st := range statuses {
		vals[i] = string(st)
	}

	rows, err := s.pool.Query(ctx, query, dispatcherID, vals, string(workflow.AssignmentActive))
	if err != nil {
		return nil, recordErr(span, storeErr("query alerts by dispatcher", err))
	}
	out, err := scanAlerts(rows)
	if err != nil {
		return nil, recordErr(span, err)
	}
	return out, nil
}

// ListOverdue returns pending alerts whose deadline is at or before now,
// oldest deadline first.
func (s *Store) ListOverdue(ctx context.Context, now time.Time) ([]*workflow.Alert, error) {
	ctx, span := tracer.Start(ctx, "pgstore.ListOverdue", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	query := `SELECT ` + alertColumns + ` FROM alerts
		WHERE status = $1 AND auto_escalate_at <= $2
		ORDER BY auto_escalate_at`

	rows, err := s.pool.Query(ctx, query, string(workflow.StatusPending), now)
	if err != nil {
		return nil, recordErr(span, storeErr("query overdue alerts", err))
	}
	out, err := scanAlerts(rows)
	if err != nil {
		return nil, recordErr(span, err)
	}
	return out, nil
}

// ListCreatedSince returns alerts created at or after the cutoff, newest first.
func (s *Store) ListCreatedSince(ctx context.Context, since time.Time) ([]*workflow.Alert, error) {
	ctx, span := tracer.Start(ctx, "pgstore.ListCreatedSince", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	query := `SELECT ` + alertColumns + ` FROM alerts
		WHERE created_at >= $1
		ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query, since)
	if err != nil {
		return nil, recordErr(span, storeErr("query alerts by window", err))
	}
	out, err := scanAlerts(rows)
	if err != nil {
		return nil, recordErr(span, err)
	}
	return out, nil
}

// CountPending returns the number of alerts currently pending.
func (s *Store) CountPending(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "pgstore.CountPending", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM alerts WHERE status = $1`,
		string(workflow.StatusPending),
	).Scan(&n)
	if err != nil {
		return 0, recordErr(span, storeErr("count pending", err))
	}
	return n, nil
}

// CreateAssignment records a dispatcher claiming an alert, superseding any
// prior active assignment for the same alert.
func (s *Store) CreateAssignment(ctx context.Context, as *workflow.Assignment) error {
	ctx, span := tracer.Start(ctx, "pgstore.CreateAssignment", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "INSERT"),
	))
	defer span.End()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return recordErr(span, storeErr("begin tx", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	_, err = tx.Exec(ctx,
		`UPDATE assignments SET status = $1 WHERE alert_id = $2 AND status = $3`,
		string(workflow.AssignmentSuperseded), as.AlertID, string(workflow.AssignmentActive),
	)
	if err != nil {
		return recordErr(span, storeErr("supersede assignments", err))
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO assignments (id, alert_id, dispatcher_id, assigned_at, status)
		 VALUES ($1, $2, $3, $4, $5)`,
		as.ID, as.AlertID, as.DispatcherID, as.AssignedAt, string(as.Status),
	)
	if err != nil {
		return recordErr(span, storeErr("insert assignment", err))
	}

	if err := tx.Commit(ctx); err != nil {
		return recordErr(span, storeErr("commit", err))
	}
	return nil
}

// MarkAssignmentReviewed closes out the active assignment joining the alert
// and dispatcher. Missing rows are ignored.
func (s *Store) MarkAssignmentReviewed(ctx context.Context, alertID, dispatcherID string) error {
	ctx, span := tracer.Start(ctx, "pgstore.MarkAssignmentReviewed", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPDATE"),
	))
	defer span.End()

	_, err := s.pool.Exec(ctx,
		`UPDATE assignments SET status = $1
		 WHERE alert_id = $2 AND dispatcher_id = $3 AND status = $4`,
		string(workflow.AssignmentReviewed), alertID, dispatcherID, string(workflow.AssignmentActive),
	)
	if err != nil {
		return recordErr(span, storeErr("mark assignment reviewed", err))
	}
	return nil
}

// AddEvidence attaches an evidence record to an alert.
func (s *Store) AddEvidence(ctx context.Context, ev *workflow.Evidence) error {
	ctx, span := tracer.Start(ctx, "pgstore.AddEvidence", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "INSERT"),
	))
	defer span.End()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO evidence (id, alert_id, kind, path, meta, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		ev.ID, ev.AlertID, ev.Kind, ev.Path, jsonArg(ev.Meta), ev.CreatedAt,
	)
	if err != nil {
		return recordErr(span, storeErr("insert evidence", err))
	}
	return nil
}

// ListEvidence returns an alert's evidence, oldest first.
func (s *Store) ListEvidence(ctx context.Context, alertID string) ([]*workflow.Evidence, error) {
	ctx, span := tracer.Start(ctx, "pgstore.ListEvidence", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT id, alert_id, kind, path, meta, created_at
		 FROM evidence WHERE alert_id = $1 ORDER BY created_at, id`,
		alertID,
	)
	if err != nil {
		return nil, recordErr(span, storeErr("query evidence", err))
	}
	defer rows.Close()

	var out []*workflow.Evidence
	for rows.Next() {
		var (
			ev   workflow.Evidence
			meta []byte
		)
		if err := rows.Scan(&ev.ID, &ev.AlertID, &ev.Kind, &ev.Path, &meta, &ev.CreatedAt); err != nil {
			return nil, recordErr(span, fmt.Errorf("scan evidence: %w", err))
		}
		if meta != nil {
			ev.Meta = json.RawMessage(meta)
		}
		out = append(out, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, recordErr(span, fmt.Errorf("iterate evidence: %w", err))
	}
	return out, nil
}

// PruneEvidenceBefore deletes evidence rows created before the cutoff.
func (s *Store) PruneEvidenceBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, span := tracer.Start(ctx, "pgstore.PruneEvidenceBefore", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "DELETE"),
	))
	defer span.End()

	tag, err := s.pool.Exec(ctx, `DELETE FROM evidence WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, recordErr(span, storeErr("prune evidence", err))
	}
	return tag.RowsAffected(), nil
}

// scanAlertRow scans a single row into an Alert. Returns (nil, nil) when no
// row is found.
func scanAlertRow(row pgx.Row) (*workflow.Alert, error) {
	var (
		a          workflow.Alert
		priority   string
		status     string
		decision   string
		location   []byte
		reviewedAt *time.Time
	)

	err := row.Scan(
		&a.ID, &a.SubjectID, &a.Type, &priority, &status, &location, &a.EvidenceRef,
		&a.CreatedAt, &a.AutoEscalateAt, &a.AssignedTo, &a.ReviewedBy, &reviewedAt,
		&a.ConfidenceScore, &decision, &a.Notes, &a.EscalationReason, &a.ResolutionNotes,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan alert: %w", err)
	}

	a.Priority = workflow.Priority(priority)
	a.Status = workflow.Status(status)
	a.Decision = workflow.Decision(decision)
	if location != nil {
		a.Location = json.RawMessage(location)
	}
	if reviewedAt != nil {
		a.ReviewedAt = *reviewedAt
	}
	return &a, nil
}

func scanAlerts(rows pgx.Rows) ([]*workflow.Alert, error) {
	defer rows.Close()

	var out []*workflow.Alert
	for rows.Next() {
		a, err := scanAlertRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alerts: %w", err)
	}
	return out, nil
}

// jsonArg maps an absent JSON document to SQL NULL.
func jsonArg(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

// timeArg maps the zero time to SQL NULL.
func timeArg(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// storeErr classifies connection-level failures as transient so callers can
// distinguish them from data problems.
func storeErr(op string, err error) error {
	if pgconn.SafeToRetry(err) {
		return &workflow.TransientStorageError{Op: op, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func recordErr(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
