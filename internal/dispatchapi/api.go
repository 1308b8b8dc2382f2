// Package dispatchapi exposes the alert workflow over HTTP for detection
// pipelines and dispatcher consoles.
package dispatchapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
	gocache "github.com/patrickmn/go-cache"

	"github.com/linnemanlabs/warden/internal/workflow"
)

// WorkflowService defines the business operations dispatchapi needs.
type WorkflowService interface {
	IngestSignal(ctx context.Context, sig *workflow.Signal) (*workflow.IngestResult, error)
	CreateAlert(ctx context.Context, p workflow.CreateParams) (*workflow.Alert, error)
	GetAlertDetails(ctx context.Context, alertID string) (*workflow.Alert, []*workflow.Evidence, error)
	AssignToDispatcher(ctx context.Context, alertID, dispatcherID string) (bool, error)
	ReviewAlert(ctx context.Context, p workflow.ReviewParams) (bool, error)
	EscalateAlert(ctx context.Context, alertID, reason string) (bool, error)
	ResolveAlert(ctx context.Context, alertID, notes string) (bool, error)
	AttachEvidence(ctx context.Context, alertID, kind, path string, meta json.RawMessage) (*workflow.Evidence, error)
	ListEvidence(ctx context.Context, alertID string) ([]*workflow.Evidence, error)
	GetDispatcherInbox(ctx context.Context, dispatcherID string) ([]*workflow.InboxEntry, error)
	GetWorkflowStatistics(ctx context.Context) (*workflow.Statistics, error)
}

// statsCacheTTL bounds how often the statistics rollup rescans the
// trailing window. Dashboards poll faster than the numbers move.
const statsCacheTTL = 15 * time.Second

const statsCacheKey = "workflow"

// API holds dependencies for HTTP handlers.
type API struct {
	logger log.Logger
	svc    WorkflowService
	events http.Handler
	stats  *gocache.Cache
}

// New creates a new API handler. events may be nil; the live event
// stream route is mounted only when it is set.
func New(logger log.Logger, svc WorkflowService, events http.Handler) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("workflow service is required"))
	}
	return &API{
		logger: logger,
		svc:    svc,
		events: events,
		stats:  gocache.New(statsCacheTTL, time.Minute),
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/signals", a.handleIngestSignal)
		r.Post("/detections", a.handleDetection)
		r.Post("/alerts", a.handleCreateAlert)
		r.Get("/alerts/{id}", a.handleGetAlert)
		r.Post("/alerts/{id}/assign", a.handleAssign)
		r.Post("/alerts/{id}/review", a.handleReview)
		r.Post("/alerts/{id}/escalate", a.handleEscalate)
		r.Post("/alerts/{id}/resolve", a.handleResolve)
		r.Post("/alerts/{id}/evidence", a.handleAttachEvidence)
		r.Get("/alerts/{id}/evidence", a.handleListEvidence)
		r.Get("/dispatchers/{id}/inbox", a.handleInbox)
		r.Get("/statistics", a.handleStatistics)
		if a.events != nil {
			r.Get("/events/ws", a.events.ServeHTTP)
		}
	})
}

// writeError maps workflow error classes onto HTTP statuses. Unclassified
// errors are logged and kept opaque to the client.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error, msg string, kv ...any) {
	switch {
	case workflow.IsValidation(err):
		respondError(w, http.StatusBadRequest, err.Error())
	case workflow.IsNotFound(err):
		respondError(w, http.StatusNotFound, err.Error())
	case workflow.IsConflict(err):
		respondError(w, http.StatusConflict, err.Error())
	case workflow.IsTransient(err):
		respondError(w, http.StatusServiceUnavailable, "storage unavailable")
	default:
		a.logger.Error(r.Context(), err, msg, kv...)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
