package dispatchapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/warden/internal/workflow"
)

type assignRequest struct {
	DispatcherID string `json:"dispatcher_id"`
}

type escalateRequest struct {
	Reason string `json:"reason"`
}

type resolveRequest struct {
	Notes string `json:"notes"`
}

type evidenceRequest struct {
	Kind string          `json:"kind"`
	Path string          `json:"path"`
	Meta json.RawMessage `json:"meta,omitempty"`
}

type alertDetails struct {
	Alert    *workflow.Alert      `json:"alert"`
	Evidence []*workflow.Evidence `json:"evidence"`
}

// updateResponse reports the outcome of a status transition. A false
// Updated means the alert moved underneath the caller: the row was left
// untouched and the request is safe to retry after a fresh read.
type updateResponse struct {
	Updated bool `json:"updated"`
}

func (a *API) handleCreateAlert(w http.ResponseWriter, r *http.Request) {
	var p workflow.CreateParams
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}

	alert, err := a.svc.CreateAlert(r.Context(), p)
	if err != nil {
		a.writeError(w, r, err, "failed to create alert", "subject_id", p.SubjectID)
		return
	}

	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("warden.alert.id", alert.ID))
	respondJSON(w, http.StatusCreated, alert)
}

func (a *API) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("warden.alert.id", id))

	alert, evidence, err := a.svc.GetAlertDetails(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err, "failed to get alert", "id", id)
		return
	}

	span.SetAttributes(attribute.String("warden.alert.status", string(alert.Status)))

	respondJSON(w, http.StatusOK, alertDetails{Alert: alert, Evidence: evidence})
}

func (a *API) handleAssign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req assignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}

	updated, err := a.svc.AssignToDispatcher(r.Context(), id, req.DispatcherID)
	if err != nil {
		a.writeError(w, r, err, "failed to assign alert", "id", id, "dispatcher_id", req.DispatcherID)
		return
	}
	respondUpdate(w, updated)
}

func (a *API) handleReview(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var p workflow.ReviewParams
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}
	p.AlertID = id

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(
		attribute.String("warden.alert.id", id),
		attribute.String("warden.alert.decision", string(p.Decision)),
	)

	updated, err := a.svc.ReviewAlert(r.Context(), p)
	if err != nil {
		a.writeError(w, r, err, "failed to review alert", "id", id, "dispatcher_id", p.DispatcherID)
		return
	}
	respondUpdate(w, updated)
}

func (a *API) handleEscalate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req escalateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}

	updated, err := a.svc.EscalateAlert(r.Context(), id, req.Reason)
	if err != nil {
		a.writeError(w, r, err, "failed to escalate alert", "id", id)
		return
	}
	respondUpdate(w, updated)
}

func (a *API) handleResolve(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}

	updated, err := a.svc.ResolveAlert(r.Context(), id, req.Notes)
	if err != nil {
		a.writeError(w, r, err, "failed to resolve alert", "id", id)
		return
	}
	respondUpdate(w, updated)
}

func (a *API) handleAttachEvidence(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req evidenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}

	ev, err := a.svc.AttachEvidence(r.Context(), id, req.Kind, req.Path, req.Meta)
	if err != nil {
		a.writeError(w, r, err, "failed to attach evidence", "id", id, "kind", req.Kind)
		return
	}
	respondJSON(w, http.StatusCreated, ev)
}

func (a *API) handleListEvidence(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	evidence, err := a.svc.ListEvidence(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err, "failed to list evidence", "id", id)
		return
	}
	respondJSON(w, http.StatusOK, map[string][]*workflow.Evidence{"evidence": evidence})
}

// respondUpdate reports a transition outcome. Losing the status race is a
// conflict, not a failure; the caller decides whether to re-read and retry.
func respondUpdate(w http.ResponseWriter, updated bool) {
	status := http.StatusOK
	if !updated {
		status = http.StatusConflict
	}
	respondJSON(w, status, updateResponse{Updated: updated})
}
