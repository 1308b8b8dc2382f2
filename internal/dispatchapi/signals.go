package dispatchapi

import (
	"encoding/json"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/warden/internal/detection"
	"github.com/linnemanlabs/warden/internal/workflow"
)

// handleIngestSignal offers one detection signal for admission.
// Suppression is not an error: the signal was heard and deliberately
// dropped, so the response is still 202 carrying the reason.
func (a *API) handleIngestSignal(w http.ResponseWriter, r *http.Request) {
	var sig workflow.Signal
	if err := json.NewDecoder(r.Body).Decode(&sig); err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}

	res, err := a.svc.IngestSignal(r.Context(), &sig)
	if err != nil {
		a.writeError(w, r, err, "failed to ingest signal", "signal_id", sig.ID)
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.Bool("warden.signal.suppressed", res.Suppressed))
	if res.AlertID != "" {
		span.SetAttributes(attribute.String("warden.alert.id", res.AlertID))
	}

	respondJSON(w, http.StatusAccepted, res)
}

// handleDetection accepts the raw webhook third-party detectors post.
// Unlike /signals it carries no priority: the payload is normalized
// first, deriving priority from severity and confidence and filling a
// missing ID and timestamp.
func (a *API) handleDetection(w http.ResponseWriter, r *http.Request) {
	var p detection.Payload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}

	sig := p.ToSignal(time.Now().UTC())
	res, err := a.svc.IngestSignal(r.Context(), sig)
	if err != nil {
		a.writeError(w, r, err, "failed to ingest detection", "signal_id", sig.ID)
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.Bool("warden.signal.suppressed", res.Suppressed))
	if res.AlertID != "" {
		span.SetAttributes(attribute.String("warden.alert.id", res.AlertID))
	}

	respondJSON(w, http.StatusAccepted, res)
}
