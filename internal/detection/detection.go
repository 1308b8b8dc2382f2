// Package detection maps raw detector payloads onto workflow signals.
package detection

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/linnemanlabs/warden/internal/workflow"
)

// Payload is the wire format detectors post. Detectors are third-party
// and sloppy: missing IDs and timestamps are filled in, but the fields
// the workflow needs are validated downstream.
type Payload struct {
	ID          string          `json:"id,omitempty"`
	Type        string          `json:"type"`
	Severity    string          `json:"severity,omitempty"`
	Confidence  float64         `json:"confidence"`
	SubjectID   string          `json:"subject_id"`
	CameraID    string          `json:"camera_id,omitempty"`
	Location    json.RawMessage `json:"location,omitempty"`
	EvidenceRef string          `json:"evidence_ref,omitempty"`
	Timestamp   time.Time       `json:"timestamp,omitzero"`
}

// PriorityFor derives an alert priority from detector output. An
// explicit critical severity always wins; otherwise the model
// confidence decides.
func PriorityFor(severity string, confidence float64) workflow.Priority {
	if severity == "critical" {
		return workflow.PriorityCritical
	}
	switch {
	case confidence >= 0.9:
		return workflow.PriorityCritical
	case confidence >= 0.75:
		return workflow.PriorityHigh
	case confidence >= 0.5:
		return workflow.PriorityMedium
	default:
		return workflow.PriorityLow
	}
}

// ToSignal converts the payload to a workflow signal, generating an ID
// and stamping the receive time where the detector left gaps.
func (p *Payload) ToSignal(now time.Time) *workflow.Signal {
	id := p.ID
	if id == "" {
		id = uuid.NewString()
	}
	ts := p.Timestamp
	if ts.IsZero() {
		ts = now
	}
	return &workflow.Signal{
		ID:          id,
		SubjectID:   p.SubjectID,
		Type:        p.Type,
		Priority:    PriorityFor(p.Severity, p.Confidence),
		Confidence:  p.Confidence,
		SourceID:    p.CameraID,
		Location:    p.Location,
		EvidenceRef: p.EvidenceRef,
		Timestamp:   ts,
	}
}
