package triage

import (
	"context"
	"time"
)

// EventKind classifies a sync bus notification.
type EventKind string

const (
	// EventCaseUpdated is raised after every successful case write.
	EventCaseUpdated EventKind = "case_updated"

	// EventSettingsUpdated is raised after a patient settings write.
	EventSettingsUpdated EventKind = "settings_updated"

	// EventReset tells every viewer to discard local state and re-read.
	EventReset EventKind = "reset"

	// EventToast carries a human-readable status line for the UI.
	EventToast EventKind = "toast"

	// EventResync is sent to a viewer that missed events and must re-read everything.
	EventResync EventKind = "resync"
)

// Event is a change notification delivered to live viewers.
type Event struct {
	Kind      EventKind `json:"type"`
	CaseID    string    `json:"caseId,omitempty"`
	PatientID string    `json:"patientId,omitempty"`
	Status    Status    `json:"status,omitempty"`
	Message   string    `json:"message,omitempty"`
	Origin    string    `json:"origin,omitempty"`
	At        time.Time `json:"at"`
}

// Publisher is the outbound port to the sync bus. Implementations must not block
// on slow viewers.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

// NopPublisher drops every event. Useful for single-viewer tests.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(context.Context, Event) {}

// PartnerNotifier delivers "notify partner" requests. Delivery is best-effort
// and its outcome is not observable by the core.
type PartnerNotifier interface {
	NotifyPartner(ctx context.Context, p *Patient, at time.Time) error
}

// ClinicianNotifier tells the clinician side that a case awaits review.
type ClinicianNotifier interface {
	NotifyPendingReview(ctx context.Context, c *Case, p *Patient) error
}
