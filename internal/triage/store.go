package triage

import "context"

// Store is the persistence interface for cases and per-patient settings.
// Writes are whole-record replaces keyed by ID; there is no partial field update
// and no cross-record transaction.
type Store interface {
	ListCases(ctx context.Context) ([]*Case, error)
	GetCase(ctx context.Context, id string) (*Case, bool, error)
	PutCase(ctx context.Context, c *Case) error
	GetSettings(ctx context.Context, patientID string) (*Settings, bool, error)
	PutSettings(ctx context.Context, patientID string, s *Settings) error

	// ResetAll wipes every case and settings record.
	ResetAll(ctx context.Context) error
}

// Directory is the read-only patient lookup owned outside the core.
type Directory interface {
	GetPatient(ctx context.Context, id string) (*Patient, bool, error)
}
