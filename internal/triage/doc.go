// Package triage provides the business boundary for carebridge's case lifecycle.
// It defines the Service (open-case tracking, lifecycle, deferred image stages),
// Engine (pure dialogue decisions), Review (clinician-facing reads and actions),
// Store interface (persistence), Publisher port (viewer sync), and domain models.
package triage
