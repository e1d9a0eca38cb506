package triage

import "errors"

var (
	// ErrValidation is returned for malformed clinician input (empty assessment, unknown enum).
	ErrValidation = errors.New("validation failed")

	// ErrPatientNotFound is returned when the directory has no such patient.
	ErrPatientNotFound = errors.New("patient not found")

	// ErrCaseNotFound is returned for unknown case IDs, and for cases a clinician cannot see.
	ErrCaseNotFound = errors.New("case not found")

	// ErrInvalidTransition is returned when the state machine forbids a status change.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrOpenCaseConflict is returned by a store that refuses a second open case
	// for a patient, which another process created first.
	ErrOpenCaseConflict = errors.New("patient already has an open case")

	// ErrStorageUnavailable wraps any failure of the store medium. The case is unmodified.
	ErrStorageUnavailable = errors.New("storage unavailable")
)
