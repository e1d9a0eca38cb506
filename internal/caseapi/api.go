// Package caseapi is the HTTP surface for patients, clinicians and operators.
package caseapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/carebridge/internal/authmw"
	"github.com/linnemanlabs/carebridge/internal/directory"
	"github.com/linnemanlabs/carebridge/internal/triage"
)

// CaseService defines the lifecycle operations caseapi needs.
type CaseService interface {
	Patient(ctx context.Context, patientID string) (*triage.Patient, error)
	Conversation(ctx context.Context, patientID string) (*triage.Conversation, error)
	SubmitUserMessage(ctx context.Context, patientID, text string) (*triage.SubmitResult, error)
	SubmitImage(ctx context.Context, patientID, imageRef string) (*triage.SubmitResult, error)
	UpdateSettings(ctx context.Context, patientID string, st triage.Settings) (*triage.Patient, error)
	RequestPartnerAlert(ctx context.Context, patientID string) (bool, error)

	Review() *triage.Review
	RecordClinicianDecision(ctx context.Context, caseID string, v triage.Verdict) (*triage.ReviewResult, error)
	OverrideRisk(ctx context.Context, caseID string, dir triage.Direction) (*triage.ReviewResult, error)
	EditAssessment(ctx context.Context, caseID, text string) (*triage.ReviewResult, error)

	ResetAll(ctx context.Context) error
}

// Directory is the roster lookup caseapi needs beyond triage.Directory.
type Directory interface {
	ListPatients(ctx context.Context) ([]*triage.Patient, error)
	GetPatientDetails(ctx context.Context, id string) (*directory.Details, bool, error)
}

// Options carries the optional settings of an API.
type Options struct {
	// OperatorToken guards /api/v1/admin. Empty disables those routes.
	OperatorToken string
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger log.Logger
	svc    CaseService
	dir    Directory
	opts   Options
}

// New creates a new API handler.
func New(logger log.Logger, svc CaseService, dir Directory, opts Options) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("case service is required"))
	}
	if dir == nil {
		panic(xerrors.New("patient directory is required"))
	}
	return &API{
		logger: logger,
		svc:    svc,
		dir:    dir,
		opts:   opts,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/patients", func(r chi.Router) {
			r.Get("/", a.handleListPatients)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", a.handleGetPatient)
				r.Get("/details", a.handleGetDetails)
				r.Put("/settings", a.handleUpdateSettings)
				r.Post("/partner-alert", a.handlePartnerAlert)
				r.Get("/conversation", a.handleConversation)
				r.Post("/messages", a.handleSubmitMessage)
				r.Post("/images", a.handleSubmitImage)
			})
		})

		r.Route("/cases", func(r chi.Router) {
			r.Get("/", a.handleListCases)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", a.handleGetCase)
				r.Post("/decision", a.handleDecision)
				r.Post("/risk", a.handleOverrideRisk)
				r.Put("/assessment", a.handleEditAssessment)
			})
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(authmw.Operator(a.opts.OperatorToken, a.logger))
			r.Post("/reset", a.handleReset)
		})
	})
}

// errorStatus maps lifecycle errors to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, triage.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, triage.ErrPatientNotFound), errors.Is(err, triage.ErrCaseNotFound):
		return http.StatusNotFound
	case errors.Is(err, triage.ErrInvalidTransition), errors.Is(err, triage.ErrOpenCaseConflict):
		return http.StatusConflict
	case errors.Is(err, triage.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// fail writes the error response. Server-side failures are logged and their
// detail withheld from the client.
func (a *API) fail(w http.ResponseWriter, r *http.Request, err error, msg string, kv ...any) {
	code := errorStatus(err)
	text := err.Error()
	if code >= http.StatusInternalServerError {
		a.logger.Error(r.Context(), err, msg, kv...)
		text = http.StatusText(code)
	}
	writeJSON(w, code, map[string]string{"error": text})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	// nothing to do with errors here
	_ = json.NewEncoder(w).Encode(v)
}

// decode reads a JSON body into v, reporting a 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return false
	}
	return true
}
