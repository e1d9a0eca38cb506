package caseapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/carebridge/internal/triage"
)

type decisionRequest struct {
	Decision string `json:"decision"`
}

type riskRequest struct {
	Direction string `json:"direction"`
}

type assessmentRequest struct {
	Text string `json:"text"`
}

func caseID(r *http.Request) string {
	id := chi.URLParam(r, "id")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("carebridge.case.id", id))
	return id
}

func (a *API) handleListCases(w http.ResponseWriter, r *http.Request) {
	cases, err := a.svc.Review().ListVisible(r.Context())
	if err != nil {
		a.fail(w, r, err, "failed to list cases")
		return
	}
	writeJSON(w, http.StatusOK, cases)
}

func (a *API) handleGetCase(w http.ResponseWriter, r *http.Request) {
	id := caseID(r)
	c, err := a.svc.Review().Get(r.Context(), id)
	if err != nil {
		a.fail(w, r, err, "failed to get case", "case_id", id)
		return
	}
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("carebridge.case.status", string(c.Status)))
	writeJSON(w, http.StatusOK, c)
}

func (a *API) handleDecision(w http.ResponseWriter, r *http.Request) {
	id := caseID(r)
	var req decisionRequest
	if !decode(w, r, &req) {
		return
	}
	v, err := triage.ParseVerdict(req.Decision)
	if err != nil {
		a.fail(w, r, err, "")
		return
	}
	a.writeReview(w, r, id, "decision")(a.svc.RecordClinicianDecision(r.Context(), id, v))
}

func (a *API) handleOverrideRisk(w http.ResponseWriter, r *http.Request) {
	id := caseID(r)
	var req riskRequest
	if !decode(w, r, &req) {
		return
	}
	dir, err := triage.ParseDirection(req.Direction)
	if err != nil {
		a.fail(w, r, err, "")
		return
	}
	a.writeReview(w, r, id, "risk override")(a.svc.OverrideRisk(r.Context(), id, dir))
}

func (a *API) handleEditAssessment(w http.ResponseWriter, r *http.Request) {
	id := caseID(r)
	var req assessmentRequest
	if !decode(w, r, &req) {
		return
	}
	a.writeReview(w, r, id, "assessment edit")(a.svc.EditAssessment(r.Context(), id, req.Text))
}

// writeReview returns a sink for a clinician action's result.
func (a *API) writeReview(w http.ResponseWriter, r *http.Request, id, action string) func(*triage.ReviewResult, error) {
	return func(res *triage.ReviewResult, err error) {
		if err != nil {
			a.fail(w, r, err, action+" failed", "case_id", id)
			return
		}
		trace.SpanFromContext(r.Context()).SetAttributes(attribute.Bool("carebridge.review.noop", res.NoOp))
		writeJSON(w, http.StatusOK, res)
	}
}

func (a *API) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.ResetAll(r.Context()); err != nil {
		a.fail(w, r, err, "reset failed")
		return
	}
	a.logger.Warn(r.Context(), "all cases and settings reset by operator", "remote_addr", r.RemoteAddr)
	w.WriteHeader(http.StatusNoContent)
}
