package caseapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/carebridge/internal/triage"
)

type messageRequest struct {
	Text string `json:"text"`
}

type imageRequest struct {
	ImageURL string `json:"imageUrl"`
}

type partnerAlertResponse struct {
	Notified bool `json:"notified"`
}

func patientID(r *http.Request) string {
	id := chi.URLParam(r, "id")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("carebridge.patient.id", id))
	return id
}

func (a *API) handleListPatients(w http.ResponseWriter, r *http.Request) {
	roster, err := a.dir.ListPatients(r.Context())
	if err != nil {
		a.fail(w, r, err, "failed to list patients")
		return
	}

	out := make([]*triage.Patient, 0, len(roster))
	for _, p := range roster {
		withSettings, err := a.svc.Patient(r.Context(), p.ID)
		if err != nil {
			a.fail(w, r, err, "failed to load patient", "patient_id", p.ID)
			return
		}
		out = append(out, withSettings)
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleGetPatient(w http.ResponseWriter, r *http.Request) {
	id := patientID(r)
	p, err := a.svc.Patient(r.Context(), id)
	if err != nil {
		a.fail(w, r, err, "failed to get patient", "patient_id", id)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) handleGetDetails(w http.ResponseWriter, r *http.Request) {
	id := patientID(r)
	det, ok, err := a.dir.GetPatientDetails(r.Context(), id)
	if err != nil {
		a.fail(w, r, err, "failed to get patient details", "patient_id", id)
		return
	}
	if !ok {
		a.fail(w, r, triage.ErrPatientNotFound, "")
		return
	}
	writeJSON(w, http.StatusOK, det)
}

func (a *API) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	id := patientID(r)
	var st triage.Settings
	if !decode(w, r, &st) {
		return
	}
	p, err := a.svc.UpdateSettings(r.Context(), id, st)
	if err != nil {
		a.fail(w, r, err, "failed to update settings", "patient_id", id)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) handlePartnerAlert(w http.ResponseWriter, r *http.Request) {
	id := patientID(r)
	notified, err := a.svc.RequestPartnerAlert(r.Context(), id)
	if err != nil {
		a.fail(w, r, err, "partner alert failed", "patient_id", id)
		return
	}
	writeJSON(w, http.StatusOK, partnerAlertResponse{Notified: notified})
}

func (a *API) handleConversation(w http.ResponseWriter, r *http.Request) {
	id := patientID(r)
	conv, err := a.svc.Conversation(r.Context(), id)
	if err != nil {
		a.fail(w, r, err, "failed to load conversation", "patient_id", id)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (a *API) handleSubmitMessage(w http.ResponseWriter, r *http.Request) {
	id := patientID(r)
	var req messageRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := a.svc.SubmitUserMessage(r.Context(), id, req.Text)
	if err != nil {
		a.fail(w, r, err, "failed to submit message", "patient_id", id)
		return
	}
	a.writeSubmit(w, r, res)
}

func (a *API) handleSubmitImage(w http.ResponseWriter, r *http.Request) {
	id := patientID(r)
	var req imageRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := a.svc.SubmitImage(r.Context(), id, req.ImageURL)
	if err != nil {
		a.fail(w, r, err, "failed to submit image", "patient_id", id)
		return
	}
	a.writeSubmit(w, r, res)
}

func (a *API) writeSubmit(w http.ResponseWriter, r *http.Request, res *triage.SubmitResult) {
	if res.Case != nil {
		trace.SpanFromContext(r.Context()).SetAttributes(
			attribute.String("carebridge.case.id", res.Case.ID),
			attribute.String("carebridge.case.status", string(res.Case.Status)),
		)
	}
	writeJSON(w, http.StatusOK, res)
}
