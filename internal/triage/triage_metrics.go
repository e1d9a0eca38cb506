package triage

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for the case lifecycle.
type Metrics struct {
	CasesCreated     *prometheus.CounterVec
	Transitions      *prometheus.CounterVec
	BotReplies       *prometheus.CounterVec
	ClinicianActions *prometheus.CounterVec
	StoreErrors      *prometheus.CounterVec
	ImageStageDelay  *prometheus.HistogramVec
}

// NewMetrics registers and returns triage metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CasesCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "carebridge_cases_created_total",
			Help: "Total cases opened by patient risk category.",
		}, []string{"category"}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "carebridge_case_transitions_total",
			Help: "Total case status transitions.",
		}, []string{"from", "to"}),
		BotReplies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "carebridge_bot_replies_total",
			Help: "Total bot replies by category and whether they asked for confirmation.",
		}, []string{"category", "confirmation"}),
		ClinicianActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "carebridge_clinician_actions_total",
			Help: "Total clinician actions by action and outcome.",
		}, []string{"action", "outcome"}),
		StoreErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "carebridge_store_errors_total",
			Help: "Total case store failures by operation.",
		}, []string{"op"}),
		ImageStageDelay: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "carebridge_image_stage_delay_seconds",
			Help:    "Time from photo upload to each analysis stage reply.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8), // 0.25s .. 32s
		}, []string{"stage"}),
	}

	reg.MustRegister(
		m.CasesCreated,
		m.Transitions,
		m.BotReplies,
		m.ClinicianActions,
		m.StoreErrors,
		m.ImageStageDelay,
	)

	return m
}

// Hooks returns ServiceHooks that increment the corresponding metrics.
func (m *Metrics) Hooks() ServiceHooks {
	return ServiceHooks{
		OnCaseCreated: func(category RiskCategory) {
			m.CasesCreated.WithLabelValues(string(category)).Inc()
		},
		OnTransition: func(from, to Status) {
			m.Transitions.WithLabelValues(string(from), string(to)).Inc()
		},
		OnReply: func(category RiskCategory, needsConfirmation bool) {
			confirmation := "false"
			if needsConfirmation {
				confirmation = "true"
			}
			m.BotReplies.WithLabelValues(string(category), confirmation).Inc()
		},
		OnClinicianAction: func(action, outcome string) {
			m.ClinicianActions.WithLabelValues(action, outcome).Inc()
		},
		OnStoreError: func(op string) {
			m.StoreErrors.WithLabelValues(op).Inc()
		},
		OnImageStage: func(stage string, sinceUpload time.Duration) {
			m.ImageStageDelay.WithLabelValues(stage).Observe(sinceUpload.Seconds())
		},
	}
}
