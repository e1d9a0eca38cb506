// Package webhook delivers partner alerts as a JSON POST to a configured URL.
package webhook

import (
	"context"
	"net/http"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/carebridge/internal/notify"
	"github.com/linnemanlabs/carebridge/internal/triage"
)

// Payload is the partner alert body.
type Payload struct {
	PatientID   string    `json:"patientId"`
	PatientName string    `json:"patientName"`
	Timestamp   time.Time `json:"timestamp"`
}

// Notifier implements triage.PartnerNotifier. With no URL configured it only
// logs the request.
type Notifier struct {
	url    string
	client *http.Client
	logger log.Logger
}

// New creates a partner webhook notifier.
func New(url string, logger log.Logger) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	return &Notifier{url: url, client: notify.NewClient(), logger: logger}
}

// NotifyPartner posts {patientId, patientName, timestamp}.
func (n *Notifier) NotifyPartner(ctx context.Context, p *triage.Patient, at time.Time) error {
	L := n.logger.With("patient_id", p.ID)
	if n.url == "" {
		L.Info(ctx, "partner alert requested, no webhook configured")
		return nil
	}

	err := notify.PostJSON(ctx, n.client, n.url, "partner webhook", Payload{
		PatientID:   p.ID,
		PatientName: p.Name,
		Timestamp:   at.UTC(),
	})
	if err != nil {
		return err
	}
	L.Info(ctx, "partner alert delivered")
	return nil
}

var _ triage.PartnerNotifier = (*Notifier)(nil)
