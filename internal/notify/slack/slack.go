// Package slack tells clinicians about cases awaiting review via a Slack
// incoming webhook.
package slack

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/carebridge/internal/notify"
	"github.com/linnemanlabs/carebridge/internal/triage"
)

const (
	maxAssessmentLen = 3000
	maxQuoteLen      = 500
)

// Notifier posts pending-review cases to a Slack webhook. It implements
// triage.ClinicianNotifier.
type Notifier struct {
	webhookURL string
	client     *http.Client
	logger     log.Logger
}

// New creates a new Slack notifier. If webhookURL is empty, sends are no-ops.
func New(webhookURL string, logger log.Logger) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	return &Notifier{
		webhookURL: webhookURL,
		client:     notify.NewClient(),
		logger:     logger,
	}
}

// NotifyPendingReview posts the case summary. If no webhook URL is configured,
// it returns nil immediately.
func (n *Notifier) NotifyPendingReview(ctx context.Context, c *triage.Case, p *triage.Patient) error {
	if n.webhookURL == "" {
		return nil
	}
	if err := notify.PostJSON(ctx, n.client, n.webhookURL, "slack", buildMessage(c, p)); err != nil {
		return err
	}
	n.logger.Info(ctx, "clinician notified", "case_id", c.ID, "risk", string(c.RiskLevel))
	return nil
}

func buildMessage(c *triage.Case, p *triage.Patient) map[string]any {
	return map[string]any{
		"blocks": []map[string]any{
			headerBlock(c, p),
			{"type": "divider"},
			fieldsBlock(c, p),
			{"type": "divider"},
			assessmentBlock(c),
			{"type": "divider"},
			contextBlock(c),
		},
	}
}

func headerBlock(c *triage.Case, p *triage.Patient) map[string]any {
	text := fmt.Sprintf("%s Review Requested: %s", riskEmoji(c.RiskLevel), patientName(c, p))

	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": text,
		},
	}
}

func fieldsBlock(c *triage.Case, p *triage.Patient) map[string]any {
	category := triage.CategoryUnclassified
	if p != nil {
		category = p.Category
	}
	risk := string(c.RiskLevel)
	if risk == "" {
		risk = "unassessed"
	}

	fields := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Risk:* %s", risk),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Category:* %s", category),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Patient turns:* %d", c.PatientTurns()),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Messages:* %d", len(c.ChatHistory)),
		},
	}

	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func assessmentBlock(c *triage.Case) map[string]any {
	text := truncate(c.AIAssessment, maxAssessmentLen)
	if text == "" {
		text = "_No assessment recorded._"
	}
	if last := lastPatientText(c); last != "" {
		text += fmt.Sprintf("\n\n*Patient said:*\n> %s", truncate(last, maxQuoteLen))
	}

	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Assessment*\n\n%s", text),
		},
	}
}

func contextBlock(c *triage.Case) map[string]any {
	ts := c.UpdatedAt
	if ts.IsZero() {
		ts = c.CreatedAt
	}

	elements := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("carebridge • case %s • %s", c.ID, ts.UTC().Format("2006-01-02 15:04 UTC")),
		},
	}

	return map[string]any{
		"type":     "context",
		"elements": elements,
	}
}

func riskEmoji(r triage.RiskLevel) string {
	switch r {
	case triage.RiskHigh:
		return "\U0001f534" // red circle
	case triage.RiskMedium, triage.RiskNone:
		return "\U0001f7e1" // yellow circle
	default:
		return "\U0001f7e2" // green circle
	}
}

func patientName(c *triage.Case, p *triage.Patient) string {
	if p != nil && p.Name != "" {
		return p.Name
	}
	return c.PatientID
}

func lastPatientText(c *triage.Case) string {
	for i := len(c.ChatHistory) - 1; i >= 0; i-- {
		m := c.ChatHistory[i]
		if m.Sender == triage.SenderUser && strings.TrimSpace(m.Text) != "" {
			return m.Text
		}
	}
	return ""
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}

var _ triage.ClinicianNotifier = (*Notifier)(nil)
