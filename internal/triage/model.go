package triage

import (
	"strings"
	"time"
)

// Status tracks where a case is in its lifecycle.
type Status string

const (
	// StatusAnalyzing means intake is in progress; never shown to clinicians
	StatusAnalyzing Status = "ANALYZING"

	// StatusPendingReview means the patient consented to escalation
	StatusPendingReview Status = "PENDING_REVIEW"

	// StatusApproved means a clinician approved the assessment
	StatusApproved Status = "APPROVED"

	// StatusRejected means a clinician rejected the assessment
	StatusRejected Status = "REJECTED"

	// StatusResolved means closed without clinician involvement
	StatusResolved Status = "RESOLVED"
)

// RiskLevel is the clinical severity assigned to a case. The zero value means
// the case has not been assessed yet.
type RiskLevel string

const (
	RiskNone   RiskLevel = ""
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// Valid reports whether r is one of the assessed levels.
func (r RiskLevel) Valid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh:
		return true
	}
	return false
}

// RiskCategory is the fixed per-patient classification that seeds dialogue branching.
type RiskCategory string

const (
	CategoryRed          RiskCategory = "RED"
	CategoryYellow       RiskCategory = "YELLOW"
	CategoryGreen        RiskCategory = "GREEN"
	CategoryPartnerAlert RiskCategory = "PARTNER_ALERT"

	// CategoryUnclassified covers any category the rule table does not know.
	CategoryUnclassified RiskCategory = "UNCLASSIFIED"
)

// ParseRiskCategory maps a stored category string onto the enum. Unknown
// values become CategoryUnclassified rather than an error.
func ParseRiskCategory(s string) RiskCategory {
	switch c := RiskCategory(strings.ToUpper(strings.TrimSpace(s))); c {
	case CategoryRed, CategoryYellow, CategoryGreen, CategoryPartnerAlert:
		return c
	default:
		return CategoryUnclassified
	}
}

// Sender identifies who authored a message.
type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// Message is a single chat entry. Messages are immutable once appended to a case.
type Message struct {
	ID                string    `json:"id"`
	Sender            Sender    `json:"sender"`
	Text              string    `json:"text"`
	ImageURL          string    `json:"imageUrl,omitempty"`
	NeedsConfirmation bool      `json:"needsConfirmation,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
}

// Case is one triage episode for a patient.
type Case struct {
	ID           string    `json:"id"`
	PatientID    string    `json:"patientId"`
	Status       Status    `json:"status"`
	RiskLevel    RiskLevel `json:"riskLevel,omitempty"`
	AIAssessment string    `json:"aiAssessment"`
	ChatHistory  []Message `json:"chatHistory"`
	CreatedAt    time.Time `json:"timestamp"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Clone returns a deep copy so callers never share the history slice.
func (c *Case) Clone() *Case {
	cp := *c
	cp.ChatHistory = append([]Message(nil), c.ChatHistory...)
	return &cp
}

// LastBotMessage returns the most recent bot message, if any.
func (c *Case) LastBotMessage() (Message, bool) {
	for i := len(c.ChatHistory) - 1; i >= 0; i-- {
		if c.ChatHistory[i].Sender == SenderBot {
			return c.ChatHistory[i], true
		}
	}
	return Message{}, false
}

// PatientTurns counts the patient messages in the case.
func (c *Case) PatientTurns() int {
	n := 0
	for i := range c.ChatHistory {
		if c.ChatHistory[i].Sender == SenderUser {
			n++
		}
	}
	return n
}

// Settings is the mutable per-patient preferences record.
type Settings struct {
	PartnerAlert      bool `json:"partnerAlert"`
	WearableConnected bool `json:"wearableConnected"`
}

// Patient is the directory view of a patient the core needs for decisions.
type Patient struct {
	ID       string       `json:"id"`
	Name     string       `json:"name"`
	Category RiskCategory `json:"caseType"`
	Settings Settings     `json:"settings"`
}
