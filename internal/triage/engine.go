// internal/triage/engine.go
package triage

import (
	"fmt"
	"strings"
)

const (
	// EscalationTurns is the patient turn count at which RED and YELLOW intakes
	// stop gathering information and ask for consent to escalate.
	EscalationTurns = 3

	DefaultClinicianName = "Dr. Sharma"
)

// affirmations are matched as case-insensitive substrings of the reply to a confirmation gate.
var affirmations = []string{"yes", "sure", "ok", "send"}

const (
	assessmentRedInitial = "Visual analysis detects irregular borders and inflammation consistent with acute dermatitis or fungal infection."
	assessmentRedHigh    = assessmentRedInitial + " High probability of infection requiring immediate medical attention."
	assessmentSymptoms   = "Patient reported symptoms that may require medical attention. Further evaluation recommended."
	assessmentYellowPic  = "Visual analysis shows some signs that may require medical attention. Further evaluation recommended."

	replyDeclined        = "Okay, I won't send it to the doctor. Let me know if you change your mind or if symptoms worsen."
	replyPhotoRequest    = "I understand. Could you please upload a photo of the affected area for a better assessment?"
	replyFollowUp        = "I see. Have you noticed any other symptoms accompanying this?"
	replyReassure        = "That sounds normal. Keep monitoring it, and let me know if anything changes. You're doing great!"
	replyPartnerNotified = "I've sent a support alert to your partner as requested. They should be reaching out soon."
	replyPartnerOff      = "I notice you're going through a tough time. I haven't sent an alert to your partner since the setting is off, but I'm here for you."
	replyAnalyzingImage  = "Analyzing image..."
	replyImageYellow     = "I see some signs that might need attention. Would you like a doctor to take a look?"
	replyImageStable     = "Thanks for the photo. It looks stable. Keep monitoring it and let me know if anything changes."
)

// EffectKind names an externally observable side effect the engine may request.
type EffectKind string

const (
	EffectNotifyPartner EffectKind = "notify_partner"
	EffectToast         EffectKind = "toast"
)

// Effect is a side-effect request. The engine never performs it.
type Effect struct {
	Kind    EffectKind
	Message string
}

// Input is everything the engine may look at for one decision.
type Input struct {
	Category    RiskCategory
	PatientName string

	// Turns is the number of patient messages in the active case, including
	// the one being answered.
	Turns int

	// AwaitingConfirmation is the needsConfirmation flag of the latest bot message.
	AwaitingConfirmation bool

	// PartnerAlert is the patient's partner-alert setting.
	PartnerAlert bool

	Utterance string

	// RiskLevel and Assessment are the case's current values, used to decide
	// whether defaults must be filled in.
	RiskLevel  RiskLevel
	Assessment string
}

// Decision is the engine output for one bot turn. Status is the target status;
// StatusAnalyzing means the case stays open. Empty RiskLevel or Assessment
// leaves the case field unchanged.
type Decision struct {
	Reply             string
	NeedsConfirmation bool
	Status            Status
	RiskLevel         RiskLevel
	Assessment        string
	Effects           []Effect
}

// Engine is the deterministic dialogue rule table. It holds no state besides
// the clinician name used in replies.
type Engine struct {
	clinician string
}

// NewEngine creates an engine whose replies refer to the given clinician.
func NewEngine(clinicianName string) *Engine {
	if strings.TrimSpace(clinicianName) == "" {
		clinicianName = DefaultClinicianName
	}
	return &Engine{clinician: clinicianName}
}

// ClinicianName returns the name used in replies.
func (e *Engine) ClinicianName() string {
	return e.clinician
}

// Greeting is the opening bot line shown before any case exists.
func (e *Engine) Greeting(patientName string) string {
	return fmt.Sprintf("Good Morning, %s. How are you feeling today?", patientName)
}

// Decide applies the rule table to a text utterance. First matching rule wins.
func (e *Engine) Decide(in Input) Decision {
	if in.AwaitingConfirmation {
		return e.decideConfirmation(in)
	}

	switch in.Category {
	case CategoryRed:
		if in.Turns < EscalationTurns {
			return Decision{Reply: replyPhotoRequest, Status: StatusAnalyzing}
		}
		return Decision{
			Reply:             fmt.Sprintf("I've identified this as a high-priority case that may require urgent medical attention. Would you like me to send this to %s for an urgent review?", e.clinician),
			NeedsConfirmation: true,
			Status:            StatusAnalyzing,
			RiskLevel:         RiskHigh,
			Assessment:        assessmentRedHigh,
		}
	case CategoryYellow:
		if in.Turns < EscalationTurns {
			return Decision{Reply: replyFollowUp, Status: StatusAnalyzing}
		}
		return Decision{
			Reply:             fmt.Sprintf("Based on your symptoms, I think it would be good to have a doctor review your case. Would you like me to send this to %s for review?", e.clinician),
			NeedsConfirmation: true,
			Status:            StatusAnalyzing,
			RiskLevel:         RiskMedium,
			Assessment:        assessmentSymptoms,
		}
	case CategoryGreen:
		return Decision{Reply: replyReassure, Status: StatusResolved}
	case CategoryPartnerAlert:
		if !in.PartnerAlert {
			return Decision{Reply: replyPartnerOff, Status: StatusResolved}
		}
		return Decision{
			Reply:  replyPartnerNotified,
			Status: StatusResolved,
			Effects: []Effect{
				{Kind: EffectNotifyPartner},
				{Kind: EffectToast, Message: fmt.Sprintf("Partner Alert Sent to WhatsApp: %s needs support.", in.PatientName)},
			},
		}
	case CategoryUnclassified:
		return e.genericConfirmation()
	default:
		return e.genericConfirmation()
	}
}

func (e *Engine) genericConfirmation() Decision {
	return Decision{
		Reply:             fmt.Sprintf("Based on what you've told me, I think it would be good to have a doctor review your case. Would you like me to send this to %s for review?", e.clinician),
		NeedsConfirmation: true,
		Status:            StatusAnalyzing,
	}
}

func (e *Engine) decideConfirmation(in Input) Decision {
	if !IsAffirmative(in.Utterance) {
		return Decision{Reply: replyDeclined, Status: StatusResolved}
	}

	d := Decision{
		Reply:  fmt.Sprintf("Understood. I've forwarded your case to %s. You should hear back shortly.", e.clinician),
		Status: StatusPendingReview,
	}
	if in.Assessment == "" {
		d.Assessment = defaultAssessment(in.Category)
	}
	if in.RiskLevel == RiskNone {
		d.RiskLevel = DefaultRiskLevel(in.Category)
	}
	return d
}

// AcknowledgeImage is the first stage of the photo sub-flow.
func (e *Engine) AcknowledgeImage() Decision {
	return Decision{Reply: replyAnalyzingImage, Status: StatusAnalyzing}
}

// DecideImage is the second stage of the photo sub-flow: the category decision
// with image-adjusted assessment text.
func (e *Engine) DecideImage(in Input) Decision {
	switch in.Category {
	case CategoryRed:
		return Decision{
			Reply:             fmt.Sprintf("Based on the visual analysis, this looks like a potential infection. Would you like me to send this to %s for an urgent review?", e.clinician),
			NeedsConfirmation: true,
			Status:            StatusAnalyzing,
			RiskLevel:         RiskHigh,
			Assessment:        assessmentRedHigh,
		}
	case CategoryYellow:
		return Decision{
			Reply:             replyImageYellow,
			NeedsConfirmation: true,
			Status:            StatusAnalyzing,
			RiskLevel:         RiskMedium,
			Assessment:        assessmentYellowPic,
		}
	case CategoryGreen, CategoryPartnerAlert, CategoryUnclassified:
		return Decision{Reply: replyImageStable, Status: StatusResolved, RiskLevel: RiskLow, Assessment: replyImageStable}
	default:
		return Decision{Reply: replyImageStable, Status: StatusResolved, RiskLevel: RiskLow, Assessment: replyImageStable}
	}
}

// IsAffirmative reports whether text contains any affirmation token, ignoring case.
func IsAffirmative(text string) bool {
	lower := strings.ToLower(text)
	for _, tok := range affirmations {
		if strings.Contains(lower, tok) {
			return true
		}
	}
	return false
}

// DefaultRiskLevel is the risk level a category implies when nothing more
// specific has been assessed.
func DefaultRiskLevel(c RiskCategory) RiskLevel {
	switch c {
	case CategoryRed:
		return RiskHigh
	case CategoryYellow, CategoryUnclassified:
		return RiskMedium
	case CategoryGreen, CategoryPartnerAlert:
		return RiskLow
	default:
		return RiskMedium
	}
}

func defaultAssessment(c RiskCategory) string {
	if c == CategoryRed {
		return assessmentRedInitial
	}
	return assessmentSymptoms
}

// suggestionRule maps a phrase in the last bot message to quick replies.
type suggestionRule struct {
	match   func(text string) bool
	replies func(c RiskCategory) []string
}

func containsAny(subs ...string) func(string) bool {
	return func(text string) bool {
		for _, s := range subs {
			if strings.Contains(text, s) {
				return true
			}
		}
		return false
	}
}

func fixed(replies ...string) func(RiskCategory) []string {
	return func(RiskCategory) []string { return replies }
}

var suggestionRules = []suggestionRule{
	{match: containsAny("how are you feeling"), replies: openingSuggestions},
	{match: containsAny("upload a photo", "photo"), replies: fixed("I'll upload a photo", "Let me take a picture", "Sure, I'll send a photo")},
	{match: containsAny("other symptoms", "noticed any other"), replies: fixed("No, that's the main issue", "Yes, I've been feeling tired too", "Just some mild discomfort")},
	{match: containsAny("send this to", "doctor", "review"), replies: fixed("Yes, please send it", "Sure, send it to the doctor", "Yes, I'd like a review", "Yes, send it")},
}

func openingSuggestions(c RiskCategory) []string {
	switch c {
	case CategoryRed:
		return []string{"I have a painful lesion on my leg", "There's a rapidly growing sore on my leg", "I'm worried about a skin issue"}
	case CategoryYellow:
		return []string{"I noticed a small bump in my genital area", "I'm worried about a bump I found", "I have a concern about my health"}
	case CategoryGreen:
		return []string{"I'm doing well, just checking in", "Everything seems normal", "Just a general question"}
	case CategoryPartnerAlert:
		return []string{"I'm feeling really down today", "I need emotional support", "I'm going through a tough time"}
	case CategoryUnclassified:
		return nil
	default:
		return nil
	}
}

// Suggestions returns quick-reply options for the patient given the last bot line.
func (e *Engine) Suggestions(c RiskCategory, lastBotText string) []string {
	text := strings.ToLower(lastBotText)
	if text == "" {
		return nil
	}
	for _, r := range suggestionRules {
		if r.match(text) {
			if out := r.replies(c); len(out) > 0 {
				return out
			}
		}
	}
	return nil
}
