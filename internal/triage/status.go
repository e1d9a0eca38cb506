package triage

// transitions is the case state machine. Any pair not listed is rejected.
var transitions = map[Status][]Status{
	StatusAnalyzing:     {StatusPendingReview, StatusResolved},
	StatusPendingReview: {StatusApproved, StatusRejected},
}

// CanTransition reports whether the state machine allows moving from s to next.
func (s Status) CanTransition(next Status) bool {
	for _, to := range transitions[s] {
		if to == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition exists out of s.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// Visible reports whether a case in this status appears on clinician views.
// Open intakes are hidden until the patient consents to escalation.
func (s Status) Visible() bool {
	switch s {
	case StatusPendingReview, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusAnalyzing, StatusPendingReview, StatusApproved, StatusRejected, StatusResolved:
		return true
	}
	return false
}
