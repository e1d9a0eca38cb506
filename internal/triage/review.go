package triage

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Verdict is a clinician's decision on a pending case.
type Verdict string

const (
	VerdictApprove Verdict = "approve"
	VerdictReject  Verdict = "reject"
)

// ParseVerdict accepts "approve"/"approved" and "reject"/"rejected", any case.
func ParseVerdict(s string) (Verdict, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "approve", "approved":
		return VerdictApprove, nil
	case "reject", "rejected":
		return VerdictReject, nil
	}
	return "", fmt.Errorf("%w: unknown decision %q", ErrValidation, s)
}

func (v Verdict) status() Status {
	if v == VerdictApprove {
		return StatusApproved
	}
	return StatusRejected
}

// Direction moves a risk level one step.
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// ParseDirection accepts "up"/"increase" and "down"/"decrease", any case.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "up", "increase":
		return DirectionUp, nil
	case "down", "decrease":
		return DirectionDown, nil
	}
	return "", fmt.Errorf("%w: unknown direction %q", ErrValidation, s)
}

var riskLadder = []RiskLevel{RiskLow, RiskMedium, RiskHigh}

// Step returns the level one step in dir from r. An unassessed level counts as
// MEDIUM. The result equals r at the ceiling or floor.
func (r RiskLevel) Step(dir Direction) RiskLevel {
	if r == RiskNone {
		r = RiskMedium
	}
	idx := 1
	for i, l := range riskLadder {
		if l == r {
			idx = i
		}
	}
	switch dir {
	case DirectionUp:
		if idx < len(riskLadder)-1 {
			idx++
		}
	case DirectionDown:
		if idx > 0 {
			idx--
		}
	}
	return riskLadder[idx]
}

// ReviewResult is the outcome of a clinician action. NoOp is set when the
// action had no effect; that is a success, not an error.
type ReviewResult struct {
	Case   *Case  `json:"case"`
	NoOp   bool   `json:"noop"`
	Reason string `json:"reason,omitempty"`
}

// Review is the read side of the clinician surface. Only cases whose status is
// visible are ever returned.
type Review struct {
	store Store
}

// NewReview creates a review surface over store.
func NewReview(store Store) *Review {
	return &Review{store: store}
}

// ListVisible returns clinician-visible cases, newest first.
func (r *Review) ListVisible(ctx context.Context) ([]*Case, error) {
	all, err := r.store.ListCases(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: list cases: %w", ErrStorageUnavailable, err)
	}
	out := make([]*Case, 0, len(all))
	for _, c := range all {
		if c.Status.Visible() {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Get returns a visible case. Unknown and hidden cases are both ErrCaseNotFound.
func (r *Review) Get(ctx context.Context, id string) (*Case, error) {
	c, ok, err := r.store.GetCase(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: get case: %w", ErrStorageUnavailable, err)
	}
	if !ok || !c.Status.Visible() {
		return nil, ErrCaseNotFound
	}
	return c, nil
}

// Review returns the clinician read side sharing the service's store.
func (s *Service) Review() *Review {
	return NewReview(s.store)
}

// RecordClinicianDecision approves or rejects a pending case. Repeating the
// decision a case already carries is a no-op.
func (s *Service) RecordClinicianDecision(ctx context.Context, caseID string, v Verdict) (*ReviewResult, error) {
	if v != VerdictApprove && v != VerdictReject {
		return nil, fmt.Errorf("%w: unknown decision %q", ErrValidation, v)
	}

	unlock := s.locks.Lock("case:" + caseID)
	defer unlock()
	ctx = WithScope(ctx, Scope{CaseID: caseID})

	c, err := s.Review().Get(ctx, caseID)
	if err != nil {
		return nil, err
	}

	target := v.status()
	if c.Status == target {
		s.clinicianAction("decision", "noop")
		return &ReviewResult{Case: c, NoOp: true, Reason: "already " + strings.ToLower(string(target))}, nil
	}
	if !c.Status.CanTransition(target) {
		s.clinicianAction("decision", "invalid")
		return nil, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, c.Status, target)
	}

	prev := c.Status
	c.Status = target
	c.UpdatedAt = s.now()
	if err := s.put(ctx, c, "put_case"); err != nil {
		return nil, err
	}
	s.transitioned(ctx, c, prev)
	s.clinicianAction("decision", string(v))
	s.publishCase(ctx, c)
	if target == StatusApproved {
		s.toast(ctx, c.PatientID, fmt.Sprintf("%s has approved your diagnosis.", s.engine.ClinicianName()))
	}
	return &ReviewResult{Case: c}, nil
}

// OverrideRisk moves the risk level of a pending case one step. It is a no-op
// at the ceiling or floor and once the case has left PENDING_REVIEW.
func (s *Service) OverrideRisk(ctx context.Context, caseID string, dir Direction) (*ReviewResult, error) {
	if dir != DirectionUp && dir != DirectionDown {
		return nil, fmt.Errorf("%w: unknown direction %q", ErrValidation, dir)
	}

	unlock := s.locks.Lock("case:" + caseID)
	defer unlock()
	ctx = WithScope(ctx, Scope{CaseID: caseID})

	c, err := s.Review().Get(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if c.Status != StatusPendingReview {
		s.clinicianAction("override", "noop")
		return &ReviewResult{Case: c, NoOp: true, Reason: "case is not pending review"}, nil
	}

	current := c.RiskLevel
	if current == RiskNone {
		current = RiskMedium
	}
	next := current.Step(dir)
	if next == current {
		s.clinicianAction("override", "noop")
		reason := "already at highest risk"
		if dir == DirectionDown {
			reason = "already at lowest risk"
		}
		return &ReviewResult{Case: c, NoOp: true, Reason: reason}, nil
	}

	c.RiskLevel = next
	c.UpdatedAt = s.now()
	if err := s.put(ctx, c, "put_case"); err != nil {
		return nil, err
	}
	s.clinicianAction("override", string(dir))
	s.publishCase(ctx, c)
	return &ReviewResult{Case: c}, nil
}

// EditAssessment replaces the assessment text of a visible case.
func (s *Service) EditAssessment(ctx context.Context, caseID, text string) (*ReviewResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: assessment text is required", ErrValidation)
	}

	unlock := s.locks.Lock("case:" + caseID)
	defer unlock()
	ctx = WithScope(ctx, Scope{CaseID: caseID})

	c, err := s.Review().Get(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if c.AIAssessment == text {
		s.clinicianAction("edit", "noop")
		return &ReviewResult{Case: c, NoOp: true, Reason: "assessment unchanged"}, nil
	}

	c.AIAssessment = text
	c.UpdatedAt = s.now()
	if err := s.put(ctx, c, "put_case"); err != nil {
		return nil, err
	}
	s.clinicianAction("edit", "updated")
	s.publishCase(ctx, c)
	return &ReviewResult{Case: c}, nil
}

func (s *Service) clinicianAction(action, outcome string) {
	if s.hooks.OnClinicianAction != nil {
		s.hooks.OnClinicianAction(action, outcome)
	}
}
