package triage

import "context"

// Scope names the patient and case a unit of work is acting on. Storage
// tracing reads it to label queries.
type Scope struct {
	PatientID string
	CaseID    string
}

type scopeKey struct{}

// WithScope returns ctx carrying sc. Empty fields keep the value already in ctx.
func WithScope(ctx context.Context, sc Scope) context.Context {
	if prev, ok := ScopeFromContext(ctx); ok {
		if sc.PatientID == "" {
			sc.PatientID = prev.PatientID
		}
		if sc.CaseID == "" {
			sc.CaseID = prev.CaseID
		}
	}
	return context.WithValue(ctx, scopeKey{}, sc)
}

// ScopeFromContext returns the scope attached by WithScope.
func ScopeFromContext(ctx context.Context) (Scope, bool) {
	sc, ok := ctx.Value(scopeKey{}).(Scope)
	return sc, ok
}
