package triage

import (
	"context"
	"testing"
)

func TestWithScope_Merges(t *testing.T) {
	t.Parallel()

	ctx := WithScope(context.Background(), Scope{PatientID: "p1"})
	ctx = WithScope(ctx, Scope{CaseID: "c1"})

	got, ok := ScopeFromContext(ctx)
	if !ok {
		t.Fatal("scope missing")
	}
	if got != (Scope{PatientID: "p1", CaseID: "c1"}) {
		t.Errorf("scope = %+v", got)
	}

	ctx = WithScope(ctx, Scope{PatientID: "p2"})
	if got, _ := ScopeFromContext(ctx); got.PatientID != "p2" || got.CaseID != "c1" {
		t.Errorf("override = %+v", got)
	}

	if _, ok := ScopeFromContext(context.Background()); ok {
		t.Error("plain context has a scope")
	}
}
