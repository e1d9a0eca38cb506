package pgstore_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/linnemanlabs/carebridge/internal/postgres"
	"github.com/linnemanlabs/carebridge/internal/triage"
	"github.com/linnemanlabs/carebridge/internal/triage/pgstore"
	"github.com/linnemanlabs/carebridge/internal/triage/storetest"
)

func openStore(t *testing.T) *pgstore.Store {
	t.Helper()
	dsn := os.Getenv("CAREBRIDGE_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("CAREBRIDGE_TEST_DATABASE_URL not set, skipping integration test")
	}
	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, dsn)
	if err != nil {
		t.Fatalf("postgres.NewPool: %v", err)
	}
	t.Cleanup(pool.Close)

	s, err := pgstore.New(ctx, pool)
	if err != nil {
		t.Fatalf("pgstore.New: %v", err)
	}
	if err := s.ResetAll(ctx); err != nil {
		t.Fatalf("ResetAll: %v", err)
	}
	return s
}

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) triage.Store { return openStore(t) })
}

func TestPutCase_NilHistory(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	now := time.Now().Truncate(time.Microsecond).UTC()
	c := &triage.Case{ID: "pg-nil-history", PatientID: "p1", Status: triage.StatusAnalyzing, CreatedAt: now, UpdatedAt: now}
	if err := s.PutCase(ctx, c); err != nil {
		t.Fatalf("PutCase: %v", err)
	}

	got, ok, err := s.GetCase(ctx, c.ID)
	if err != nil || !ok {
		t.Fatalf("GetCase = %v, %v", ok, err)
	}
	if len(got.ChatHistory) != 0 {
		t.Errorf("history = %v, want empty", got.ChatHistory)
	}
	if got.RiskLevel != triage.RiskNone {
		t.Errorf("RiskLevel = %q, want empty", got.RiskLevel)
	}
	if !got.CreatedAt.Equal(now) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, now)
	}
}

func TestPutCase_SecondOpenCaseConflicts(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	if err := s.PutCase(ctx, storetest.Sample("open-1", "p1", triage.StatusAnalyzing)); err != nil {
		t.Fatalf("PutCase: %v", err)
	}
	// Rewriting the same open case is fine.
	if err := s.PutCase(ctx, storetest.Sample("open-1", "p1", triage.StatusAnalyzing)); err != nil {
		t.Fatalf("PutCase rewrite: %v", err)
	}

	err := s.PutCase(ctx, storetest.Sample("open-2", "p1", triage.StatusAnalyzing))
	if !errors.Is(err, triage.ErrOpenCaseConflict) {
		t.Fatalf("second open case err = %v, want ErrOpenCaseConflict", err)
	}
	if _, ok, _ := s.GetCase(ctx, "open-2"); ok {
		t.Error("conflicting case was written")
	}

	// Closed cases and other patients are unaffected.
	if err := s.PutCase(ctx, storetest.Sample("done-1", "p1", triage.StatusResolved)); err != nil {
		t.Errorf("PutCase resolved: %v", err)
	}
	if err := s.PutCase(ctx, storetest.Sample("open-3", "p2", triage.StatusAnalyzing)); err != nil {
		t.Errorf("PutCase other patient: %v", err)
	}
}
