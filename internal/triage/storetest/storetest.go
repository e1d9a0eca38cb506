// Package storetest is a conformance suite every triage.Store medium runs
// from its own tests.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/linnemanlabs/carebridge/internal/triage"
)

// Factory returns an empty store. It is called once per subtest.
type Factory func(t *testing.T) triage.Store

// Run exercises the Store contract against stores made by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("PutAndGet", func(t *testing.T) { testPutAndGet(t, newStore(t)) })
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, newStore(t)) })
	t.Run("PutReplaces", func(t *testing.T) { testPutReplaces(t, newStore(t)) })
	t.Run("ReturnsCopies", func(t *testing.T) { testReturnsCopies(t, newStore(t)) })
	t.Run("ListCases", func(t *testing.T) { testListCases(t, newStore(t)) })
	t.Run("Settings", func(t *testing.T) { testSettings(t, newStore(t)) })
	t.Run("ResetAll", func(t *testing.T) { testResetAll(t, newStore(t)) })
	t.Run("ConcurrentPuts", func(t *testing.T) { testConcurrentPuts(t, newStore(t)) })
}

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// Sample returns a populated case for tests.
func Sample(id, patientID string, status triage.Status) *triage.Case {
	return &triage.Case{
		ID:           id,
		PatientID:    patientID,
		Status:       status,
		RiskLevel:    triage.RiskHigh,
		AIAssessment: "Visual analysis detects irregular borders.",
		ChatHistory: []triage.Message{
			{ID: id + "-m1", Sender: triage.SenderUser, Text: "Uploaded an image", ImageURL: "img://1", CreatedAt: base},
			{ID: id + "-m2", Sender: triage.SenderBot, Text: "Would you like a doctor to take a look?", NeedsConfirmation: true, CreatedAt: base.Add(time.Second)},
		},
		CreatedAt: base,
		UpdatedAt: base.Add(time.Second),
	}
}

func testPutAndGet(t *testing.T, s triage.Store) {
	ctx := context.Background()
	want := Sample("c-1", "p1", triage.StatusPendingReview)
	if err := s.PutCase(ctx, want); err != nil {
		t.Fatalf("PutCase: %v", err)
	}

	got, ok, err := s.GetCase(ctx, "c-1")
	if err != nil {
		t.Fatalf("GetCase: %v", err)
	}
	if !ok {
		t.Fatal("expected case to be found")
	}
	if got.PatientID != "p1" || got.Status != triage.StatusPendingReview || got.RiskLevel != triage.RiskHigh {
		t.Errorf("got %+v", got)
	}
	if got.AIAssessment != want.AIAssessment {
		t.Errorf("AIAssessment = %q, want %q", got.AIAssessment, want.AIAssessment)
	}
	if len(got.ChatHistory) != 2 {
		t.Fatalf("history length = %d, want 2", len(got.ChatHistory))
	}
	m := got.ChatHistory[1]
	if m.Sender != triage.SenderBot || !m.NeedsConfirmation || m.ID != "c-1-m2" {
		t.Errorf("message = %+v", m)
	}
	if got.ChatHistory[0].ImageURL != "img://1" {
		t.Errorf("ImageURL = %q", got.ChatHistory[0].ImageURL)
	}
	if !got.CreatedAt.Equal(want.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, want.CreatedAt)
	}
}

func testGetMissing(t *testing.T, s triage.Store) {
	_, ok, err := s.GetCase(context.Background(), "nonexistent")
	if err != nil {
		t.Fatalf("GetCase: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for missing ID")
	}
}

func testPutReplaces(t *testing.T, s triage.Store) {
	ctx := context.Background()
	c := Sample("c-1", "p1", triage.StatusAnalyzing)
	if err := s.PutCase(ctx, c); err != nil {
		t.Fatalf("PutCase: %v", err)
	}
	c.Status = triage.StatusResolved
	c.RiskLevel = triage.RiskNone
	c.ChatHistory = append(c.ChatHistory, triage.Message{ID: "c-1-m3", Sender: triage.SenderUser, Text: "no", CreatedAt: base})
	if err := s.PutCase(ctx, c); err != nil {
		t.Fatalf("PutCase: %v", err)
	}

	got, _, err := s.GetCase(ctx, "c-1")
	if err != nil {
		t.Fatalf("GetCase: %v", err)
	}
	if got.Status != triage.StatusResolved || got.RiskLevel != triage.RiskNone {
		t.Errorf("status = %s risk = %q", got.Status, got.RiskLevel)
	}
	if len(got.ChatHistory) != 3 {
		t.Errorf("history length = %d, want 3", len(got.ChatHistory))
	}
	all, err := s.ListCases(ctx)
	if err != nil {
		t.Fatalf("ListCases: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("cases = %d, want 1", len(all))
	}
}

func testReturnsCopies(t *testing.T, s triage.Store) {
	ctx := context.Background()
	c := Sample("c-1", "p1", triage.StatusAnalyzing)
	if err := s.PutCase(ctx, c); err != nil {
		t.Fatalf("PutCase: %v", err)
	}
	c.ChatHistory[0].Text = "mutated after put"

	got, _, _ := s.GetCase(ctx, "c-1")
	got.ChatHistory[1].Text = "mutated after get"

	again, _, _ := s.GetCase(ctx, "c-1")
	if again.ChatHistory[0].Text != "Uploaded an image" || again.ChatHistory[1].Text == "mutated after get" {
		t.Errorf("store shares memory with callers: %+v", again.ChatHistory)
	}
}

func testListCases(t *testing.T, s triage.Store) {
	ctx := context.Background()
	for i := range 3 {
		c := Sample(fmt.Sprintf("c-%d", i), fmt.Sprintf("p%d", i), triage.StatusAnalyzing)
		c.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if err := s.PutCase(ctx, c); err != nil {
			t.Fatalf("PutCase: %v", err)
		}
	}
	all, err := s.ListCases(ctx)
	if err != nil {
		t.Fatalf("ListCases: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("cases = %d, want 3", len(all))
	}
	for i, c := range all {
		if want := fmt.Sprintf("c-%d", i); c.ID != want {
			t.Errorf("cases[%d] = %s, want %s", i, c.ID, want)
		}
	}
}

func testSettings(t *testing.T, s triage.Store) {
	ctx := context.Background()
	if _, ok, err := s.GetSettings(ctx, "p1"); err != nil || ok {
		t.Fatalf("GetSettings on empty store = %v, %v", ok, err)
	}
	if err := s.PutSettings(ctx, "p1", &triage.Settings{PartnerAlert: true}); err != nil {
		t.Fatalf("PutSettings: %v", err)
	}
	if err := s.PutSettings(ctx, "p1", &triage.Settings{PartnerAlert: true, WearableConnected: true}); err != nil {
		t.Fatalf("PutSettings: %v", err)
	}
	got, ok, err := s.GetSettings(ctx, "p1")
	if err != nil || !ok {
		t.Fatalf("GetSettings = %v, %v", ok, err)
	}
	if !got.PartnerAlert || !got.WearableConnected {
		t.Errorf("settings = %+v", got)
	}
}

func testResetAll(t *testing.T, s triage.Store) {
	ctx := context.Background()
	_ = s.PutCase(ctx, Sample("c-1", "p1", triage.StatusApproved))
	_ = s.PutSettings(ctx, "p1", &triage.Settings{PartnerAlert: true})

	if err := s.ResetAll(ctx); err != nil {
		t.Fatalf("ResetAll: %v", err)
	}
	all, err := s.ListCases(ctx)
	if err != nil {
		t.Fatalf("ListCases: %v", err)
	}
	if len(all) != 0 {
		t.Errorf("cases after reset = %d", len(all))
	}
	if _, ok, _ := s.GetSettings(ctx, "p1"); ok {
		t.Error("settings survived reset")
	}
}

func testConcurrentPuts(t *testing.T, s triage.Store) {
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := fmt.Sprintf("c-%d", i)
			if err := s.PutCase(ctx, Sample(id, fmt.Sprintf("p%d", i), triage.StatusAnalyzing)); err != nil {
				t.Errorf("PutCase: %v", err)
				return
			}
			if _, _, err := s.GetCase(ctx, id); err != nil {
				t.Errorf("GetCase: %v", err)
			}
		}()
	}
	wg.Wait()

	all, err := s.ListCases(ctx)
	if err != nil {
		t.Fatalf("ListCases: %v", err)
	}
	if len(all) != 50 {
		t.Errorf("cases = %d, want 50", len(all))
	}
}
