package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/linnemanlabs/go-core/log"

	vc "github.com/linnemanlabs/carebridge/internal/cfg"
	"github.com/linnemanlabs/carebridge/internal/triage"
)

func TestOpenStore_Memory(t *testing.T) {
	t.Parallel()

	s, err := openStore(context.Background(), &vc.Config{}, log.Nop())
	if err != nil {
		t.Fatalf("openStore: %v", err)
	}
	defer s.close()

	if s.kind != vc.StoreMemory {
		t.Errorf("kind = %q, want %q", s.kind, vc.StoreMemory)
	}
	if s.pool != nil {
		t.Error("memory store should not carry a pool")
	}
	if _, ok, err := s.GetCase(context.Background(), "missing"); err != nil || ok {
		t.Errorf("GetCase = %v, %v; want not found", ok, err)
	}
}

func TestOpenStore_SQLite(t *testing.T) {
	t.Parallel()

	cfg := &vc.Config{SQLitePath: filepath.Join(t.TempDir(), "cases.db")}
	s, err := openStore(context.Background(), cfg, log.Nop())
	if err != nil {
		t.Fatalf("openStore: %v", err)
	}
	defer s.close()

	if s.kind != vc.StoreSQLite {
		t.Errorf("kind = %q, want %q", s.kind, vc.StoreSQLite)
	}

	ctx := context.Background()
	c := &triage.Case{ID: "case_1", PatientID: "p1", Status: triage.StatusAnalyzing}
	if err := s.PutCase(ctx, c); err != nil {
		t.Fatalf("PutCase: %v", err)
	}
	got, ok, err := s.GetCase(ctx, "case_1")
	if err != nil || !ok {
		t.Fatalf("GetCase = %v, %v", ok, err)
	}
	if got.PatientID != "p1" {
		t.Errorf("PatientID = %q, want p1", got.PatientID)
	}
}

func TestOpenStore_BadPostgresURL(t *testing.T) {
	t.Parallel()

	cfg := &vc.Config{DatabaseURL: "postgres://%zz"}
	if _, err := openStore(context.Background(), cfg, log.Nop()); err == nil {
		t.Fatal("expected error for malformed database url")
	}
}

func TestWithEventStream(t *testing.T) {
	t.Parallel()

	mark := func(name string) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("X-Handler", name)
		})
	}
	h := withEventStream(mark("api"), mark("stream"))

	tests := []struct {
		method, path, want string
	}{
		{http.MethodGet, eventsPath, "stream"},
		{http.MethodPost, eventsPath, "api"},
		{http.MethodGet, "/api/v1/cases", "api"},
		{http.MethodGet, eventsPath + "/x", "api"},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
		if got := rec.Header().Get("X-Handler"); got != tt.want {
			t.Errorf("%s %s routed to %q, want %q", tt.method, tt.path, got, tt.want)
		}
	}
}
