package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/linnemanlabs/carebridge/internal/triage"
)

func TestReqDBStats_AddQuery(t *testing.T) {
	t.Parallel()

	s := &ReqDBStats{}

	s.AddQuery("pgstore.ListCases", 10*time.Millisecond, nil)
	s.AddQuery("pgstore.PutCase", 20*time.Millisecond, errors.New("timeout"))
	s.AddQuery("pgstore.ListCases", 5*time.Millisecond, nil)

	if s.QueryCount != 3 {
		t.Errorf("QueryCount = %d, want 3", s.QueryCount)
	}
	if s.TotalDuration != 35*time.Millisecond {
		t.Errorf("TotalDuration = %v, want 35ms", s.TotalDuration)
	}
	if s.ErrorCount != 1 {
		t.Errorf("ErrorCount = %d, want 1", s.ErrorCount)
	}
	if s.Ops["pgstore.ListCases"] != 2 || s.Ops["pgstore.PutCase"] != 1 {
		t.Errorf("Ops = %v", s.Ops)
	}
}

func TestReqDBStatsContext_RoundTrip(t *testing.T) {
	t.Parallel()

	ctx := NewReqDBStatsContext(context.Background())
	got, ok := ReqDBStatsFromContext(ctx)
	if !ok || got == nil {
		t.Fatal("expected stats on context")
	}

	got.AddQuery(UnknownOp, time.Millisecond, nil)
	got2, _ := ReqDBStatsFromContext(ctx)
	if got2.QueryCount != 1 {
		t.Errorf("QueryCount = %d, want 1 (same pointer)", got2.QueryCount)
	}

	if _, ok := ReqDBStatsFromContext(context.Background()); ok {
		t.Error("expected ok=false for plain context")
	}
}

func TestContextLabels(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	if got := opFromContext(ctx); got != UnknownOp {
		t.Errorf("op = %q, want %q", got, UnknownOp)
	}
	if got := opFromContext(WithOp(ctx, "")); got != UnknownOp {
		t.Errorf("empty op = %q, want %q", got, UnknownOp)
	}
	if got := opFromContext(WithOp(ctx, "pgstore.GetCase")); got != "pgstore.GetCase" {
		t.Errorf("op = %q", got)
	}
	if got := httpMethodFromContext(WithHTTPMethod(ctx, "POST")); got != "POST" {
		t.Errorf("method = %q, want POST", got)
	}
	if got := httpMethodFromContext(WithHTTPMethod(ctx, "")); got != "" {
		t.Errorf("method = %q, want empty", got)
	}
}

func TestDescribe(t *testing.T) {
	t.Parallel()

	base := triage.WithScope(WithOp(context.Background(), "pgstore.PutCase"), triage.Scope{PatientID: "p1", CaseID: "c1"})

	tests := []struct {
		name        string
		ctx         context.Context
		err         error
		wantOutcome string
		wantMethod  string
		wantRoute   string
	}{
		{"background ok", base, nil, "ok", "NONE", "background"},
		{"request error", WithHTTPMethod(base, "PUT"), errors.New("boom"), "error", "PUT", "background"},
		{"open case conflict", base, fmt.Errorf("x: %w", triage.ErrOpenCaseConflict), "conflict", "NONE", "background"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			q := describe(tt.ctx, time.Millisecond, tt.err)
			if q.Outcome != tt.wantOutcome || q.Method != tt.wantMethod || q.Route != tt.wantRoute {
				t.Errorf("query = %+v", q)
			}
			if q.Op != "pgstore.PutCase" || q.PatientID != "p1" || q.CaseID != "c1" {
				t.Errorf("labels = %+v", q)
			}
		})
	}
}

func TestFinishQuery_FeedsStatsAndObserver(t *testing.T) {
	defer SetQueryObserver(nil)

	var got []Query
	SetQueryObserver(QueryObserverFunc(func(_ context.Context, q Query) {
		got = append(got, q)
	}))

	ctx := NewReqDBStatsContext(WithOp(context.Background(), "pgstore.GetCase"))
	ctx = triage.WithScope(ctx, triage.Scope{CaseID: "c9"})
	finishQuery(ctx, 3*time.Millisecond, pgconn.NewCommandTag("SELECT 1"), nil)

	if len(got) != 1 {
		t.Fatalf("observed = %d, want 1", len(got))
	}
	if got[0].Op != "pgstore.GetCase" || got[0].CaseID != "c9" || got[0].Duration != 3*time.Millisecond {
		t.Errorf("observed = %+v", got[0])
	}
	stats, _ := ReqDBStatsFromContext(ctx)
	if stats.QueryCount != 1 || stats.Ops["pgstore.GetCase"] != 1 {
		t.Errorf("stats = %+v", stats)
	}

	SetQueryObserver(nil)
	if getQueryObserver() != nil {
		t.Error("observer not cleared")
	}
}

func TestSetMinLogDuration(t *testing.T) {
	defer SetMinLogDuration(0)

	SetMinLogDuration(250 * time.Millisecond)
	if got := time.Duration(minQueryLogDuration.Load()); got != 250*time.Millisecond {
		t.Errorf("threshold = %v, want 250ms", got)
	}
	SetMinLogDuration(0)
	if minQueryLogDuration.Load() != 0 {
		t.Error("threshold not reset")
	}
}

func TestLoggingTracer_AnnotatesSpan(t *testing.T) {
	t.Parallel()

	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	ctx, span := tp.Tracer("test").Start(context.Background(), "query")
	ctx = triage.WithScope(WithOp(ctx, "pgstore.PutCase"), triage.Scope{PatientID: "p1", CaseID: "c1"})

	tr := wrapQueryTracer(nil)
	ctx = tr.TraceQueryStart(ctx, nil, pgx.TraceQueryStartData{SQL: "SELECT 1"})
	tr.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{CommandTag: pgconn.NewCommandTag("SELECT 1")})
	span.End()

	ended := rec.Ended()
	if len(ended) != 1 {
		t.Fatalf("spans = %d, want 1", len(ended))
	}
	attrs := map[string]string{}
	for _, kv := range ended[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsString()
	}
	want := map[string]string{
		"carebridge.db.op":      "pgstore.PutCase",
		"carebridge.patient.id": "p1",
		"carebridge.case.id":    "c1",
	}
	for k, v := range want {
		if attrs[k] != v {
			t.Errorf("attr %s = %q, want %q", k, attrs[k], v)
		}
	}
}
