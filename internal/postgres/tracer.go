package postgres

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/carebridge/internal/triage"
)

// UnknownOp labels queries issued without WithOp.
const UnknownOp = "unknown"

var (
	queryObserver atomic.Pointer[queryObserverHolder]

	// minQueryLogDuration is the threshold below which successful queries are
	// not logged. 0 logs every query.
	minQueryLogDuration atomic.Int64
)

type (
	opKey         struct{}
	httpMethodKey struct{}
	dbStatsKey    struct{}
	queryStartKey struct{}
)

type queryObserverHolder struct{ QueryObserver }

// Query describes one finished statement. Statement arguments are never kept:
// case writes carry chat history.
type Query struct {
	Op        string
	Method    string
	Route     string
	Outcome   string
	Duration  time.Duration
	PatientID string
	CaseID    string
}

// QueryObserver receives every finished query (wired by main for Prometheus).
type QueryObserver interface {
	ObserveQuery(ctx context.Context, q Query)
}

// QueryObserverFunc adapts a plain function to QueryObserver.
type QueryObserverFunc func(ctx context.Context, q Query)

// ObserveQuery implements QueryObserver.
func (f QueryObserverFunc) ObserveQuery(ctx context.Context, q Query) {
	f(ctx, q)
}

// SetQueryObserver sets the global query observer. nil removes it.
func SetQueryObserver(o QueryObserver) {
	if o == nil {
		queryObserver.Store(nil)
		return
	}
	queryObserver.Store(&queryObserverHolder{QueryObserver: o})
}

func getQueryObserver() QueryObserver {
	h := queryObserver.Load()
	if h == nil {
		return nil
	}
	return h.QueryObserver
}

// SetMinLogDuration sets the slow-query logging threshold.
func SetMinLogDuration(d time.Duration) {
	minQueryLogDuration.Store(int64(d))
}

// WithOp names the store operation issuing the queries made with ctx, for
// example "pgstore.PutCase".
func WithOp(ctx context.Context, op string) context.Context {
	if op == "" {
		return ctx
	}
	return context.WithValue(ctx, opKey{}, op)
}

func opFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(opKey{}).(string); ok {
		return v
	}
	return UnknownOp
}

// WithHTTPMethod stores the HTTP method in the context for query metrics labelling.
func WithHTTPMethod(ctx context.Context, method string) context.Context {
	if method == "" {
		return ctx
	}
	return context.WithValue(ctx, httpMethodKey{}, method)
}

func httpMethodFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(httpMethodKey{}).(string); ok {
		return v
	}
	return ""
}

func routePatternFromContext(ctx context.Context) string {
	if rc := chi.RouteContext(ctx); rc != nil {
		return rc.RoutePattern()
	}
	return ""
}

// ReqDBStats accumulates the database work done for one request.
type ReqDBStats struct {
	mu            sync.Mutex
	QueryCount    int
	TotalDuration time.Duration
	ErrorCount    int
	Ops           map[string]int
}

// AddQuery records a single query execution.
func (s *ReqDBStats) AddQuery(op string, dur time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.QueryCount++
	s.TotalDuration += dur
	if err != nil {
		s.ErrorCount++
	}
	if s.Ops == nil {
		s.Ops = make(map[string]int)
	}
	s.Ops[op]++
}

// NewReqDBStatsContext returns a new context with an empty ReqDBStats attached.
func NewReqDBStatsContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, dbStatsKey{}, &ReqDBStats{})
}

// ReqDBStatsFromContext extracts the ReqDBStats from the context, if present.
func ReqDBStatsFromContext(ctx context.Context) (*ReqDBStats, bool) {
	s, ok := ctx.Value(dbStatsKey{}).(*ReqDBStats)
	return s, ok
}

// loggingTracer wraps another pgx.QueryTracer (otelpgx) and reports each
// query to the request stats, the observer and, past the threshold, the log.
type loggingTracer struct {
	inner pgx.QueryTracer
}

func wrapQueryTracer(inner pgx.QueryTracer) pgx.QueryTracer {
	return loggingTracer{inner: inner}
}

func (t loggingTracer) TraceQueryStart(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	if t.inner != nil {
		ctx = t.inner.TraceQueryStart(ctx, conn, data)
	}

	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		attrs := []attribute.KeyValue{attribute.String("carebridge.db.op", opFromContext(ctx))}
		if sc, ok := triage.ScopeFromContext(ctx); ok {
			if sc.PatientID != "" {
				attrs = append(attrs, attribute.String("carebridge.patient.id", sc.PatientID))
			}
			if sc.CaseID != "" {
				attrs = append(attrs, attribute.String("carebridge.case.id", sc.CaseID))
			}
		}
		span.SetAttributes(attrs...)
	}

	return context.WithValue(ctx, queryStartKey{}, time.Now())
}

func (t loggingTracer) TraceQueryEnd(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryEndData) {
	if t.inner != nil {
		t.inner.TraceQueryEnd(ctx, conn, data)
	}

	var dur time.Duration
	if start, ok := ctx.Value(queryStartKey{}).(time.Time); ok {
		dur = time.Since(start)
	}
	finishQuery(ctx, dur, data.CommandTag, data.Err)
}

// finishQuery does everything that follows a statement. Split from the tracer
// so it can be driven without a connection.
func finishQuery(ctx context.Context, dur time.Duration, tag pgconn.CommandTag, err error) {
	q := describe(ctx, dur, err)

	if s, ok := ReqDBStatsFromContext(ctx); ok {
		s.AddQuery(q.Op, dur, err)
	}
	if obs := getQueryObserver(); obs != nil {
		obs.ObserveQuery(ctx, q)
	}

	if minDur := time.Duration(minQueryLogDuration.Load()); minDur > 0 && dur < minDur && err == nil {
		return
	}
	logQuery(ctx, q, tag, err)
}

func describe(ctx context.Context, dur time.Duration, err error) Query {
	q := Query{
		Op:       opFromContext(ctx),
		Method:   httpMethodFromContext(ctx),
		Route:    routePatternFromContext(ctx),
		Outcome:  "ok",
		Duration: dur,
	}
	if q.Method == "" {
		q.Method = "NONE"
	}
	if q.Route == "" {
		q.Route = "background"
	}
	if err != nil {
		q.Outcome = "error"
		if errors.Is(err, triage.ErrOpenCaseConflict) {
			q.Outcome = "conflict"
		}
	}
	if sc, ok := triage.ScopeFromContext(ctx); ok {
		q.PatientID, q.CaseID = sc.PatientID, sc.CaseID
	}
	return q
}

func logQuery(ctx context.Context, q Query, tag pgconn.CommandTag, err error) {
	fields := []any{
		"db.op", q.Op,
		"db.duration", q.Duration.Seconds(),
	}
	if q.PatientID != "" {
		fields = append(fields, "patient_id", q.PatientID)
	}
	if q.CaseID != "" {
		fields = append(fields, "case_id", q.CaseID)
	}
	if t := strings.TrimSpace(tag.String()); t != "" {
		fields = append(fields, "pg.command_tag", t, "db.rows", tag.RowsAffected())
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		fields = append(fields, "db.error_code", pgErr.Code, "db.error_constraint", pgErr.ConstraintName)
	}

	L := log.FromContext(ctx)
	if err != nil {
		L.Error(ctx, err, "db query failed", fields...)
		return
	}
	L.Info(ctx, "slow db query", fields...)
}
