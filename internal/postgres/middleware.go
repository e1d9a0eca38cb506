package postgres

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"
)

// RequestStats tags each request context with its HTTP method for query
// metrics and collects per-request query totals. Requests whose total query
// time reaches slow are logged with the totals; slow <= 0 disables the log.
func RequestStats(slow time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := NewReqDBStatsContext(WithHTTPMethod(r.Context(), r.Method))
			next.ServeHTTP(w, r.WithContext(ctx))

			s, _ := ReqDBStatsFromContext(ctx)
			s.mu.Lock()
			count, total, errs := s.QueryCount, s.TotalDuration, s.ErrorCount
			ops := summarizeOps(s.Ops)
			s.mu.Unlock()

			if slow <= 0 || count == 0 || total < slow {
				return
			}
			log.FromContext(ctx).Warn(ctx, "slow request database time",
				"db.queries", count,
				"db.total_duration", total.Seconds(),
				"db.errors", errs,
				"db.ops", ops,
			)
		})
	}
}

// summarizeOps renders per-op query counts as "op=n" pairs in op order.
func summarizeOps(ops map[string]int) string {
	names := make([]string, 0, len(ops))
	for op := range ops {
		names = append(names, op)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, op := range names {
		parts[i] = fmt.Sprintf("%s=%d", op, ops[op])
	}
	return strings.Join(parts, ",")
}
