// Package authmw guards operator-only endpoints with a shared bearer token.
package authmw

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/linnemanlabs/go-core/log"
)

const bearerPrefix = "Bearer "

// Operator returns middleware that admits requests whose Authorization header
// carries the operator token. An empty token disables the guarded routes
// entirely (403) so a missing config never leaves them open. Comparison is
// constant-time.
func Operator(token string, logger log.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = log.Nop()
	}
	expected := []byte(token)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(expected) == 0 {
				deny(w, http.StatusForbidden, "operator endpoints disabled")
				return
			}

			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, bearerPrefix) {
				w.Header().Set("WWW-Authenticate", `Bearer realm="carebridge-operator"`)
				deny(w, http.StatusUnauthorized, "missing or malformed authorization header")
				return
			}

			got := []byte(auth[len(bearerPrefix):])
			if subtle.ConstantTimeCompare(got, expected) != 1 {
				logger.Warn(r.Context(), "operator token rejected",
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
				)
				w.Header().Set("WWW-Authenticate", `Bearer realm="carebridge-operator", error="invalid_token"`)
				deny(w, http.StatusUnauthorized, "invalid token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func deny(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
