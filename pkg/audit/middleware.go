package audit

import (
	"net/http"
	"time"

	"github.com/cadenzahq/clearway/pkg/contextkeys"
)

// Middleware attaches the audit logger and request start time to every
// request context so guards and handlers can record events without plumbing
// the sink through every constructor
func Middleware(logger Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := WithLogger(r.Context(), logger)
			ctx = contextkeys.WithRequestStartTime(ctx, time.Now())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
