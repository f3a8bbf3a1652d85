// Package middleware applies the auth-failure limiter to HTTP routes.
package middleware

import (
	"context"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"

	"stagepass/pkg/platform/httputil"
	"stagepass/pkg/requestcontext"
)

// FailureLimiter is implemented by *ratelimit.Limiter.
type FailureLimiter interface {
	Check(ctx context.Context, ip string) error
	RecordFailure(ctx context.Context, ip string)
}

// LimitAuthFailures rejects clients over their failure budget and counts
// every 401 the wrapped handler writes against the client IP.
func LimitAuthFailures(limiter FailureLimiter, classifier httputil.Classifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			ip := requestcontext.ClientIP(ctx)

			if err := limiter.Check(ctx, ip); err != nil {
				httputil.WriteError(w, r, classifier, err)
				return
			}

			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			if ww.Status() == http.StatusUnauthorized {
				limiter.RecordFailure(ctx, ip)
			}
		})
	}
}
