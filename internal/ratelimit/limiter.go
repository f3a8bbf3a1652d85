// Package ratelimit throttles callers that keep failing authentication.
//
// Failures are counted per client IP in a fixed window. Once the count
// reaches the limit, further requests from that IP get a rate-limit fault
// until the window resets. The limiter guards availability, not access, so a
// broken counter store lets traffic through.
package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"stagepass/internal/ratelimit/models"
	"stagepass/pkg/platform/audit"
	"stagepass/pkg/platform/faults"
	"stagepass/pkg/platform/privacy"
	"stagepass/pkg/requestcontext"
)

// Store holds fixed-window counters.
type Store interface {
	Increment(ctx context.Context, key string, window time.Duration) (models.Window, error)
	Current(ctx context.Context, key string) (models.Window, error)
	Reset(ctx context.Context, key string) error
}

type AuditEmitter interface {
	Emit(ctx context.Context, event audit.Event)
}

type Metrics interface {
	IncAuthFailuresRecorded()
	IncRateLimited()
}

// Limiter counts authentication failures per IP.
type Limiter struct {
	store   Store
	auditor AuditEmitter
	logger  *slog.Logger
	metrics Metrics
	limit   int
	window  time.Duration
	timeout time.Duration
}

type Option func(*Limiter)

func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) { l.logger = logger }
}

func WithMetrics(m Metrics) Option {
	return func(l *Limiter) { l.metrics = m }
}

// WithLimit sets the number of failures allowed per window.
func WithLimit(limit int, window time.Duration) Option {
	return func(l *Limiter) {
		if limit > 0 {
			l.limit = limit
		}
		if window > 0 {
			l.window = window
		}
	}
}

// WithStoreTimeout bounds each counter store call.
func WithStoreTimeout(d time.Duration) Option {
	return func(l *Limiter) {
		if d > 0 {
			l.timeout = d
		}
	}
}

func New(store Store, auditor AuditEmitter, opts ...Option) *Limiter {
	l := &Limiter{
		store:   store,
		auditor: auditor,
		limit:   10,
		window:  15 * time.Minute,
		timeout: 200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = slog.New(slog.DiscardHandler)
	}
	return l
}

// Check returns a rate-limit fault when ip has exhausted its failures for
// the current window. Each rejection emits RATE_LIMIT_EXCEEDED.
func (l *Limiter) Check(ctx context.Context, ip string) error {
	if ip == "" {
		return nil
	}
	storeCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	w, err := l.store.Current(storeCtx, models.AuthFailureKey(ip))
	if err != nil {
		l.logger.ErrorContext(ctx, "auth failure limiter unavailable, allowing request",
			"ip", privacy.MaskIP(ip),
			"error", err,
		)
		return nil
	}
	if w.Count < l.limit {
		return nil
	}

	retryAfter := max(w.ResetAt.Sub(requestcontext.Now(ctx)), time.Second)
	if l.metrics != nil {
		l.metrics.IncRateLimited()
	}
	if l.auditor != nil {
		l.auditor.Emit(ctx, audit.Event{
			Type:         audit.EventRateLimitExceeded,
			MaskedIP:     ip,
			Action:       "authenticate",
			Success:      false,
			ErrorMessage: "too many failed authentications",
			Details: map[string]any{
				"failures":            w.Count,
				"limit":               l.limit,
				"retry_after_seconds": int(retryAfter.Seconds()),
			},
		})
	}
	return faults.RateLimit("auth failure limit reached", retryAfter).
		WithDetail("failures", w.Count)
}

// RecordFailure counts one failed authentication from ip.
func (l *Limiter) RecordFailure(ctx context.Context, ip string) {
	if ip == "" {
		return
	}
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.timeout)
	defer cancel()
	if _, err := l.store.Increment(storeCtx, models.AuthFailureKey(ip), l.window); err != nil {
		l.logger.WarnContext(ctx, "failed to record auth failure",
			"ip", privacy.MaskIP(ip),
			"error", err,
		)
		return
	}
	if l.metrics != nil {
		l.metrics.IncAuthFailuresRecorded()
	}
}
