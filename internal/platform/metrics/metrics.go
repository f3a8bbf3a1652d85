// Package metrics holds the Prometheus collectors of the service. A single
// *Metrics satisfies the metrics interface of every component.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	AuditEmitted         *prometheus.CounterVec
	AuditDropped         prometheus.Counter
	AuditPublishFailures *prometheus.CounterVec
	Faults               *prometheus.CounterVec
	TokenValidations     *prometheus.HistogramVec
	CredentialsIssued    *prometheus.CounterVec
	CredentialsRevoked   prometheus.Counter
	GateDecisions        *prometheus.CounterVec
	AuthFailuresRecorded prometheus.Counter
	RateLimitedRequests  prometheus.Counter
}

// New registers the collectors with the default registry.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers the collectors with reg. Tests pass a fresh
// registry so repeated construction does not collide.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		AuditEmitted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stagepass_audit_events_emitted_total",
			Help: "Audit events emitted, by type and outcome",
		}, []string{"type", "success"}),
		AuditDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "stagepass_audit_events_dropped_total",
			Help: "Audit events dropped because the publish buffer was full",
		}),
		AuditPublishFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stagepass_audit_publish_failures_total",
			Help: "Audit batches a publisher failed to record after retries",
		}, []string{"publisher"}),
		Faults: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stagepass_faults_total",
			Help: "Errors classified at the service boundary, by category",
		}, []string{"category"}),
		TokenValidations: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stagepass_token_validation_duration_seconds",
			Help:    "Bearer token validation latency, by outcome",
			Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"outcome"}),
		CredentialsIssued: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stagepass_credentials_issued_total",
			Help: "API credentials issued, by environment",
		}, []string{"environment"}),
		CredentialsRevoked: f.NewCounter(prometheus.CounterOpts{
			Name: "stagepass_credentials_revoked_total",
			Help: "API credentials revoked",
		}),
		GateDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stagepass_gate_decisions_total",
			Help: "Access gate decisions, by reason",
		}, []string{"reason"}),
		AuthFailuresRecorded: f.NewCounter(prometheus.CounterOpts{
			Name: "stagepass_ratelimit_auth_failures_recorded_total",
			Help: "Failed authentications counted by the rate limiter",
		}),
		RateLimitedRequests: f.NewCounter(prometheus.CounterOpts{
			Name: "stagepass_ratelimit_rejections_total",
			Help: "Requests rejected for exceeding the auth failure limit",
		}),
	}
}

func (m *Metrics) IncAuditEmitted(eventType string, success bool) {
	outcome := "false"
	if success {
		outcome = "true"
	}
	m.AuditEmitted.WithLabelValues(eventType, outcome).Inc()
}

func (m *Metrics) IncAuditDropped() {
	m.AuditDropped.Inc()
}

func (m *Metrics) IncAuditPublishFailures(publisher string) {
	m.AuditPublishFailures.WithLabelValues(publisher).Inc()
}

func (m *Metrics) IncFault(category string) {
	m.Faults.WithLabelValues(category).Inc()
}

func (m *Metrics) ObserveTokenValidation(outcome string, duration time.Duration) {
	m.TokenValidations.WithLabelValues(outcome).Observe(duration.Seconds())
}

func (m *Metrics) IncCredentialIssued(environment string) {
	m.CredentialsIssued.WithLabelValues(environment).Inc()
}

func (m *Metrics) IncCredentialRevoked() {
	m.CredentialsRevoked.Inc()
}

func (m *Metrics) IncDecision(reason string) {
	m.GateDecisions.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncAuthFailuresRecorded() {
	m.AuthFailuresRecorded.Inc()
}

func (m *Metrics) IncRateLimited() {
	m.RateLimitedRequests.Inc()
}
