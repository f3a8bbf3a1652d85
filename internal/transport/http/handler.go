// Package httptransport is the thin HTTP layer over the credential service,
// the access gate and the audit sink. Handlers decode, delegate and encode;
// every error goes through httputil.WriteError.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"

	"stagepass/internal/credential"
	"stagepass/internal/entitlement"
	"stagepass/internal/gate"
	id "stagepass/pkg/domain"
	"stagepass/pkg/platform/audit"
	"stagepass/pkg/platform/faults"
	"stagepass/pkg/platform/httputil"
	"stagepass/pkg/platform/middleware/device"
	"stagepass/pkg/requestcontext"
)

// SessionHeader carries the session token issued by the identity
// collaborator.
const SessionHeader = "X-Session-Token"

//go:generate mockgen -destination=mocks/mocks.go -package=mocks stagepass/internal/transport/http CredentialService

// CredentialService issues, lists and revokes API credentials.
type CredentialService interface {
	Issue(ctx context.Context, req credential.IssueRequest) (*credential.Issued, error)
	Revoke(ctx context.Context, credentialID id.CredentialID) error
	List(ctx context.Context, ownerID id.PrincipalID) ([]*credential.Credential, error)
}

// AccessGate decides access and exposes capability evaluation.
type AccessGate interface {
	Evaluate(ctx context.Context, resolver gate.Resolver) (gate.Subject, entitlement.CapabilitySet, error)
	Decide(ctx context.Context, resolver gate.Resolver, required entitlement.Capability, resource string) gate.Decision
}

// Resolvers binds request credentials to a resolver.
type Resolvers interface {
	For(p gate.Presented) gate.Resolver
}

type AuditEmitter interface {
	Emit(ctx context.Context, event audit.Event)
}

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

type Handler struct {
	credentials CredentialService
	gate        AccessGate
	resolvers   Resolvers
	auditor     AuditEmitter
	classifier  httputil.Classifier
	logger      *slog.Logger
	checks      map[string]HealthCheck
}

type Option func(*Handler)

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) { h.logger = logger }
}

// WithHealthCheck adds a named dependency check to /healthz.
func WithHealthCheck(name string, check HealthCheck) Option {
	return func(h *Handler) {
		if check != nil {
			h.checks[name] = check
		}
	}
}

func NewHandler(credentials CredentialService, accessGate AccessGate, resolvers Resolvers, auditor AuditEmitter, classifier httputil.Classifier, opts ...Option) *Handler {
	h := &Handler{
		credentials: credentials,
		gate:        accessGate,
		resolvers:   resolvers,
		auditor:     auditor,
		classifier:  classifier,
		checks:      make(map[string]HealthCheck),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = slog.New(slog.DiscardHandler)
	}
	return h
}

func (h *Handler) resolver(r *http.Request) gate.Resolver {
	return h.resolvers.For(gate.Presented{
		SessionToken:  r.Header.Get(SessionHeader),
		Authorization: r.Header.Get("Authorization"),
	})
}

// authenticate resolves the caller and rejects anonymous requests. The
// returned request carries the caller in its context.
func (h *Handler) authenticate(r *http.Request) (gate.Subject, *http.Request, error) {
	subject, err := h.resolver(r).Resolve(r.Context())
	if err != nil {
		return gate.Subject{}, r, err
	}
	if subject.Anonymous {
		return gate.Subject{}, r, faults.Authentication("credentials required")
	}
	return subject, withSubject(r, subject), nil
}

// withSubject records the resolved caller so audit events and fault
// reports further down can name who acted.
func withSubject(r *http.Request, subject gate.Subject) *http.Request {
	if subject.Anonymous || subject.Principal.ID.IsNil() {
		return r
	}
	ctx := requestcontext.WithPrincipalID(r.Context(), subject.Principal.ID)
	if subject.Identity != nil && !subject.Identity.CredentialID.IsNil() {
		ctx = requestcontext.WithCredentialID(ctx, subject.Identity.CredentialID)
	}
	return r.WithContext(ctx)
}

// capture wraps resolver so the handler learns the subject the gate
// resolved.
func capture(resolver gate.Resolver, into *gate.Subject) gate.Resolver {
	return gate.ResolverFunc(func(ctx context.Context) (gate.Subject, error) {
		subject, err := resolver.Resolve(ctx)
		if err == nil {
			*into = subject
		}
		return subject, err
	})
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	httputil.WriteError(w, r, h.classifier, err)
}

// deny audits a transport-level authorization refusal and returns its fault.
func (h *Handler) deny(ctx context.Context, subject gate.Subject, resource, action, reason string) error {
	fault := faults.Authorization(reason)
	details := device.FromContext(ctx).Details()
	details["reason"] = reason
	details["method"] = subject.Method
	h.auditor.Emit(ctx, audit.Event{
		Type:         audit.EventAccessDenied,
		PrincipalID:  subject.Principal.ID.String(),
		MaskedEmail:  subject.Principal.Email,
		MaskedIP:     requestcontext.ClientIP(ctx),
		Resource:     resource,
		Action:       action,
		Success:      false,
		ErrorMessage: fault.Message,
		Details:      details,
	})
	return fault
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{"status": "ok"}
	code := http.StatusOK
	for name, check := range h.checks {
		if err := check(r.Context()); err != nil {
			h.logger.WarnContext(r.Context(), "health check failed", "dependency", name, "error", err)
			status[name] = "unavailable"
			status["status"] = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		status[name] = "ok"
	}
	httputil.WriteJSON(w, code, status)
}
