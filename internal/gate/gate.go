// Package gate decides whether the caller of a request may enter a
// protected space.
//
// Decide resolves the caller, loads its tickets, computes its capabilities
// and compares them to what the space requires. It fails closed: if the
// caller cannot be determined the answer is deny, unless the fail-open flag
// is set outside production, in which case the grant is audited as such.
package gate

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"stagepass/internal/directory"
	"stagepass/internal/entitlement"
	id "stagepass/pkg/domain"
	"stagepass/pkg/platform/audit"
	"stagepass/pkg/platform/faults"
	"stagepass/pkg/requestcontext"
)

// Reason explains a decision.
type Reason string

const (
	ReasonGranted                 Reason = "granted"
	ReasonPublic                  Reason = "public"
	ReasonFailOpen                Reason = "fail_open"
	ReasonUnauthenticated         Reason = "unauthenticated"
	ReasonUpstreamUnavailable     Reason = "upstream_unavailable"
	ReasonInsufficientEntitlement Reason = "insufficient_entitlement"
)

const productionEnv = "production"

// Decision is the outcome of Decide. Fault is set on every denial.
type Decision struct {
	Allowed      bool
	Reason       Reason
	PrincipalID  id.PrincipalID
	Anonymous    bool
	Capabilities entitlement.CapabilitySet
	Fault        *faults.AppFault
}

// AuditEmitter is the audit sink as seen by the gate.
type AuditEmitter interface {
	Emit(ctx context.Context, event audit.Event)
}

// Metrics records decisions by reason.
type Metrics interface {
	IncDecision(reason string)
}

type Gate struct {
	tickets       directory.Tickets
	auditor       AuditEmitter
	logger        *slog.Logger
	metrics       Metrics
	tracer        trace.Tracer
	lookupTimeout time.Duration
	failOpen      bool
	environment   string
}

type Option func(*Gate)

func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) { g.logger = logger }
}

func WithMetrics(m Metrics) Option {
	return func(g *Gate) { g.metrics = m }
}

// WithLookupTimeout bounds the ticket lookup.
func WithLookupTimeout(d time.Duration) Option {
	return func(g *Gate) {
		if d > 0 {
			g.lookupTimeout = d
		}
	}
}

// WithFailOpenOnUpstreamError grants access when the caller cannot be
// determined. It is ignored when environment is "production".
func WithFailOpenOnUpstreamError(enabled bool, environment string) Option {
	return func(g *Gate) {
		g.failOpen = enabled
		g.environment = environment
	}
}

func New(tickets directory.Tickets, auditor AuditEmitter, opts ...Option) *Gate {
	g := &Gate{
		tickets:       tickets,
		auditor:       auditor,
		tracer:        otel.Tracer("stagepass/internal/gate"),
		lookupTimeout: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.logger == nil {
		g.logger = slog.New(slog.DiscardHandler)
	}
	if g.failOpen && g.environment == productionEnv {
		g.logger.Error("fail-open on upstream error requested in production; ignoring")
		g.failOpen = false
	}
	return g
}

// Capabilities is the pure entitlement query: only the principal's own
// tickets count.
func Capabilities(principal id.Principal, tickets []id.Ticket) entitlement.CapabilitySet {
	owned := make([]id.Ticket, 0, len(tickets))
	for _, t := range tickets {
		if t.OwnerID == principal.ID {
			owned = append(owned, t)
		}
	}
	return entitlement.Compute(principal.Role, owned)
}

// Evaluate resolves the caller and computes its capabilities without
// deciding anything. Errors are faults.
func (g *Gate) Evaluate(ctx context.Context, resolver Resolver) (Subject, entitlement.CapabilitySet, error) {
	subject, err := resolver.Resolve(ctx)
	if err != nil {
		return Subject{}, entitlement.None(), faults.Normalize(err)
	}
	if subject.Anonymous {
		return subject, entitlement.None(), nil
	}
	lookupCtx, cancel := context.WithTimeout(ctx, g.lookupTimeout)
	defer cancel()
	tickets, err := g.tickets.TicketsForOwner(lookupCtx, subject.Principal.ID)
	if err != nil {
		return subject, entitlement.None(), faults.ExternalService(err, "ticket lookup failed")
	}
	return subject, Capabilities(subject.Principal, tickets), nil
}

// Decide answers whether the caller may use a resource that requires
// required. An empty required capability marks a public resource. Every
// denial emits exactly one ACCESS_DENIED event.
func (g *Gate) Decide(ctx context.Context, resolver Resolver, required entitlement.Capability, resource string) Decision {
	ctx, span := g.tracer.Start(ctx, "gate.Decide", trace.WithAttributes(
		attribute.String("resource", resource),
		attribute.String("required", string(required)),
	))
	defer span.End()

	d, subject := g.decide(ctx, resolver, required)

	span.SetAttributes(attribute.String("reason", string(d.Reason)), attribute.Bool("allowed", d.Allowed))
	if !d.Allowed {
		span.SetStatus(codes.Error, string(d.Reason))
	}
	if g.metrics != nil {
		g.metrics.IncDecision(string(d.Reason))
	}
	g.audit(ctx, d, subject, required, resource)
	return d
}

func (g *Gate) decide(ctx context.Context, resolver Resolver, required entitlement.Capability) (Decision, Subject) {
	subject, caps, err := g.Evaluate(ctx, resolver)
	if err != nil {
		fault, _ := faults.From(err)
		if fault.Category == faults.CategoryAuthentication {
			return Decision{Reason: ReasonUnauthenticated, Fault: fault}, subject
		}
		if g.failOpen {
			g.logger.WarnContext(ctx, "granting access despite upstream failure",
				"category", string(fault.Category),
				"error", fault.Error(),
			)
			return Decision{
				Allowed:      true,
				Reason:       ReasonFailOpen,
				PrincipalID:  subject.Principal.ID,
				Capabilities: entitlement.None(),
			}, subject
		}
		return Decision{Reason: ReasonUpstreamUnavailable, PrincipalID: subject.Principal.ID, Fault: fault}, subject
	}

	d := Decision{
		PrincipalID:  subject.Principal.ID,
		Anonymous:    subject.Anonymous,
		Capabilities: caps,
	}
	switch {
	case required == "":
		d.Allowed, d.Reason = true, ReasonPublic
	case caps.Has(required):
		d.Allowed, d.Reason = true, ReasonGranted
	case subject.Anonymous:
		d.Reason = ReasonInsufficientEntitlement
		d.Fault = faults.Authentication("anonymous caller lacks " + string(required))
	default:
		d.Reason = ReasonInsufficientEntitlement
		d.Fault = faults.Authorization("missing capability " + string(required))
	}
	return d, subject
}

func (g *Gate) audit(ctx context.Context, d Decision, subject Subject, required entitlement.Capability, resource string) {
	if g.auditor == nil || d.Reason == ReasonPublic {
		return
	}
	event := audit.Event{
		Resource:    resource,
		Action:      "enter",
		Success:     d.Allowed,
		MaskedEmail: subject.Principal.Email,
		MaskedIP:    requestcontext.ClientIP(ctx),
		Details: map[string]any{
			"reason":   string(d.Reason),
			"required": string(required),
			"method":   subject.Method,
		},
	}
	if !d.PrincipalID.IsNil() {
		event.PrincipalID = d.PrincipalID.String()
	}
	switch {
	case d.Reason == ReasonFailOpen:
		event.Type = audit.EventFailOpenGranted
	case d.Allowed:
		event.Type = audit.EventAccessGranted
	default:
		event.Type = audit.EventAccessDenied
		event.ErrorMessage = d.Fault.Message
		event.Details["category"] = string(d.Fault.Category)
	}
	g.auditor.Emit(ctx, event)
}
