package credential

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"stagepass/pkg/platform/audit"
	"stagepass/pkg/platform/faults"
	"stagepass/pkg/platform/sentinel"
	"stagepass/pkg/requestcontext"
)

// Client-facing authentication messages. Unknown, revoked and mismatched
// tokens share one message so callers cannot tell which credentials exist.
const (
	MsgInvalidHeader  = "missing or invalid authorization header"
	MsgInvalidFormat  = "invalid token format"
	MsgInvalidToken   = "invalid or revoked token"
	MsgTokenExpired   = "token expired"
	maxHeaderLength   = 512
	defaultTimeout    = 2 * time.Second
	bearerScheme      = "Bearer"
	validationOutcome = "outcome"
)

// AuditEmitter is the audit sink as seen by this package.
type AuditEmitter interface {
	Emit(ctx context.Context, event audit.Event)
}

// ValidatorMetrics records validation outcomes.
type ValidatorMetrics interface {
	ObserveTokenValidation(outcome string, duration time.Duration)
}

// Validator authenticates bearer tokens against the credential store.
type Validator struct {
	store        Store
	auditor      AuditEmitter
	logger       *slog.Logger
	metrics      ValidatorMetrics
	tracer       trace.Tracer
	storeTimeout time.Duration
	clock        func() time.Time
}

type ValidatorOption func(*Validator)

func WithValidatorLogger(logger *slog.Logger) ValidatorOption {
	return func(v *Validator) { v.logger = logger }
}

func WithValidatorMetrics(m ValidatorMetrics) ValidatorOption {
	return func(v *Validator) { v.metrics = m }
}

// WithStoreTimeout bounds each store call made during validation.
func WithStoreTimeout(d time.Duration) ValidatorOption {
	return func(v *Validator) {
		if d > 0 {
			v.storeTimeout = d
		}
	}
}

func WithValidatorClock(clock func() time.Time) ValidatorOption {
	return func(v *Validator) {
		if clock != nil {
			v.clock = clock
		}
	}
}

func NewValidator(store Store, auditor AuditEmitter, opts ...ValidatorOption) *Validator {
	v := &Validator{
		store:        store,
		auditor:      auditor,
		tracer:       otel.Tracer("stagepass/internal/credential"),
		storeTimeout: defaultTimeout,
		clock:        time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.logger == nil {
		v.logger = slog.New(slog.DiscardHandler)
	}
	return v
}

// Validate authenticates an Authorization header value. Every failure is an
// *faults.AppFault: authentication for bad credentials, database when the
// store cannot answer. Each failure is audited with a digest prefix only.
func (v *Validator) Validate(ctx context.Context, authorizationHeader string) (*Identity, error) {
	ctx, span := v.tracer.Start(ctx, "credential.Validate")
	defer span.End()
	start := v.clock()

	identity, digest, reason, err := v.validate(ctx, authorizationHeader)

	outcome := "success"
	if err != nil {
		outcome = reason
		span.SetStatus(codes.Error, reason)
		v.auditFailure(ctx, digest, reason, err)
	}
	span.SetAttributes(attribute.String(validationOutcome, outcome))
	if v.metrics != nil {
		v.metrics.ObserveTokenValidation(outcome, v.clock().Sub(start))
	}
	return identity, err
}

func (v *Validator) validate(ctx context.Context, header string) (*Identity, string, string, error) {
	token, ok := parseBearer(header)
	if !ok {
		return nil, "", "invalid_header", faults.Authentication(MsgInvalidHeader)
	}
	env, ok := EnvironmentOf(token)
	if !ok {
		return nil, "", "invalid_format", faults.Authentication(MsgInvalidFormat)
	}

	digest := Hash(token)

	lookupCtx, cancel := context.WithTimeout(ctx, v.storeTimeout)
	cred, err := v.store.FindByHash(lookupCtx, digest)
	cancel()
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, digest, "unknown_token", faults.Authentication(MsgInvalidToken)
	}
	if err != nil {
		return nil, digest, "store_error", faults.Database(err, "credential lookup failed")
	}
	if subtle.ConstantTimeCompare([]byte(cred.HashedSecret), []byte(digest)) != 1 || cred.Environment != env {
		return nil, digest, "digest_mismatch", faults.Authentication(MsgInvalidToken)
	}

	now := v.clock()
	if cred.IsExpired(now) {
		return nil, digest, "expired", faults.Authentication(MsgTokenExpired).
			WithDetail("credential_id", cred.ID.String())
	}

	v.touch(ctx, cred, now)

	return &Identity{
		PrincipalID:  cred.OwnerID,
		CredentialID: cred.ID,
		Scopes:       append([]string(nil), cred.Scopes...),
		Environment:  cred.Environment,
	}, digest, "", nil
}

// touch records last use. It outlives a cancelled request and never fails
// validation; concurrent touches are last-write-wins.
func (v *Validator) touch(ctx context.Context, cred *Credential, now time.Time) {
	touchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), v.storeTimeout)
	defer cancel()
	if err := v.store.TouchLastUsed(touchCtx, cred.ID, now); err != nil {
		v.logger.WarnContext(ctx, "failed to record credential use",
			"credential_id", cred.ID.String(),
			"error", err,
		)
	}
}

func (v *Validator) auditFailure(ctx context.Context, digest, reason string, err error) {
	if v.auditor == nil {
		return
	}
	details := map[string]any{"reason": reason}
	if digest != "" {
		details["hash_prefix"] = HashPrefix(digest)
	}
	msg := err.Error()
	if f, ok := faults.From(err); ok {
		msg = f.Message
	}
	v.auditor.Emit(ctx, audit.Event{
		Type:         audit.EventAuthFailure,
		MaskedIP:     requestcontext.ClientIP(ctx),
		Action:       "validate_token",
		Success:      false,
		ErrorMessage: msg,
		Details:      details,
	})
}

func parseBearer(header string) (string, bool) {
	if header == "" || len(header) > maxHeaderLength {
		return "", false
	}
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, bearerScheme) {
		return "", false
	}
	token = strings.TrimSpace(token)
	if token == "" || strings.ContainsAny(token, " \t") {
		return "", false
	}
	return token, true
}
