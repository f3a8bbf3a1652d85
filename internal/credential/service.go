// Package credential issues, validates and revokes API bearer credentials.
//
// A token is "live-" or "test-" followed by 32 random bytes in base64url.
// Only its SHA-256 digest is stored; the same Hash function is used at
// issuance and at validation.
package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/asaskevich/govalidator"

	id "stagepass/pkg/domain"
	"stagepass/pkg/platform/audit"
	"stagepass/pkg/platform/faults"
	"stagepass/pkg/platform/sentinel"
	pstrings "stagepass/pkg/platform/strings"
	"stagepass/pkg/requestcontext"
)

const (
	maxDisplayName = 128
	minTTLDays     = 1
	maxTTLDays     = 365
	scopePattern   = `^[a-z]+:[a-z]+$`
	// issueAttempts bounds retries on the astronomically unlikely digest
	// collision.
	issueAttempts = 3
)

// IssueRequest describes a credential to create.
type IssueRequest struct {
	OwnerID     id.PrincipalID
	DisplayName string
	Scopes      []string
	Environment Environment
	TTLDays     *int
}

// Issued is returned exactly once per credential; Plaintext is not
// recoverable afterwards.
type Issued struct {
	Plaintext    string
	CredentialID id.CredentialID
	Prefix       string
	ExpiresAt    *time.Time
}

// ServiceMetrics counts credential lifecycle operations.
type ServiceMetrics interface {
	IncCredentialIssued(environment string)
	IncCredentialRevoked()
}

type Service struct {
	store   Store
	auditor AuditEmitter
	logger  *slog.Logger
	metrics ServiceMetrics
	timeout time.Duration
}

type ServiceOption func(*Service)

func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m ServiceMetrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

func WithServiceStoreTimeout(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func NewService(store Store, auditor AuditEmitter, opts ...ServiceOption) *Service {
	s := &Service{store: store, auditor: auditor, timeout: defaultTimeout}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	return s
}

// Issue validates req, stores the digest of a new token and returns the
// plaintext.
func (s *Service) Issue(ctx context.Context, req IssueRequest) (*Issued, error) {
	req.Scopes = pstrings.DedupeAndTrimLower(req.Scopes)
	if err := validateIssue(req); err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	var expiresAt *time.Time
	if req.TTLDays != nil {
		exp := now.Add(time.Duration(*req.TTLDays) * 24 * time.Hour)
		expiresAt = &exp
	}

	for range issueAttempts {
		tok, err := Generate(req.Environment)
		if err != nil {
			return nil, err
		}
		cred := &Credential{
			ID:           id.NewCredentialID(),
			DisplayName:  req.DisplayName,
			Environment:  req.Environment,
			HashedSecret: tok.Hashed,
			OwnerID:      req.OwnerID,
			Scopes:       req.Scopes,
			ExpiresAt:    expiresAt,
			CreatedAt:    now,
		}

		storeCtx, cancel := context.WithTimeout(ctx, s.timeout)
		err = s.store.Create(storeCtx, cred)
		cancel()
		if errors.Is(err, sentinel.ErrConflict) {
			s.logger.WarnContext(ctx, "credential digest collision, regenerating")
			continue
		}
		if err != nil {
			return nil, faults.Database(err, "store credential")
		}

		if s.metrics != nil {
			s.metrics.IncCredentialIssued(string(req.Environment))
		}
		s.emit(ctx, audit.EventTokenIssued, cred.OwnerID, map[string]any{
			"credential_id": cred.ID.String(),
			"prefix":        tok.Prefix,
			"environment":   string(cred.Environment),
			"scopes":        cred.Scopes,
		})
		return &Issued{
			Plaintext:    tok.Plaintext,
			CredentialID: cred.ID,
			Prefix:       tok.Prefix,
			ExpiresAt:    expiresAt,
		}, nil
	}
	return nil, faults.Internal(nil, fmt.Sprintf("credential digest collided %d times", issueAttempts))
}

// Revoke hard-deletes a credential. A revoked token then fails validation
// exactly as one that was never issued.
func (s *Service) Revoke(ctx context.Context, credentialID id.CredentialID) error {
	storeCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cred, err := s.store.FindByID(storeCtx, credentialID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return faults.NotFound("credential not found").WithDetail("credential_id", credentialID.String())
	}
	if err != nil {
		return faults.Database(err, "load credential for revocation")
	}

	if err := s.store.Delete(storeCtx, credentialID); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return faults.NotFound("credential not found").WithDetail("credential_id", credentialID.String())
		}
		return faults.Database(err, "delete credential")
	}

	if s.metrics != nil {
		s.metrics.IncCredentialRevoked()
	}
	s.emit(ctx, audit.EventTokenRevoked, cred.OwnerID, map[string]any{
		"credential_id": credentialID.String(),
		"environment":   string(cred.Environment),
	})
	return nil
}

// List returns an owner's credentials. Digests are cleared.
func (s *Service) List(ctx context.Context, ownerID id.PrincipalID) ([]*Credential, error) {
	storeCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	creds, err := s.store.ListByOwner(storeCtx, ownerID)
	if err != nil {
		return nil, faults.Database(err, "list credentials")
	}
	out := make([]*Credential, 0, len(creds))
	for _, c := range creds {
		cp := *c
		cp.HashedSecret = ""
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Service) emit(ctx context.Context, typ audit.EventType, owner id.PrincipalID, details map[string]any) {
	if s.auditor == nil {
		return
	}
	actor := requestcontext.PrincipalID(ctx)
	if !actor.IsNil() && actor != owner {
		details["actor_id"] = actor.String()
	}
	if via := requestcontext.CredentialID(ctx); !via.IsNil() {
		details["actor_credential_id"] = via.String()
	}
	s.auditor.Emit(ctx, audit.Event{
		Type:        typ,
		PrincipalID: owner.String(),
		MaskedIP:    requestcontext.ClientIP(ctx),
		Resource:    "api_credential",
		Action:      string(typ),
		Success:     true,
		Details:     details,
	})
}

func validateIssue(req IssueRequest) error {
	fields := map[string]string{}
	if req.OwnerID.IsNil() {
		fields["ownerId"] = "required"
	}
	if !govalidator.StringLength(req.DisplayName, "1", fmt.Sprint(maxDisplayName)) {
		fields["displayName"] = fmt.Sprintf("must be 1-%d characters", maxDisplayName)
	}
	if !req.Environment.IsValid() {
		fields["environment"] = "must be LIVE or TEST"
	}
	if len(req.Scopes) == 0 {
		fields["scopes"] = "at least one scope is required"
	}
	for _, scope := range req.Scopes {
		if !govalidator.Matches(scope, scopePattern) {
			fields["scopes"] = "scopes must look like resource:action"
			break
		}
	}
	if req.TTLDays != nil && !govalidator.InRangeInt(*req.TTLDays, minTTLDays, maxTTLDays) {
		fields["ttlDays"] = fmt.Sprintf("must be between %d and %d", minTTLDays, maxTTLDays)
	}
	if len(fields) > 0 {
		return faults.Validation("invalid credential request", fields)
	}
	return nil
}
