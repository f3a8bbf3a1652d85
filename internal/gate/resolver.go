package gate

import (
	"context"
	"time"

	"stagepass/internal/credential"
	"stagepass/internal/directory"
	id "stagepass/pkg/domain"
	"stagepass/pkg/platform/faults"
	"stagepass/pkg/platform/sentinel"
)

// SessionVerifier verifies a session token. Implemented by *session.Verifier.
type SessionVerifier interface {
	Verify(token string) (id.PrincipalID, error)
}

// TokenValidator validates an Authorization header. Implemented by
// *credential.Validator.
type TokenValidator interface {
	Validate(ctx context.Context, authorizationHeader string) (*credential.Identity, error)
}

// Subject is the resolved caller of a request.
type Subject struct {
	Principal id.Principal
	Anonymous bool
	// Identity is set when the caller authenticated with an API credential.
	Identity *credential.Identity
	// Method is "session", "token" or "anonymous".
	Method string
}

// Anonymous is the subject of a request that presented no credentials.
func Anonymous() Subject {
	return Subject{Anonymous: true, Method: "anonymous"}
}

// Resolver resolves the caller of one request. Presented but invalid
// credentials are authentication faults; any other error means the caller
// could not be determined.
type Resolver interface {
	Resolve(ctx context.Context) (Subject, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context) (Subject, error)

func (f ResolverFunc) Resolve(ctx context.Context) (Subject, error) { return f(ctx) }

// Presented are the raw credentials carried by a request.
type Presented struct {
	SessionToken  string
	Authorization string
}

// CredentialResolver resolves a session first, then a bearer token, then
// falls back to anonymous.
type CredentialResolver struct {
	sessions      SessionVerifier
	tokens        TokenValidator
	principals    directory.Principals
	lookupTimeout time.Duration
}

type ResolverOption func(*CredentialResolver)

// WithPrincipalLookupTimeout bounds the principal lookup.
func WithPrincipalLookupTimeout(d time.Duration) ResolverOption {
	return func(r *CredentialResolver) {
		if d > 0 {
			r.lookupTimeout = d
		}
	}
}

func NewCredentialResolver(sessions SessionVerifier, tokens TokenValidator, principals directory.Principals, opts ...ResolverOption) *CredentialResolver {
	r := &CredentialResolver{
		sessions:      sessions,
		tokens:        tokens,
		principals:    principals,
		lookupTimeout: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// For binds the resolver to one request's credentials.
func (r *CredentialResolver) For(p Presented) Resolver {
	return ResolverFunc(func(ctx context.Context) (Subject, error) {
		switch {
		case p.SessionToken != "" && r.sessions != nil:
			principalID, err := r.sessions.Verify(p.SessionToken)
			if err != nil {
				return Subject{}, err
			}
			principal, err := r.lookup(ctx, principalID)
			if err != nil {
				return Subject{}, err
			}
			return Subject{Principal: *principal, Method: "session"}, nil

		case p.Authorization != "" && r.tokens != nil:
			identity, err := r.tokens.Validate(ctx, p.Authorization)
			if err != nil {
				return Subject{}, err
			}
			principal, err := r.lookup(ctx, identity.PrincipalID)
			if err != nil {
				return Subject{}, err
			}
			return Subject{Principal: *principal, Identity: identity, Method: "token"}, nil
		}
		return Anonymous(), nil
	})
}

func (r *CredentialResolver) lookup(ctx context.Context, principalID id.PrincipalID) (*id.Principal, error) {
	lookupCtx, cancel := context.WithTimeout(ctx, r.lookupTimeout)
	defer cancel()

	principal, err := r.principals.FindPrincipal(lookupCtx, principalID)
	if err != nil {
		if sentinel.IsNotFound(err) {
			return nil, faults.Authentication("credential owner is not a known principal").
				WithDetail("principal_id", principalID.String())
		}
		return nil, faults.ExternalService(err, "identity directory lookup failed")
	}
	return principal, nil
}
