package credential

import (
	"slices"
	"time"

	id "stagepass/pkg/domain"
)

// Environment separates production credentials from sandbox ones.
type Environment string

const (
	EnvironmentLive Environment = "LIVE"
	EnvironmentTest Environment = "TEST"
)

func (e Environment) IsValid() bool {
	return e == EnvironmentLive || e == EnvironmentTest
}

// Credential is a stored API credential. Only the digest of the secret is
// kept; the plaintext exists once, in the Issue response.
type Credential struct {
	ID           id.CredentialID
	DisplayName  string
	Environment  Environment
	HashedSecret string
	OwnerID      id.PrincipalID
	Scopes       []string
	ExpiresAt    *time.Time
	LastUsedAt   *time.Time
	CreatedAt    time.Time
}

// IsExpired reports whether the credential has an expiry at or before now.
func (c *Credential) IsExpired(now time.Time) bool {
	return c.ExpiresAt != nil && !now.Before(*c.ExpiresAt)
}

func (c *Credential) HasScope(scope string) bool {
	return slices.Contains(c.Scopes, scope)
}

// Identity is what a validated bearer token proves about its caller.
type Identity struct {
	PrincipalID  id.PrincipalID
	CredentialID id.CredentialID
	Scopes       []string
	Environment  Environment
}

func (i *Identity) HasScope(scope string) bool {
	return i != nil && slices.Contains(i.Scopes, scope)
}

// Well-known scopes checked by the HTTP layer.
const (
	ScopeCredentialsManage = "credentials:manage"
	ScopeAuditWrite        = "audit:write"
)
