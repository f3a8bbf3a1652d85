package credential

import (
	"context"
	"time"

	id "stagepass/pkg/domain"
)

//go:generate mockgen -source=store.go -destination=mocks/mocks.go -package=mocks

// Store persists credentials. Lookups return sentinel.ErrNotFound for
// unknown digests or IDs; Create returns sentinel.ErrConflict when the
// digest is already taken.
type Store interface {
	Create(ctx context.Context, c *Credential) error
	FindByHash(ctx context.Context, hashedSecret string) (*Credential, error)
	FindByID(ctx context.Context, credentialID id.CredentialID) (*Credential, error)
	ListByOwner(ctx context.Context, ownerID id.PrincipalID) ([]*Credential, error)
	TouchLastUsed(ctx context.Context, credentialID id.CredentialID, at time.Time) error
	Delete(ctx context.Context, credentialID id.CredentialID) error
}
