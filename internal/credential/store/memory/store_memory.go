// Package memory is an in-process credential store for development and tests.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"stagepass/internal/credential"
	id "stagepass/pkg/domain"
	"stagepass/pkg/platform/sentinel"
)

// InMemoryStore indexes credentials by ID and by digest.
type InMemoryStore struct {
	mu     sync.RWMutex
	byID   map[id.CredentialID]*credential.Credential
	byHash map[string]id.CredentialID
}

func New() *InMemoryStore {
	return &InMemoryStore{
		byID:   make(map[id.CredentialID]*credential.Credential),
		byHash: make(map[string]id.CredentialID),
	}
}

func (s *InMemoryStore) Create(_ context.Context, c *credential.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.byHash[c.HashedSecret]; taken {
		return fmt.Errorf("hashed secret already stored: %w", sentinel.ErrConflict)
	}
	if _, taken := s.byID[c.ID]; taken {
		return fmt.Errorf("credential %s already stored: %w", c.ID, sentinel.ErrConflict)
	}
	s.byID[c.ID] = clone(c)
	s.byHash[c.HashedSecret] = c.ID
	return nil
}

func (s *InMemoryStore) FindByHash(ctx context.Context, hashedSecret string) (*credential.Credential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	credID, ok := s.byHash[hashedSecret]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(s.byID[credID]), nil
}

func (s *InMemoryStore) FindByID(_ context.Context, credentialID id.CredentialID) (*credential.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byID[credentialID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(c), nil
}

func (s *InMemoryStore) ListByOwner(_ context.Context, ownerID id.PrincipalID) ([]*credential.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*credential.Credential
	for _, c := range s.byID {
		if c.OwnerID == ownerID {
			out = append(out, clone(c))
		}
	}
	return out, nil
}

// TouchLastUsed overwrites the last-used time; concurrent calls are
// last-write-wins.
func (s *InMemoryStore) TouchLastUsed(_ context.Context, credentialID id.CredentialID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[credentialID]
	if !ok {
		return sentinel.ErrNotFound
	}
	t := at
	c.LastUsedAt = &t
	return nil
}

func (s *InMemoryStore) Delete(_ context.Context, credentialID id.CredentialID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[credentialID]
	if !ok {
		return sentinel.ErrNotFound
	}
	delete(s.byHash, c.HashedSecret)
	delete(s.byID, credentialID)
	return nil
}

func clone(c *credential.Credential) *credential.Credential {
	cp := *c
	cp.Scopes = append([]string(nil), c.Scopes...)
	if c.ExpiresAt != nil {
		t := *c.ExpiresAt
		cp.ExpiresAt = &t
	}
	if c.LastUsedAt != nil {
		t := *c.LastUsedAt
		cp.LastUsedAt = &t
	}
	return &cp
}
