//go:build integration

package postgres_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"stagepass/internal/credential"
	credpostgres "stagepass/internal/credential/store/postgres"
	id "stagepass/pkg/domain"
	"stagepass/pkg/platform/sentinel"
	"stagepass/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	pg    *containers.PostgresContainer
	store *credpostgres.Store
	owner id.PrincipalID
}

func TestPostgresStoreSuite(t *testing.T) {
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.pg = containers.NewPostgresContainer(s.T())
	s.store = credpostgres.New(s.pg.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.pg.Truncate(context.Background(), "api_credentials"))
	s.owner = id.PrincipalID(uuid.New())
}

func (s *PostgresStoreSuite) newCredential() *credential.Credential {
	token, err := credential.Generate(credential.EnvironmentLive)
	s.Require().NoError(err)
	expires := time.Now().Add(24 * time.Hour).UTC().Truncate(time.Microsecond)
	return &credential.Credential{
		ID:           id.NewCredentialID(),
		DisplayName:  "box office",
		Environment:  credential.EnvironmentLive,
		HashedSecret: token.Hashed,
		OwnerID:      s.owner,
		Scopes:       []string{"audit:write", "credentials:manage"},
		ExpiresAt:    &expires,
		CreatedAt:    time.Now().UTC().Truncate(time.Microsecond),
	}
}

func (s *PostgresStoreSuite) TestCreateAndFind() {
	ctx := context.Background()
	c := s.newCredential()
	s.Require().NoError(s.store.Create(ctx, c))

	byHash, err := s.store.FindByHash(ctx, c.HashedSecret)
	s.Require().NoError(err)
	s.Equal(c.ID, byHash.ID)
	s.Equal(c.Scopes, byHash.Scopes)
	s.True(c.ExpiresAt.Equal(*byHash.ExpiresAt))
	s.Nil(byHash.LastUsedAt)

	byID, err := s.store.FindByID(ctx, c.ID)
	s.Require().NoError(err)
	s.Equal(c.HashedSecret, byID.HashedSecret)

	listed, err := s.store.ListByOwner(ctx, s.owner)
	s.Require().NoError(err)
	s.Len(listed, 1)
}

func (s *PostgresStoreSuite) TestDuplicateDigestIsConflict() {
	ctx := context.Background()
	first := s.newCredential()
	s.Require().NoError(s.store.Create(ctx, first))

	dup := s.newCredential()
	dup.HashedSecret = first.HashedSecret
	s.ErrorIs(s.store.Create(ctx, dup), sentinel.ErrConflict)
}

func (s *PostgresStoreSuite) TestMissingIsNotFound() {
	ctx := context.Background()
	_, err := s.store.FindByHash(ctx, "deadbeef")
	s.ErrorIs(err, sentinel.ErrNotFound)
	s.ErrorIs(s.store.Delete(ctx, id.NewCredentialID()), sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestConcurrentTouchesBothSucceed() {
	ctx := context.Background()
	c := s.newCredential()
	s.Require().NoError(s.store.Create(ctx, c))

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for i := range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.store.TouchLastUsed(ctx, c.ID, time.Now().Add(time.Duration(i)*time.Second))
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		s.NoError(err)
	}

	got, err := s.store.FindByID(ctx, c.ID)
	s.Require().NoError(err)
	s.NotNil(got.LastUsedAt)
}

func (s *PostgresStoreSuite) TestDeleteIsHard() {
	ctx := context.Background()
	c := s.newCredential()
	s.Require().NoError(s.store.Create(ctx, c))
	s.Require().NoError(s.store.Delete(ctx, c.ID))

	_, err := s.store.FindByHash(ctx, c.HashedSecret)
	s.ErrorIs(err, sentinel.ErrNotFound)
}
