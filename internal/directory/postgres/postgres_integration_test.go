//go:build integration

package postgres_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	dirpostgres "stagepass/internal/directory/postgres"
	id "stagepass/pkg/domain"
	"stagepass/pkg/platform/sentinel"
	"stagepass/pkg/testutil/containers"
)

func TestDirectory(t *testing.T) {
	pg := containers.NewPostgresContainer(t)
	ctx := context.Background()
	dir := dirpostgres.New(pg.DB)

	fan := uuid.New()
	_, err := pg.DB.ExecContext(ctx, `INSERT INTO principals (id, role, email) VALUES ($1, 'FAN', 'fan@example.com')`, fan)
	require.NoError(t, err)
	_, err = pg.DB.ExecContext(ctx, `INSERT INTO tickets (id, owner_id, type, status) VALUES ($1, $2, 'VIP', 'ACTIVE'), ($3, $2, 'BACKSTAGE', 'REFUNDED')`,
		uuid.New(), fan, uuid.New())
	require.NoError(t, err)

	p, err := dir.FindPrincipal(ctx, id.PrincipalID(fan))
	require.NoError(t, err)
	require.Equal(t, id.RoleFan, p.Role)

	tickets, err := dir.TicketsForOwner(ctx, id.PrincipalID(fan))
	require.NoError(t, err)
	require.Len(t, tickets, 2)

	_, err = dir.FindPrincipal(ctx, id.PrincipalID(uuid.New()))
	require.ErrorIs(t, err, sentinel.ErrNotFound)
}
