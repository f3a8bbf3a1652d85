package memory

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "stagepass/pkg/domain"
	"stagepass/pkg/platform/sentinel"
)

func TestDirectory(t *testing.T) {
	ctx := context.Background()
	d := New()
	fan := id.Principal{ID: id.PrincipalID(uuid.New()), Role: id.RoleFan, Email: "fan@example.com"}
	d.PutPrincipal(fan)

	ticketID := id.TicketID(uuid.New())
	d.PutTicket(id.Ticket{ID: ticketID, OwnerID: fan.ID, Type: id.TicketVIP, Status: id.TicketActive})

	got, err := d.FindPrincipal(ctx, fan.ID)
	require.NoError(t, err)
	assert.Equal(t, fan, *got)

	_, err = d.FindPrincipal(ctx, id.PrincipalID(uuid.New()))
	assert.ErrorIs(t, err, sentinel.ErrNotFound)

	t.Run("refund replaces the ticket in place", func(t *testing.T) {
		d.PutTicket(id.Ticket{ID: ticketID, OwnerID: fan.ID, Type: id.TicketVIP, Status: id.TicketRefunded})
		tickets, err := d.TicketsForOwner(ctx, fan.ID)
		require.NoError(t, err)
		require.Len(t, tickets, 1)
		assert.Equal(t, id.TicketRefunded, tickets[0].Status)
	})
}

func TestLoadSeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "directory.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
principals:
  - id: 6f1c2d3e-4a5b-4c6d-8e7f-9a0b1c2d3e4f
    role: FAN
    email: fan@example.com
  - id: 7a2b3c4d-5e6f-4a1b-9c2d-3e4f5a6b7c8d
    role: BAND_MEMBER
tickets:
  - owner: 6f1c2d3e-4a5b-4c6d-8e7f-9a0b1c2d3e4f
    type: STANDARD
    status: ACTIVE
`), 0o600))

	d, err := LoadSeed(path)
	require.NoError(t, err)

	fanID, err := id.ParsePrincipalID("6f1c2d3e-4a5b-4c6d-8e7f-9a0b1c2d3e4f")
	require.NoError(t, err)
	tickets, err := d.TicketsForOwner(context.Background(), fanID)
	require.NoError(t, err)
	require.Len(t, tickets, 1)
	assert.Equal(t, id.TicketStandard, tickets[0].Type)
}

func TestLoadSeed_RejectsUnknownRole(t *testing.T) {
	path := filepath.Join(t.TempDir(), "directory.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
principals:
  - id: 6f1c2d3e-4a5b-4c6d-8e7f-9a0b1c2d3e4f
    role: ROADIE
`), 0o600))

	_, err := LoadSeed(path)
	assert.ErrorContains(t, err, "unknown role")
}
