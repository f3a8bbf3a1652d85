// Package postgres reads the principals and tickets mirror tables.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	id "stagepass/pkg/domain"
	"stagepass/pkg/platform/sentinel"
)

type Directory struct {
	db *sql.DB
}

func New(db *sql.DB) *Directory {
	return &Directory{db: db}
}

func (d *Directory) FindPrincipal(ctx context.Context, principalID id.PrincipalID) (*id.Principal, error) {
	var (
		p     id.Principal
		pid   uuid.UUID
		role  string
		email sql.NullString
	)
	err := d.db.QueryRowContext(ctx,
		`SELECT id, role, email FROM principals WHERE id = $1`, uuid.UUID(principalID),
	).Scan(&pid, &role, &email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query principal: %w", err)
	}
	p.ID = id.PrincipalID(pid)
	p.Role = id.Role(role)
	p.Email = email.String
	return &p, nil
}

func (d *Directory) TicketsForOwner(ctx context.Context, ownerID id.PrincipalID) ([]id.Ticket, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, owner_id, type, status FROM tickets WHERE owner_id = $1`, uuid.UUID(ownerID))
	if err != nil {
		return nil, fmt.Errorf("query tickets: %w", err)
	}
	defer rows.Close()

	var tickets []id.Ticket
	for rows.Next() {
		var (
			tid, owner  uuid.UUID
			typ, status string
		)
		if err := rows.Scan(&tid, &owner, &typ, &status); err != nil {
			return nil, fmt.Errorf("scan ticket: %w", err)
		}
		tickets = append(tickets, id.Ticket{
			ID:      id.TicketID(tid),
			OwnerID: id.PrincipalID(owner),
			Type:    id.TicketType(typ),
			Status:  id.TicketStatus(status),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tickets: %w", err)
	}
	return tickets, nil
}
