// Package memory is an in-process directory, optionally seeded from YAML.
package memory

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	id "stagepass/pkg/domain"
	"stagepass/pkg/platform/sentinel"
)

type Directory struct {
	mu         sync.RWMutex
	principals map[id.PrincipalID]id.Principal
	tickets    map[id.PrincipalID][]id.Ticket
}

func New() *Directory {
	return &Directory{
		principals: make(map[id.PrincipalID]id.Principal),
		tickets:    make(map[id.PrincipalID][]id.Ticket),
	}
}

func (d *Directory) PutPrincipal(p id.Principal) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.principals[p.ID] = p
}

// PutTicket inserts or replaces a ticket by ID.
func (d *Directory) PutTicket(t id.Ticket) {
	d.mu.Lock()
	defer d.mu.Unlock()
	owned := d.tickets[t.OwnerID]
	for i := range owned {
		if owned[i].ID == t.ID {
			owned[i] = t
			return
		}
	}
	d.tickets[t.OwnerID] = append(owned, t)
}

func (d *Directory) FindPrincipal(ctx context.Context, principalID id.PrincipalID) (*id.Principal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.principals[principalID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &p, nil
}

func (d *Directory) TicketsForOwner(ctx context.Context, ownerID id.PrincipalID) ([]id.Ticket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]id.Ticket(nil), d.tickets[ownerID]...), nil
}

type seedFile struct {
	Principals []struct {
		ID    string `yaml:"id"`
		Role  string `yaml:"role"`
		Email string `yaml:"email"`
	} `yaml:"principals"`
	Tickets []struct {
		ID     string `yaml:"id"`
		Owner  string `yaml:"owner"`
		Type   string `yaml:"type"`
		Status string `yaml:"status"`
	} `yaml:"tickets"`
}

// LoadSeed builds a directory from a YAML file listing principals and
// tickets. Ticket IDs may be omitted.
func LoadSeed(path string) (*Directory, error) {
	raw, err := os.ReadFile(path) //nolint:gosec // operator-supplied seed path
	if err != nil {
		return nil, fmt.Errorf("read directory seed: %w", err)
	}
	var seed seedFile
	if err := yaml.Unmarshal(raw, &seed); err != nil {
		return nil, fmt.Errorf("parse directory seed: %w", err)
	}

	d := New()
	for _, p := range seed.Principals {
		pid, err := id.ParsePrincipalID(p.ID)
		if err != nil {
			return nil, fmt.Errorf("seed principal %q: %w", p.ID, err)
		}
		role := id.Role(p.Role)
		if !role.IsValid() {
			return nil, fmt.Errorf("seed principal %q: unknown role %q", p.ID, p.Role)
		}
		d.PutPrincipal(id.Principal{ID: pid, Role: role, Email: p.Email})
	}
	for _, t := range seed.Tickets {
		owner, err := id.ParsePrincipalID(t.Owner)
		if err != nil {
			return nil, fmt.Errorf("seed ticket owner %q: %w", t.Owner, err)
		}
		ticketID := id.TicketID(uuid.New())
		if t.ID != "" {
			if ticketID, err = id.ParseTicketID(t.ID); err != nil {
				return nil, fmt.Errorf("seed ticket %q: %w", t.ID, err)
			}
		}
		d.PutTicket(id.Ticket{ID: ticketID, OwnerID: owner, Type: id.TicketType(t.Type), Status: id.TicketStatus(t.Status)})
	}
	return d, nil
}
