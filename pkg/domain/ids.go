// Package domain holds the identifiers and read-only records shared across
// the service. IDs are distinct named types over uuid.UUID so a ticket ID can
// never be passed where a principal ID is expected.
package domain

import (
	"strings"

	"github.com/google/uuid"

	"stagepass/pkg/platform/faults"
)

type (
	PrincipalID  uuid.UUID
	CredentialID uuid.UUID
	TicketID     uuid.UUID
)

func (id PrincipalID) String() string  { return uuid.UUID(id).String() }
func (id CredentialID) String() string { return uuid.UUID(id).String() }
func (id TicketID) String() string     { return uuid.UUID(id).String() }

func (id PrincipalID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }
func (id CredentialID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id TicketID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }

// NewCredentialID returns a random credential ID.
func NewCredentialID() CredentialID { return CredentialID(uuid.New()) }

func ParsePrincipalID(s string) (PrincipalID, error) {
	u, err := parseUUID("principal_id", s)
	return PrincipalID(u), err
}

func ParseCredentialID(s string) (CredentialID, error) {
	u, err := parseUUID("credential_id", s)
	return CredentialID(u), err
}

func ParseTicketID(s string) (TicketID, error) {
	u, err := parseUUID("ticket_id", s)
	return TicketID(u), err
}

// parseUUID rejects empty, malformed and nil UUIDs with a validation fault.
func parseUUID(field, s string) (uuid.UUID, error) {
	if strings.TrimSpace(s) == "" {
		return uuid.Nil, faults.Validation("missing identifier", map[string]string{field: "required"})
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, faults.Validation("malformed identifier", map[string]string{field: "must be a UUID"})
	}
	if u == uuid.Nil {
		return uuid.Nil, faults.Validation("nil identifier", map[string]string{field: "must not be the nil UUID"})
	}
	return u, nil
}
