// Package directory reads principals and tickets owned by the identity and
// commerce collaborators. Both are read-only from this service's side.
package directory

import (
	"context"

	id "stagepass/pkg/domain"
)

// Principals looks up principals by ID. Unknown IDs return
// sentinel.ErrNotFound.
type Principals interface {
	FindPrincipal(ctx context.Context, principalID id.PrincipalID) (*id.Principal, error)
}

// Tickets lists every ticket a principal owns, in any status.
type Tickets interface {
	TicketsForOwner(ctx context.Context, ownerID id.PrincipalID) ([]id.Ticket, error)
}

// Directory is both halves, as served by one backing store.
type Directory interface {
	Principals
	Tickets
}
