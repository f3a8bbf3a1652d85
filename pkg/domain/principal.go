package domain

// Role is the platform role of a principal.
type Role string

const (
	RoleFan        Role = "FAN"
	RoleBandMember Role = "BAND_MEMBER"
	RoleModerator  Role = "MODERATOR"
	RoleAdmin      Role = "ADMIN"
)

func (r Role) IsValid() bool {
	switch r {
	case RoleFan, RoleBandMember, RoleModerator, RoleAdmin:
		return true
	}
	return false
}

// Principal is an authenticated user or service identity as mirrored from
// the identity collaborator.
type Principal struct {
	ID    PrincipalID
	Role  Role
	Email string
}

// TicketType is the purchased tier.
type TicketType string

const (
	TicketStandard  TicketType = "STANDARD"
	TicketVIP       TicketType = "VIP"
	TicketBackstage TicketType = "BACKSTAGE"
)

type TicketStatus string

const (
	TicketActive    TicketStatus = "ACTIVE"
	TicketExpired   TicketStatus = "EXPIRED"
	TicketRefunded  TicketStatus = "REFUNDED"
	TicketCancelled TicketStatus = "CANCELLED"
)

// Ticket is a purchase record as mirrored from the commerce collaborator.
type Ticket struct {
	ID      TicketID
	OwnerID PrincipalID
	Type    TicketType
	Status  TicketStatus
}
