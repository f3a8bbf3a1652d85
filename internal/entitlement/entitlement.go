// Package entitlement computes which protected spaces a principal may enter.
//
// Compute is pure: it takes already-loaded role and ticket data and performs
// no I/O, so results can be recomputed on every request and never go stale
// after a refund or role change.
package entitlement

import (
	"strings"

	id "stagepass/pkg/domain"
)

// Capability names one protected space category.
type Capability string

const (
	ConcertHall  Capability = "concert_hall"
	PremiumArea  Capability = "premium_area"
	VIPArea      Capability = "vip_area"
	Backstage    Capability = "backstage"
	StadiumArena Capability = "stadium_arena"
)

// All lists every capability in a stable order.
func All() []Capability {
	return []Capability{ConcertHall, PremiumArea, VIPArea, Backstage, StadiumArena}
}

// ParseCapability accepts the snake_case name or its URL slug form
// ("vip-area").
func ParseCapability(s string) (Capability, bool) {
	c := Capability(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	for _, known := range All() {
		if c == known {
			return c, true
		}
	}
	return "", false
}

// CapabilitySet is the derived entry permissions of one principal.
type CapabilitySet struct {
	ConcertHall  bool `json:"canEnterConcertHall"`
	PremiumArea  bool `json:"canEnterPremiumArea"`
	VIPArea      bool `json:"canEnterVipArea"`
	Backstage    bool `json:"canEnterBackstage"`
	StadiumArena bool `json:"canEnterStadiumArena"`
}

// Has reports whether the set grants c. Unknown capabilities are never
// granted.
func (s CapabilitySet) Has(c Capability) bool {
	switch c {
	case ConcertHall:
		return s.ConcertHall
	case PremiumArea:
		return s.PremiumArea
	case VIPArea:
		return s.VIPArea
	case Backstage:
		return s.Backstage
	case StadiumArena:
		return s.StadiumArena
	}
	return false
}

// Granted lists the capabilities in the set.
func (s CapabilitySet) Granted() []Capability {
	var out []Capability
	for _, c := range All() {
		if s.Has(c) {
			out = append(out, c)
		}
	}
	return out
}

// Union returns every capability granted by either set.
func (s CapabilitySet) Union(o CapabilitySet) CapabilitySet {
	return CapabilitySet{
		ConcertHall:  s.ConcertHall || o.ConcertHall,
		PremiumArea:  s.PremiumArea || o.PremiumArea,
		VIPArea:      s.VIPArea || o.VIPArea,
		Backstage:    s.Backstage || o.Backstage,
		StadiumArena: s.StadiumArena || o.StadiumArena,
	}
}

func (s CapabilitySet) with(c Capability) CapabilitySet {
	switch c {
	case ConcertHall:
		s.ConcertHall = true
	case PremiumArea:
		s.PremiumArea = true
	case VIPArea:
		s.VIPArea = true
	case Backstage:
		s.Backstage = true
	case StadiumArena:
		s.StadiumArena = true
	}
	return s
}

// None is the anonymous principal's set.
func None() CapabilitySet { return CapabilitySet{} }

// Full grants everything.
func Full() CapabilitySet {
	return CapabilitySet{ConcertHall: true, PremiumArea: true, VIPArea: true, Backstage: true, StadiumArena: true}
}

var (
	standardGrants  = None().with(ConcertHall).with(PremiumArea).with(StadiumArena)
	vipGrants       = standardGrants.with(VIPArea)
	backstageGrants = vipGrants.with(Backstage)
)

// ticketGrants is the only ticket-type to capability mapping in the service.
// Each tier includes everything below it.
var ticketGrants = map[id.TicketType]CapabilitySet{
	id.TicketStandard:  standardGrants,
	id.TicketVIP:       vipGrants,
	id.TicketBackstage: backstageGrants,
}

// GrantsFor returns the capabilities one active ticket of type t grants.
func GrantsFor(t id.TicketType) CapabilitySet {
	return ticketGrants[t]
}

// unrestrictedRoles see every space regardless of tickets.
var unrestrictedRoles = map[id.Role]bool{
	id.RoleBandMember: true,
	id.RoleAdmin:      true,
}

// Compute derives the capability set for a role and its tickets. Only ACTIVE
// tickets count, and grants from different tickets are unioned.
func Compute(role id.Role, tickets []id.Ticket) CapabilitySet {
	if unrestrictedRoles[role] {
		return Full()
	}
	set := None()
	for _, t := range tickets {
		if t.Status != id.TicketActive {
			continue
		}
		set = set.Union(ticketGrants[t.Type])
	}
	return set
}
