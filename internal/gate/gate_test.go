package gate

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"stagepass/internal/credential"
	dirmemory "stagepass/internal/directory/memory"
	"stagepass/internal/entitlement"
	id "stagepass/pkg/domain"
	"stagepass/pkg/platform/audit"
	"stagepass/pkg/platform/faults"
	"stagepass/pkg/platform/sentinel"
)

type recordingAuditor struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *recordingAuditor) Emit(_ context.Context, e audit.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingAuditor) count(t audit.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

func (r *recordingAuditor) last() audit.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

type failingTickets struct{ err error }

func (f failingTickets) TicketsForOwner(context.Context, id.PrincipalID) ([]id.Ticket, error) {
	return nil, f.err
}

func subjectResolver(p id.Principal) Resolver {
	return ResolverFunc(func(context.Context) (Subject, error) {
		return Subject{Principal: p, Method: "session"}, nil
	})
}

func errResolver(err error) Resolver {
	return ResolverFunc(func(context.Context) (Subject, error) { return Subject{}, err })
}

var anonymousResolver = ResolverFunc(func(context.Context) (Subject, error) { return Anonymous(), nil })

type GateSuite struct {
	suite.Suite
	dir     *dirmemory.Directory
	auditor *recordingAuditor
	gate    *Gate
	fan     id.Principal
}

func TestGateSuite(t *testing.T) {
	suite.Run(t, new(GateSuite))
}

func (s *GateSuite) SetupTest() {
	s.dir = dirmemory.New()
	s.auditor = &recordingAuditor{}
	s.gate = New(s.dir, s.auditor)
	s.fan = id.Principal{ID: id.PrincipalID(uuid.New()), Role: id.RoleFan, Email: "fan@example.com"}
	s.dir.PutPrincipal(s.fan)
}

func (s *GateSuite) giveTicket(typ id.TicketType, status id.TicketStatus) id.TicketID {
	ticketID := id.TicketID(uuid.New())
	s.dir.PutTicket(id.Ticket{ID: ticketID, OwnerID: s.fan.ID, Type: typ, Status: status})
	return ticketID
}

func (s *GateSuite) TestGrantedWithActiveTicket() {
	s.giveTicket(id.TicketVIP, id.TicketActive)

	d := s.gate.Decide(context.Background(), subjectResolver(s.fan), entitlement.VIPArea, "vip-lounge")

	s.True(d.Allowed)
	s.Equal(ReasonGranted, d.Reason)
	s.Nil(d.Fault)
	s.Equal(s.fan.ID, d.PrincipalID)
	s.Equal(1, s.auditor.count(audit.EventAccessGranted))
	s.Zero(s.auditor.count(audit.EventAccessDenied))
}

func (s *GateSuite) TestInsufficientEntitlement() {
	s.giveTicket(id.TicketStandard, id.TicketActive)

	d := s.gate.Decide(context.Background(), subjectResolver(s.fan), entitlement.Backstage, "backstage")

	s.False(d.Allowed)
	s.Equal(ReasonInsufficientEntitlement, d.Reason)
	s.Require().NotNil(d.Fault)
	s.Equal(faults.CategoryAuthorization, d.Fault.Category)
	s.Equal(1, s.auditor.count(audit.EventAccessDenied))

	e := s.auditor.last()
	s.Equal("backstage", e.Resource)
	s.Equal("enter", e.Action)
	s.Equal(s.fan.ID.String(), e.PrincipalID)
	s.Equal("fan@example.com", e.MaskedEmail, "masking is the sink's job")
}

func (s *GateSuite) TestRefundTakesEffectImmediately() {
	ticketID := s.giveTicket(id.TicketBackstage, id.TicketActive)
	s.True(s.gate.Decide(context.Background(), subjectResolver(s.fan), entitlement.Backstage, "backstage").Allowed)

	s.dir.PutTicket(id.Ticket{ID: ticketID, OwnerID: s.fan.ID, Type: id.TicketBackstage, Status: id.TicketRefunded})

	d := s.gate.Decide(context.Background(), subjectResolver(s.fan), entitlement.Backstage, "backstage")
	s.False(d.Allowed)
	s.Equal(entitlement.None(), d.Capabilities)
}

func (s *GateSuite) TestAnonymousCaller() {
	d := s.gate.Decide(context.Background(), anonymousResolver, entitlement.ConcertHall, "main-stage")

	s.False(d.Allowed)
	s.True(d.Anonymous)
	s.Equal(ReasonInsufficientEntitlement, d.Reason)
	s.Equal(faults.CategoryAuthentication, d.Fault.Category)
	s.Equal(1, s.auditor.count(audit.EventAccessDenied))
}

func (s *GateSuite) TestPublicResourceAllowsAnonymous() {
	d := s.gate.Decide(context.Background(), anonymousResolver, "", "lobby")

	s.True(d.Allowed)
	s.Equal(ReasonPublic, d.Reason)
	s.Zero(s.auditor.count(audit.EventAccessDenied))
}

func (s *GateSuite) TestInvalidCredentialsAreUnauthenticated() {
	d := s.gate.Decide(context.Background(), errResolver(faults.Authentication(credential.MsgInvalidToken)), entitlement.ConcertHall, "main-stage")

	s.False(d.Allowed)
	s.Equal(ReasonUnauthenticated, d.Reason)
	s.Equal(faults.CategoryAuthentication, d.Fault.Category)
	s.Equal(1, s.auditor.count(audit.EventAccessDenied))
}

func (s *GateSuite) TestUpstreamFailureFailsClosed() {
	cases := map[string]Resolver{
		"raw error":      errResolver(errors.New("identity service unreachable")),
		"database fault": errResolver(faults.Database(context.DeadlineExceeded, "credential lookup failed")),
	}
	for name, resolver := range cases {
		s.Run(name, func() {
			before := s.auditor.count(audit.EventAccessDenied)
			d := s.gate.Decide(context.Background(), resolver, entitlement.ConcertHall, "main-stage")

			s.False(d.Allowed)
			s.Equal(ReasonUpstreamUnavailable, d.Reason)
			s.Require().NotNil(d.Fault)
			s.NotEqual(faults.CategoryAuthentication, d.Fault.Category)
			s.Equal(before+1, s.auditor.count(audit.EventAccessDenied))
		})
	}
}

func (s *GateSuite) TestTicketLookupFailureFailsClosed() {
	g := New(failingTickets{err: sentinel.ErrUnavailable}, s.auditor)

	d := g.Decide(context.Background(), subjectResolver(s.fan), entitlement.ConcertHall, "main-stage")

	s.False(d.Allowed)
	s.Equal(ReasonUpstreamUnavailable, d.Reason)
	s.Equal(faults.CategoryExternalService, d.Fault.Category)
}

func (s *GateSuite) TestFailOpenOutsideProduction() {
	g := New(failingTickets{err: sentinel.ErrUnavailable}, s.auditor, WithFailOpenOnUpstreamError(true, "development"))

	d := g.Decide(context.Background(), subjectResolver(s.fan), entitlement.Backstage, "backstage")

	s.True(d.Allowed)
	s.Equal(ReasonFailOpen, d.Reason)
	s.Equal(1, s.auditor.count(audit.EventFailOpenGranted))
	s.Zero(s.auditor.count(audit.EventAccessGranted))
	s.Zero(s.auditor.count(audit.EventAccessDenied))
}

func (s *GateSuite) TestFailOpenIgnoredInProduction() {
	g := New(failingTickets{err: sentinel.ErrUnavailable}, s.auditor, WithFailOpenOnUpstreamError(true, "production"))

	d := g.Decide(context.Background(), subjectResolver(s.fan), entitlement.Backstage, "backstage")

	s.False(d.Allowed)
	s.Equal(ReasonUpstreamUnavailable, d.Reason)
	s.Zero(s.auditor.count(audit.EventFailOpenGranted))
}

func (s *GateSuite) TestFailOpenDoesNotCoverBadCredentials() {
	g := New(s.dir, s.auditor, WithFailOpenOnUpstreamError(true, "development"))

	d := g.Decide(context.Background(), errResolver(faults.Authentication(credential.MsgTokenExpired)), entitlement.ConcertHall, "main-stage")

	s.False(d.Allowed)
	s.Equal(ReasonUnauthenticated, d.Reason)
}

func (s *GateSuite) TestDecideIsIdempotent() {
	s.giveTicket(id.TicketStandard, id.TicketActive)

	first := s.gate.Decide(context.Background(), subjectResolver(s.fan), entitlement.VIPArea, "vip-lounge")
	second := s.gate.Decide(context.Background(), subjectResolver(s.fan), entitlement.VIPArea, "vip-lounge")

	s.Equal(first.Allowed, second.Allowed)
	s.Equal(first.Reason, second.Reason)
	s.Equal(first.Capabilities, second.Capabilities)
}

func (s *GateSuite) TestAbandonedCallStillAudits() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := s.gate.Decide(ctx, subjectResolver(s.fan), entitlement.ConcertHall, "main-stage")

	s.False(d.Allowed)
	s.Equal(1, s.auditor.count(audit.EventAccessDenied))
}

func TestDecide_EveryDenialAuditedOnce(t *testing.T) {
	dir := dirmemory.New()
	auditor := &recordingAuditor{}
	g := New(dir, auditor)

	roles := []id.Role{id.RoleFan, id.RoleModerator, id.RoleBandMember, id.RoleAdmin}
	types := []id.TicketType{id.TicketStandard, id.TicketVIP, id.TicketBackstage}
	statuses := []id.TicketStatus{id.TicketActive, id.TicketRefunded}

	denied := 0
	for _, role := range roles {
		for _, typ := range types {
			for _, status := range statuses {
				p := id.Principal{ID: id.PrincipalID(uuid.New()), Role: role}
				dir.PutPrincipal(p)
				dir.PutTicket(id.Ticket{ID: id.TicketID(uuid.New()), OwnerID: p.ID, Type: typ, Status: status})
				for _, c := range entitlement.All() {
					if !g.Decide(context.Background(), subjectResolver(p), c, string(c)).Allowed {
						denied++
					}
				}
			}
		}
	}
	for _, r := range []Resolver{anonymousResolver, errResolver(errors.New("down")), errResolver(faults.Authentication("bad"))} {
		if !g.Decide(context.Background(), r, entitlement.ConcertHall, "main-stage").Allowed {
			denied++
		}
	}

	require.Positive(t, denied)
	assert.Equal(t, denied, auditor.count(audit.EventAccessDenied))
}

func TestCapabilities_IgnoresForeignTickets(t *testing.T) {
	p := id.Principal{ID: id.PrincipalID(uuid.New()), Role: id.RoleFan}
	foreign := id.Ticket{OwnerID: id.PrincipalID(uuid.New()), Type: id.TicketBackstage, Status: id.TicketActive}
	own := id.Ticket{OwnerID: p.ID, Type: id.TicketStandard, Status: id.TicketActive}

	got := Capabilities(p, []id.Ticket{foreign, own})

	assert.Equal(t, entitlement.GrantsFor(id.TicketStandard), got)
}
