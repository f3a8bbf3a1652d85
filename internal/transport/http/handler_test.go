package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"stagepass/internal/credential"
	credmemory "stagepass/internal/credential/store/memory"
	dirmemory "stagepass/internal/directory/memory"
	"stagepass/internal/gate"
	"stagepass/internal/ratelimit"
	ratelimitmw "stagepass/internal/ratelimit/middleware"
	ratelimitmemory "stagepass/internal/ratelimit/store/memory"
	"stagepass/internal/session"
	"stagepass/internal/transport/http/mocks"
	id "stagepass/pkg/domain"
	"stagepass/pkg/platform/audit"
	"stagepass/pkg/platform/faults"
	"stagepass/pkg/requestcontext"
	"stagepass/pkg/testutil"
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

func (r *recordingAuditor) ofType(t audit.EventType) []audit.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []audit.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type recordingReporter struct {
	mu      sync.Mutex
	callers []id.PrincipalID
}

func (r *recordingReporter) ReportFault(ctx context.Context, _ *faults.AppFault, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callers = append(r.callers, requestcontext.PrincipalID(ctx))
}

func (r *recordingReporter) last() id.PrincipalID {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.callers) == 0 {
		return id.PrincipalID{}
	}
	return r.callers[len(r.callers)-1]
}

type HandlerSuite struct {
	suite.Suite
	ctrl        *gomock.Controller
	credentials *mocks.MockCredentialService
	auditor     *recordingAuditor
	dir         *dirmemory.Directory
	sessions    *session.Verifier
	issuer      *credential.Service
	reporter    *recordingReporter
	gate        *gate.Gate
	resolvers   *gate.CredentialResolver
	mapper      *faults.Mapper
	router      http.Handler

	fan   id.Principal
	admin id.Principal
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.credentials = mocks.NewMockCredentialService(s.ctrl)
	s.auditor = &recordingAuditor{}
	s.dir = dirmemory.New()
	s.sessions = session.NewVerifier([]byte("0123456789abcdef0123456789abcdef"), "identity", "stagepass")

	s.fan = id.Principal{ID: id.PrincipalID(uuid.New()), Role: id.RoleFan, Email: "fan@example.com"}
	s.admin = id.Principal{ID: id.PrincipalID(uuid.New()), Role: id.RoleAdmin, Email: "ops@example.com"}
	s.dir.PutPrincipal(s.fan)
	s.dir.PutPrincipal(s.admin)
	s.dir.PutTicket(id.Ticket{ID: id.TicketID(uuid.New()), OwnerID: s.fan.ID, Type: id.TicketVIP, Status: id.TicketActive})

	store := credmemory.New()
	s.issuer = credential.NewService(store, s.auditor)
	validator := credential.NewValidator(store, s.auditor)
	s.resolvers = gate.NewCredentialResolver(s.sessions, validator, s.dir)
	s.gate = gate.New(s.dir, s.auditor)
	s.reporter = &recordingReporter{}
	s.mapper = faults.NewMapper(s.reporter)

	limiter := ratelimit.New(ratelimitmemory.New(), s.auditor, ratelimit.WithLimit(5, time.Minute))
	h := NewHandler(s.credentials, s.gate, s.resolvers, s.auditor, s.mapper)
	s.router = NewRouter(h, WithAuthFailureLimit(ratelimitmw.LimitAuthFailures(limiter, s.mapper)))
}

func (s *HandlerSuite) sessionFor(p id.Principal) string {
	token, err := s.sessions.Sign(p.ID, time.Hour)
	s.Require().NoError(err)
	return token
}

func (s *HandlerSuite) bearerFor(owner id.Principal, scopes ...string) string {
	issued, err := s.issuer.Issue(context.Background(), credential.IssueRequest{
		OwnerID:     owner.ID,
		DisplayName: "commerce",
		Scopes:      scopes,
		Environment: credential.EnvironmentLive,
	})
	s.Require().NoError(err)
	return "Bearer " + issued.Plaintext
}

func (s *HandlerSuite) do(req *http.Request) *httptest.ResponseRecorder {
	req.RemoteAddr = "203.0.113.7:40000"
	return testutil.DoRequest(s.router, req)
}

func (s *HandlerSuite) envelope(rr *httptest.ResponseRecorder) faults.Envelope {
	return testutil.UnmarshalErrorResponse(s.T(), rr)
}

func (s *HandlerSuite) TestHealth() {
	rr := s.do(testutil.NewRequest(s.T(), http.MethodGet, "/healthz"))
	s.Equal(http.StatusOK, rr.Code)
}

func (s *HandlerSuite) TestHealthDegraded() {
	h := NewHandler(s.credentials, nil, nil, s.auditor, faults.NewMapper(nil),
		WithHealthCheck("postgres", func(context.Context) error { return errors.New("down") }))
	rr := testutil.DoRequest(NewRouter(h), testutil.NewRequest(s.T(), http.MethodGet, "/healthz"))

	s.Equal(http.StatusServiceUnavailable, rr.Code)
	s.Contains(rr.Body.String(), `"postgres":"unavailable"`)
}

func (s *HandlerSuite) TestCapabilities() {
	s.Run("session caller sees its capability set", func() {
		req := testutil.NewRequest(s.T(), http.MethodGet, "/v1/me/capabilities")
		req.Header.Set(SessionHeader, s.sessionFor(s.fan))
		rr := s.do(req)

		s.Require().Equal(http.StatusOK, rr.Code)
		var body map[string]any
		s.Require().NoError(json.Unmarshal(rr.Body.Bytes(), &body))
		caps := body["capabilities"].(map[string]any)
		s.Equal(true, caps["canEnterVipArea"])
		s.Equal(false, caps["canEnterBackstage"])
		s.Equal("session", body["method"])
	})

	s.Run("anonymous caller is unauthenticated", func() {
		rr := s.do(testutil.NewRequest(s.T(), http.MethodGet, "/v1/me/capabilities"))
		s.Equal(http.StatusUnauthorized, rr.Code)
		s.Equal(faults.CategoryAuthentication.ClientMessage(), s.envelope(rr).Message)
	})

	s.Run("forged session is unauthenticated", func() {
		req := testutil.NewRequest(s.T(), http.MethodGet, "/v1/me/capabilities")
		req.Header.Set(SessionHeader, "not-a-jwt")
		s.Equal(http.StatusUnauthorized, s.do(req).Code)
	})
}

func (s *HandlerSuite) TestSpaceAccess() {
	s.Run("granted", func() {
		req := testutil.NewRequest(s.T(), http.MethodGet, "/v1/spaces/vip-area/access")
		req.Header.Set(SessionHeader, s.sessionFor(s.fan))
		rr := s.do(req)

		s.Equal(http.StatusOK, rr.Code)
		s.Contains(rr.Body.String(), `"allowed":true`)
	})

	s.Run("denied with a generic message and one audit event", func() {
		before := len(s.auditor.ofType(audit.EventAccessDenied))
		req := testutil.NewRequest(s.T(), http.MethodGet, "/v1/spaces/backstage/access")
		req.Header.Set(SessionHeader, s.sessionFor(s.fan))
		rr := s.do(req)

		s.Equal(http.StatusForbidden, rr.Code)
		env := s.envelope(rr)
		s.Equal(faults.CategoryAuthorization.ClientMessage(), env.Message)
		s.NotContains(rr.Body.String(), "backstage")
		s.Len(s.auditor.ofType(audit.EventAccessDenied), before+1)
	})

	s.Run("unknown space", func() {
		req := testutil.NewRequest(s.T(), http.MethodGet, "/v1/spaces/green-room/access")
		testutil.AssertStatusAndError(s.T(), s.do(req), http.StatusNotFound, string(faults.CategoryNotFound))
	})
}

func (s *HandlerSuite) TestIssueCredential() {
	s.Run("admin session issues for another principal", func() {
		s.credentials.EXPECT().
			Issue(gomock.Any(), gomock.Any()).
			DoAndReturn(func(ctx context.Context, req credential.IssueRequest) (*credential.Issued, error) {
				s.Equal(s.admin.ID, requestcontext.PrincipalID(ctx))
				s.Equal(s.fan.ID, req.OwnerID)
				s.Equal(credential.EnvironmentTest, req.Environment)
				return &credential.Issued{Plaintext: "test-secret", CredentialID: id.NewCredentialID(), Prefix: "test-secret"}, nil
			})

		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/v1/credentials", map[string]any{
			"ownerId":     s.fan.ID.String(),
			"displayName": "box office",
			"scopes":      []string{"audit:write"},
			"environment": "TEST",
		})
		req.Header.Set(SessionHeader, s.sessionFor(s.admin))
		rr := s.do(req)

		s.Require().Equal(http.StatusCreated, rr.Code)
		s.Equal("no-store", rr.Header().Get("Cache-Control"))
		s.Contains(rr.Body.String(), `"token":"test-secret"`)
	})

	s.Run("fan session is refused and audited", func() {
		before := len(s.auditor.ofType(audit.EventAccessDenied))
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/v1/credentials", map[string]any{"displayName": "x"})
		req.Header.Set(SessionHeader, s.sessionFor(s.fan))
		rr := s.do(req)

		s.Equal(http.StatusForbidden, rr.Code)
		denied := s.auditor.ofType(audit.EventAccessDenied)
		s.Require().Len(denied, before+1)
		s.Equal("credentials", denied[len(denied)-1].Resource)
		s.Equal("issue", denied[len(denied)-1].Action)
	})

	s.Run("token with manage scope may issue", func() {
		s.credentials.EXPECT().Issue(gomock.Any(), gomock.Any()).
			Return(&credential.Issued{Plaintext: "live-x", CredentialID: id.NewCredentialID()}, nil)

		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/v1/credentials", map[string]any{
			"displayName": "ci", "scopes": []string{"audit:write"}, "environment": "LIVE",
		})
		req.Header.Set("Authorization", s.bearerFor(s.fan, credential.ScopeCredentialsManage))
		s.Equal(http.StatusCreated, s.do(req).Code)
	})

	s.Run("validation fields are echoed", func() {
		s.credentials.EXPECT().Issue(gomock.Any(), gomock.Any()).
			Return(nil, faults.Validation("invalid issue request", map[string]string{"scopes": "at least one scope is required"}))

		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/v1/credentials", map[string]any{"displayName": "x"})
		req.Header.Set(SessionHeader, s.sessionFor(s.admin))
		rr := s.do(req)

		s.Equal(http.StatusBadRequest, rr.Code)
		s.Equal("at least one scope is required", s.envelope(rr).Fields["scopes"])
	})

	s.Run("unknown body fields are rejected", func() {
		req := testutil.NewRequestWithBody(s.T(), http.MethodPost, "/v1/credentials", `{"displayName":"x","admin":true}`)
		req.Header.Set(SessionHeader, s.sessionFor(s.admin))
		s.Equal(http.StatusBadRequest, s.do(req).Code)
	})
}

func (s *HandlerSuite) TestIssuedCredentialRecordsActor() {
	router := NewRouter(NewHandler(s.issuer, s.gate, s.resolvers, s.auditor, s.mapper))

	s.Run("admin session issuing for another owner", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/v1/credentials", map[string]any{
			"ownerId":     s.fan.ID.String(),
			"displayName": "box office",
			"scopes":      []string{"audit:write"},
			"environment": "TEST",
		})
		req.Header.Set(SessionHeader, s.sessionFor(s.admin))
		req.RemoteAddr = "203.0.113.7:40000"
		rr := testutil.DoRequest(router, req)
		s.Require().Equal(http.StatusCreated, rr.Code)

		issued := s.auditor.ofType(audit.EventTokenIssued)
		s.Require().Len(issued, 1)
		s.Equal(s.fan.ID.String(), issued[0].PrincipalID)
		s.Equal(s.admin.ID.String(), issued[0].Details["actor_id"])
		s.NotContains(issued[0].Details, "actor_credential_id")
	})

	s.Run("manage-scoped token names the credential it acted through", func() {
		owner := s.bearerFor(s.admin, credential.ScopeCredentialsManage)
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/v1/credentials", map[string]any{
			"ownerId":     s.fan.ID.String(),
			"displayName": "scanner",
			"scopes":      []string{"audit:write"},
			"environment": "LIVE",
		})
		req.Header.Set("Authorization", owner)
		req.RemoteAddr = "203.0.113.7:40000"
		s.Require().Equal(http.StatusCreated, testutil.DoRequest(router, req).Code)

		issued := s.auditor.ofType(audit.EventTokenIssued)
		last := issued[len(issued)-1]
		s.Equal(s.admin.ID.String(), last.Details["actor_id"])
		s.NotEmpty(last.Details["actor_credential_id"])
	})
}

func (s *HandlerSuite) TestListCredentials() {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	s.Run("admin lists another owner's credentials", func() {
		s.credentials.EXPECT().List(gomock.Any(), s.fan.ID).
			DoAndReturn(func(ctx context.Context, _ id.PrincipalID) ([]*credential.Credential, error) {
				s.Equal(s.admin.ID, requestcontext.PrincipalID(ctx))
				return []*credential.Credential{{
					ID:          id.NewCredentialID(),
					OwnerID:     s.fan.ID,
					DisplayName: "box office",
					Environment: credential.EnvironmentLive,
					Scopes:      []string{"audit:write"},
					CreatedAt:   created,
				}}, nil
			})

		req := testutil.NewRequest(s.T(), http.MethodGet, "/v1/credentials?ownerId="+s.fan.ID.String())
		req.Header.Set(SessionHeader, s.sessionFor(s.admin))
		rr := s.do(req)

		s.Require().Equal(http.StatusOK, rr.Code)
		s.Equal("no-store", rr.Header().Get("Cache-Control"))
		s.NotContains(rr.Body.String(), "hashed")
		body := testutil.DecodeJSON[listCredentialsResponse](s.T(), rr)
		s.Require().Len(body.Credentials, 1)
		s.Equal("box office", body.Credentials[0].DisplayName)
		s.Equal(s.fan.ID.String(), body.Credentials[0].OwnerID)
	})

	s.Run("defaults to the caller", func() {
		s.credentials.EXPECT().List(gomock.Any(), s.admin.ID).Return(nil, nil)
		req := testutil.NewRequest(s.T(), http.MethodGet, "/v1/credentials")
		req.Header.Set(SessionHeader, s.sessionFor(s.admin))
		rr := s.do(req)

		s.Require().Equal(http.StatusOK, rr.Code)
		s.Contains(rr.Body.String(), `"credentials":[]`)
	})

	s.Run("fan session is refused and audited", func() {
		before := len(s.auditor.ofType(audit.EventAccessDenied))
		req := testutil.NewRequest(s.T(), http.MethodGet, "/v1/credentials")
		req.Header.Set(SessionHeader, s.sessionFor(s.fan))

		s.Equal(http.StatusForbidden, s.do(req).Code)
		denied := s.auditor.ofType(audit.EventAccessDenied)
		s.Require().Len(denied, before+1)
		s.Equal("list", denied[len(denied)-1].Action)
	})

	s.Run("malformed owner", func() {
		req := testutil.NewRequest(s.T(), http.MethodGet, "/v1/credentials?ownerId=nope")
		req.Header.Set(SessionHeader, s.sessionFor(s.admin))
		s.Equal(http.StatusBadRequest, s.do(req).Code)
	})
}

func (s *HandlerSuite) TestRevokeCredential() {
	credentialID := id.NewCredentialID()

	s.Run("revoked", func() {
		s.credentials.EXPECT().Revoke(gomock.Any(), credentialID).Return(nil)
		req := testutil.NewRequest(s.T(), http.MethodDelete, "/v1/credentials/"+credentialID.String())
		req.Header.Set(SessionHeader, s.sessionFor(s.admin))
		s.Equal(http.StatusNoContent, s.do(req).Code)
	})

	s.Run("unknown credential", func() {
		s.credentials.EXPECT().Revoke(gomock.Any(), credentialID).Return(faults.NotFound("credential not found"))
		req := testutil.NewRequest(s.T(), http.MethodDelete, "/v1/credentials/"+credentialID.String())
		req.Header.Set(SessionHeader, s.sessionFor(s.admin))
		s.Equal(http.StatusNotFound, s.do(req).Code)
		s.Equal(s.admin.ID, s.reporter.last())
	})

	s.Run("malformed id", func() {
		req := testutil.NewRequest(s.T(), http.MethodDelete, "/v1/credentials/not-a-uuid")
		req.Header.Set(SessionHeader, s.sessionFor(s.admin))
		s.Equal(http.StatusBadRequest, s.do(req).Code)
	})
}

func (s *HandlerSuite) TestCommerceEvents() {
	body := map[string]any{
		"type":        "TICKET_REFUNDED",
		"principalId": s.fan.ID.String(),
		"email":       "fan@example.com",
		"ip":          "198.51.100.23",
		"resource":    "ticket",
		"action":      "refund",
		"success":     true,
	}

	s.Run("accepted from an audit writer", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/v1/audit/commerce-events", body)
		req.Header.Set("Authorization", s.bearerFor(s.fan, credential.ScopeAuditWrite))
		s.Require().Equal(http.StatusAccepted, s.do(req).Code)

		refunds := s.auditor.ofType(audit.EventTicketRefunded)
		s.Require().Len(refunds, 1)
		s.Equal("refund", refunds[0].Action)
		s.Contains(refunds[0].Details, "source_credential")
	})

	s.Run("sessions cannot write audit events", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/v1/audit/commerce-events", body)
		req.Header.Set(SessionHeader, s.sessionFor(s.admin))
		s.Equal(http.StatusForbidden, s.do(req).Code)
	})

	s.Run("non-commerce types are rejected", func() {
		forged := map[string]any{"type": "ACCESS_GRANTED", "success": true}
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/v1/audit/commerce-events", forged)
		req.Header.Set("Authorization", s.bearerFor(s.fan, credential.ScopeAuditWrite))
		rr := s.do(req)

		s.Equal(http.StatusBadRequest, rr.Code)
		s.Contains(s.envelope(rr).Fields, "type")
	})
}

func (s *HandlerSuite) TestRepeatedAuthFailuresAreThrottled() {
	var last *httptest.ResponseRecorder
	for range 6 {
		req := testutil.NewRequest(s.T(), http.MethodGet, "/v1/me/capabilities")
		req.Header.Set("Authorization", "Bearer live-"+strings.Repeat("x", 43))
		last = s.do(req)
	}

	s.Equal(http.StatusTooManyRequests, last.Code)
	s.NotEmpty(last.Header().Get("Retry-After"))
	s.NotEmpty(s.auditor.ofType(audit.EventRateLimitExceeded))
}
