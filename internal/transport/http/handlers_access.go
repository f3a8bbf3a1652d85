package httptransport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"stagepass/internal/entitlement"
	"stagepass/internal/gate"
	"stagepass/pkg/platform/faults"
	"stagepass/pkg/platform/httputil"
)

type capabilitiesResponse struct {
	PrincipalID  string                    `json:"principalId"`
	Role         string                    `json:"role"`
	Method       string                    `json:"method"`
	Capabilities entitlement.CapabilitySet `json:"capabilities"`
	Granted      []entitlement.Capability  `json:"granted"`
}

type accessResponse struct {
	Allowed      bool                      `json:"allowed"`
	Reason       string                    `json:"reason"`
	Space        entitlement.Capability    `json:"space"`
	Capabilities entitlement.CapabilitySet `json:"capabilities"`
}

func (h *Handler) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	subject, caps, err := h.gate.Evaluate(r.Context(), h.resolver(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	r = withSubject(r, subject)
	if subject.Anonymous {
		h.writeError(w, r, faults.Authentication("credentials required"))
		return
	}
	granted := caps.Granted()
	if granted == nil {
		granted = []entitlement.Capability{}
	}
	httputil.WriteJSON(w, http.StatusOK, capabilitiesResponse{
		PrincipalID:  subject.Principal.ID.String(),
		Role:         string(subject.Principal.Role),
		Method:       subject.Method,
		Capabilities: caps,
		Granted:      granted,
	})
}

// handleSpaceAccess is the room guard the venue front end calls before
// letting a visitor into a protected space.
func (h *Handler) handleSpaceAccess(w http.ResponseWriter, r *http.Request) {
	space := chi.URLParam(r, "space")
	required, ok := entitlement.ParseCapability(space)
	if !ok {
		h.writeError(w, r, faults.NotFound("unknown space "+space))
		return
	}

	var subject gate.Subject
	d := h.gate.Decide(r.Context(), capture(h.resolver(r), &subject), required, "space:"+string(required))
	r = withSubject(r, subject)
	if !d.Allowed {
		h.writeError(w, r, d.Fault)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	httputil.WriteJSON(w, http.StatusOK, accessResponse{
		Allowed:      true,
		Reason:       string(d.Reason),
		Space:        required,
		Capabilities: d.Capabilities,
	})
}
