package httptransport

import (
	"net/http"
	"time"

	"stagepass/internal/credential"
	"stagepass/pkg/platform/audit"
	"stagepass/pkg/platform/faults"
	"stagepass/pkg/platform/httputil"
)

// commerceEventRequest is posted by the commerce collaborator. Email and
// IP may be raw; the sink masks them.
type commerceEventRequest struct {
	Type         string         `json:"type"`
	PrincipalID  string         `json:"principalId"`
	Email        string         `json:"email"`
	IP           string         `json:"ip"`
	Resource     string         `json:"resource"`
	Action       string         `json:"action"`
	Success      bool           `json:"success"`
	ErrorMessage string         `json:"errorMessage"`
	Details      map[string]any `json:"details"`
	OccurredAt   *time.Time     `json:"occurredAt,omitempty"`
}

func (h *Handler) handleCommerceEvent(w http.ResponseWriter, r *http.Request) {
	subject, r, err := h.authenticate(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	ctx := r.Context()
	if subject.Identity == nil || !subject.Identity.HasScope(credential.ScopeAuditWrite) {
		h.writeError(w, r, h.deny(ctx, subject, "audit", "write", "audit ingest requires audit:write"))
		return
	}

	var body commerceEventRequest
	if err := httputil.DecodeJSON(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	eventType := audit.EventType(body.Type)
	if !eventType.IsCommerce() {
		h.writeError(w, r, faults.Validation("not a commerce event type", map[string]string{
			"type": "must be a TICKET_* or PAYMENT_* event",
		}))
		return
	}

	details := body.Details
	if details == nil {
		details = make(map[string]any)
	}
	details["source_credential"] = subject.Identity.CredentialID.String()

	event := audit.Event{
		Type:         eventType,
		PrincipalID:  body.PrincipalID,
		MaskedEmail:  body.Email,
		MaskedIP:     body.IP,
		Resource:     body.Resource,
		Action:       body.Action,
		Success:      body.Success,
		ErrorMessage: body.ErrorMessage,
		Details:      details,
	}
	if body.OccurredAt != nil {
		event.Timestamp = *body.OccurredAt
	}
	h.auditor.Emit(ctx, event)
	w.WriteHeader(http.StatusAccepted)
}
