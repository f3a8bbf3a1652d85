package httptransport

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"stagepass/internal/credential"
	"stagepass/internal/gate"
	id "stagepass/pkg/domain"
	"stagepass/pkg/platform/httputil"
)

type issueCredentialRequest struct {
	OwnerID     string   `json:"ownerId"`
	DisplayName string   `json:"displayName"`
	Scopes      []string `json:"scopes"`
	Environment string   `json:"environment"`
	TTLDays     *int     `json:"ttlDays,omitempty"`
}

type issueCredentialResponse struct {
	Token        string     `json:"token"`
	CredentialID string     `json:"credentialId"`
	Prefix       string     `json:"prefix"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
}

// credentialView is the listing shape. The digest never leaves the service.
type credentialView struct {
	CredentialID string     `json:"credentialId"`
	OwnerID      string     `json:"ownerId"`
	DisplayName  string     `json:"displayName"`
	Environment  string     `json:"environment"`
	Scopes       []string   `json:"scopes"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
	LastUsedAt   *time.Time `json:"lastUsedAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
}

type listCredentialsResponse struct {
	Credentials []credentialView `json:"credentials"`
}

// canManageCredentials allows ADMIN sessions and credentials holding the
// manage scope.
func canManageCredentials(subject gate.Subject) bool {
	if subject.Identity != nil {
		return subject.Identity.HasScope(credential.ScopeCredentialsManage)
	}
	return subject.Method == "session" && subject.Principal.Role == id.RoleAdmin
}

func (h *Handler) handleIssueCredential(w http.ResponseWriter, r *http.Request) {
	subject, r, err := h.authenticate(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	ctx := r.Context()
	if !canManageCredentials(subject) {
		h.writeError(w, r, h.deny(ctx, subject, "credentials", "issue", "credential management not permitted"))
		return
	}

	var body issueCredentialRequest
	if err := httputil.DecodeJSON(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	owner := subject.Principal.ID
	if body.OwnerID != "" {
		owner, err = id.ParsePrincipalID(body.OwnerID)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
	}

	issued, err := h.credentials.Issue(ctx, credential.IssueRequest{
		OwnerID:     owner,
		DisplayName: body.DisplayName,
		Scopes:      body.Scopes,
		Environment: credential.Environment(body.Environment),
		TTLDays:     body.TTLDays,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	httputil.WriteJSON(w, http.StatusCreated, issueCredentialResponse{
		Token:        issued.Plaintext,
		CredentialID: issued.CredentialID.String(),
		Prefix:       issued.Prefix,
		ExpiresAt:    issued.ExpiresAt,
	})
}

func (h *Handler) handleRevokeCredential(w http.ResponseWriter, r *http.Request) {
	subject, r, err := h.authenticate(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	ctx := r.Context()
	if !canManageCredentials(subject) {
		h.writeError(w, r, h.deny(ctx, subject, "credentials", "revoke", "credential management not permitted"))
		return
	}

	credentialID, err := id.ParseCredentialID(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.credentials.Revoke(ctx, credentialID); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListCredentials lists one owner's credentials, the caller's own by
// default.
func (h *Handler) handleListCredentials(w http.ResponseWriter, r *http.Request) {
	subject, r, err := h.authenticate(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	ctx := r.Context()
	if !canManageCredentials(subject) {
		h.writeError(w, r, h.deny(ctx, subject, "credentials", "list", "credential management not permitted"))
		return
	}

	owner := subject.Principal.ID
	if raw := r.URL.Query().Get("ownerId"); raw != "" {
		owner, err = id.ParsePrincipalID(raw)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
	}

	creds, err := h.credentials.List(ctx, owner)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := listCredentialsResponse{Credentials: make([]credentialView, 0, len(creds))}
	for _, c := range creds {
		resp.Credentials = append(resp.Credentials, credentialView{
			CredentialID: c.ID.String(),
			OwnerID:      c.OwnerID.String(),
			DisplayName:  c.DisplayName,
			Environment:  string(c.Environment),
			Scopes:       c.Scopes,
			ExpiresAt:    c.ExpiresAt,
			LastUsedAt:   c.LastUsedAt,
			CreatedAt:    c.CreatedAt,
		})
	}
	w.Header().Set("Cache-Control", "no-store")
	httputil.WriteJSON(w, http.StatusOK, resp)
}
