package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/castellanhq/castellan/internal/token/service"
	"github.com/castellanhq/castellan/pkg/httpx"
	"github.com/castellanhq/castellan/pkg/slogx"
)

const authTokenHeader = "X-Auth-Token"

// adminRole gates the revocation and key management endpoints.
const adminRole = "admin"

func (r *Router) registerRevocations() {
	r.handle("POST /v1/revocations", http.HandlerFunc(r.createRevocation),
		r.requireAdmin, httpx.RateLimitByUser(httpx.ModerateLimit))
}

type revocationRequest struct {
	SubjectID    string     `json:"subject_id,omitempty"`
	DomainID     string     `json:"domain_id,omitempty"`
	ProjectID    string     `json:"project_id,omitempty"`
	RoleID       string     `json:"role_id,omitempty"`
	TrustID      string     `json:"trust_id,omitempty"`
	AuditID      string     `json:"audit_id,omitempty"`
	IssuedBefore *time.Time `json:"issued_before,omitempty"`
}

func (r *Router) createRevocation(w http.ResponseWriter, req *http.Request) {
	var body revocationRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		httpx.WriteJSON(w, http.StatusBadRequest, errorBody("invalid_request"))
		return
	}

	c := service.Criteria{
		SubjectID: body.SubjectID,
		DomainID:  body.DomainID,
		ProjectID: body.ProjectID,
		RoleID:    body.RoleID,
		TrustID:   body.TrustID,
		AuditID:   body.AuditID,
	}
	if body.IssuedBefore != nil {
		c.IssuedBefore = *body.IssuedBefore
	}

	if err := r.Revocations.Revoke(req.Context(), c); err != nil {
		writeTokenError(w, req, err)
		return
	}

	w.WriteHeader(http.StatusCreated)
}

// requireAdmin validates the caller's own token and requires the admin role.
// The authenticated subject id lands in the context for downstream rate
// limiting and logging.
func (r *Router) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		token := req.Header.Get(authTokenHeader)
		if token == "" {
			httpx.WriteJSON(w, http.StatusUnauthorized, errorBody("unauthorized"))
			return
		}

		p, err := r.Tokens.Validate(req.Context(), token, presentedBind(req))
		if err != nil {
			writeTokenError(w, req, err)
			return
		}

		if !p.HasRole(adminRole) {
			slogx.FromContext(req.Context()).Warn("admin endpoint denied",
				"subject_id", p.SubjectID)
			httpx.WriteJSON(w, http.StatusForbidden, errorBody("forbidden"))
			return
		}

		ctx := context.WithValue(req.Context(), httpx.CtxKeyUserID, p.SubjectID)
		next.ServeHTTP(w, req.WithContext(ctx))
	})
}
