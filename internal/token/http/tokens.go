package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/castellanhq/castellan/internal/token/domain"
	"github.com/castellanhq/castellan/pkg/httpx"
	"github.com/castellanhq/castellan/pkg/slogx"
)

// subjectTokenHeader carries the token under inspection, separate from the
// caller's own X-Auth-Token.
const subjectTokenHeader = "X-Subject-Token"

// bindHeaderPrefix marks headers presenting channel-binding data, e.g.
// X-Bind-X509: <fingerprint> presents {"x509": <fingerprint>}.
const bindHeaderPrefix = "X-Bind-"

func (r *Router) registerTokens() {
	r.handle("POST /v1/tokens", http.HandlerFunc(r.issueToken),
		httpx.RateLimitByIP(httpx.StrictLimit))
	r.handle("GET /v1/tokens", http.HandlerFunc(r.validateToken))
	r.handle("DELETE /v1/tokens", http.HandlerFunc(r.logoutToken))
	r.handle("POST /v1/tokens/rescope", http.HandlerFunc(r.rescopeToken),
		httpx.RateLimitByIP(httpx.ModerateLimit))
}

type issueRequest struct {
	Method    string            `json:"method"`
	Auth      map[string]string `json:"auth"`
	ProjectID string            `json:"project_id,omitempty"`
	DomainID  string            `json:"domain_id,omitempty"`
	Bind      map[string]string `json:"bind,omitempty"`
}

type tokenResponse struct {
	SubjectID string                  `json:"subject_id"`
	DomainID  string                  `json:"domain_id,omitempty"`
	ProjectID string                  `json:"project_id,omitempty"`
	ScopeDom  string                  `json:"scope_domain_id,omitempty"`
	Methods   []string                `json:"methods"`
	Roles     []string                `json:"roles,omitempty"`
	Catalog   []domain.EndpointRecord `json:"catalog,omitempty"`
	IssuedAt  time.Time               `json:"issued_at"`
	ExpiresAt time.Time               `json:"expires_at"`
	AuditIDs  []string                `json:"audit_ids"`
}

func payloadResponse(p domain.Payload) tokenResponse {
	return tokenResponse{
		SubjectID: p.SubjectID,
		DomainID:  p.DomainID,
		ProjectID: p.Scope.ProjectID,
		ScopeDom:  p.Scope.DomainID,
		Methods:   p.Methods,
		Roles:     p.Roles,
		Catalog:   p.Catalog,
		IssuedAt:  p.IssuedAt,
		ExpiresAt: p.ExpiresAt,
		AuditIDs:  p.AuditIDs,
	}
}

func (r *Router) issueToken(w http.ResponseWriter, req *http.Request) {
	var body issueRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		httpx.WriteJSON(w, http.StatusBadRequest, errorBody("invalid_request"))
		return
	}

	scope := domain.Scope{ProjectID: body.ProjectID, DomainID: body.DomainID}
	token, payload, err := r.Tokens.Authenticate(req.Context(), body.Method, body.Auth, scope, body.Bind)
	if err != nil {
		writeTokenError(w, req, err)
		return
	}

	w.Header().Set(subjectTokenHeader, token)
	httpx.WriteJSON(w, http.StatusCreated, payloadResponse(payload))
}

func (r *Router) validateToken(w http.ResponseWriter, req *http.Request) {
	token := req.Header.Get(subjectTokenHeader)
	if token == "" {
		httpx.WriteJSON(w, http.StatusBadRequest, errorBody("missing_subject_token"))
		return
	}

	payload, err := r.Tokens.Validate(req.Context(), token, presentedBind(req))
	if err != nil {
		writeTokenError(w, req, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, payloadResponse(payload))
}

func (r *Router) logoutToken(w http.ResponseWriter, req *http.Request) {
	token := req.Header.Get(subjectTokenHeader)
	if token == "" {
		httpx.WriteJSON(w, http.StatusBadRequest, errorBody("missing_subject_token"))
		return
	}

	if err := r.Tokens.Logout(req.Context(), token); err != nil {
		writeTokenError(w, req, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type rescopeRequest struct {
	ProjectID string `json:"project_id,omitempty"`
	DomainID  string `json:"domain_id,omitempty"`
}

func (r *Router) rescopeToken(w http.ResponseWriter, req *http.Request) {
	token := req.Header.Get(subjectTokenHeader)
	if token == "" {
		httpx.WriteJSON(w, http.StatusBadRequest, errorBody("missing_subject_token"))
		return
	}

	var body rescopeRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		httpx.WriteJSON(w, http.StatusBadRequest, errorBody("invalid_request"))
		return
	}

	scope := domain.Scope{ProjectID: body.ProjectID, DomainID: body.DomainID}
	newToken, payload, err := r.Tokens.Rescope(req.Context(), token, scope, presentedBind(req))
	if err != nil {
		writeTokenError(w, req, err)
		return
	}

	w.Header().Set(subjectTokenHeader, newToken)
	httpx.WriteJSON(w, http.StatusCreated, payloadResponse(payload))
}

func presentedBind(req *http.Request) map[string]string {
	var bind map[string]string
	for name, vals := range req.Header {
		if rest, ok := strings.CutPrefix(name, bindHeaderPrefix); ok && len(vals) > 0 {
			if bind == nil {
				bind = make(map[string]string)
			}
			bind[strings.ToLower(rest)] = vals[0]
		}
	}
	return bind
}

// writeTokenError is the single place the error taxonomy meets the wire.
// Every token-invalid variant becomes the same 401 so a caller can't learn
// which check rejected the token.
func writeTokenError(w http.ResponseWriter, req *http.Request, err error) {
	l := slogx.FromContext(req.Context())

	switch {
	case errors.Is(err, domain.ErrBackendUnavailable):
		l.Error("backend unavailable", "error", err)
		httpx.WriteJSON(w, http.StatusServiceUnavailable, errorBody("service_unavailable"))
	case errors.Is(err, domain.ErrAuthentication):
		httpx.WriteJSON(w, http.StatusUnauthorized, errorBody("unauthorized"))
	case domain.IsTokenInvalid(err):
		l.Debug("token rejected", "error", err)
		httpx.WriteJSON(w, http.StatusUnauthorized, errorBody("unauthorized"))
	case errors.Is(err, domain.ErrInvalidScope), errors.Is(err, domain.ErrEmptyMethods):
		httpx.WriteJSON(w, http.StatusBadRequest, errorBody("invalid_request"))
	default:
		l.Error("unexpected error", "error", err)
		httpx.WriteJSON(w, http.StatusInternalServerError, errorBody("internal_error"))
	}
}

func errorBody(code string) map[string]string {
	return map[string]string{"error": code}
}
