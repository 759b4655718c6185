package service

import (
	"context"
	"fmt"
	"time"

	"github.com/castellanhq/castellan/internal/token/backend"
	"github.com/castellanhq/castellan/internal/token/domain"
	"github.com/castellanhq/castellan/internal/token/ledger"
	"github.com/castellanhq/castellan/internal/token/provider"
	"github.com/castellanhq/castellan/pkg/cryptox"
	"github.com/castellanhq/castellan/pkg/slogx"
)

// TokenService is the issuance and validation front of the engine. Validate
// is the single entry point every authenticated request goes through.
type TokenService struct {
	Registry *provider.Registry
	Default  provider.Provider // format used for newly issued tokens

	Ledger     *ledger.Ledger
	Identity   backend.Identity
	Assignment backend.Assignment
	Catalog    backend.Catalog

	Lifetime time.Duration
	Now      func() time.Time
}

func (s *TokenService) clock() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// IssueRequest carries the inputs for minting a token. Roles and Catalog may
// be pre-resolved by the caller; when nil they are fetched from the
// assignment and catalog backends.
type IssueRequest struct {
	SubjectID string
	DomainID  string
	Scope     domain.Scope
	Methods   []string
	Roles     []string
	Catalog   []domain.EndpointRecord
	Bind      map[string]string
	TrustID   string

	// Ancestor marks a rescope; the new token extends its audit chain.
	Ancestor *domain.Payload
}

// Issue mints a token in the default format and returns both the token
// string and the payload it carries.
func (s *TokenService) Issue(ctx context.Context, req IssueRequest) (string, domain.Payload, error) {
	l := slogx.FromContext(ctx)

	roles := req.Roles
	if roles == nil && s.Assignment != nil {
		var err error
		roles, err = s.Assignment.RolesFor(ctx, req.SubjectID, req.Scope)
		if err != nil {
			return "", domain.Payload{}, fmt.Errorf("issue: roles: %w: %w", domain.ErrBackendUnavailable, err)
		}
	}

	catalog := req.Catalog
	if catalog == nil && s.Catalog != nil {
		var err error
		catalog, err = s.Catalog.EndpointsFor(ctx, req.Scope)
		if err != nil {
			return "", domain.Payload{}, fmt.Errorf("issue: catalog: %w: %w", domain.ErrBackendUnavailable, err)
		}
	}

	p, err := domain.BuildPayload(domain.BuildInput{
		SubjectID: req.SubjectID,
		DomainID:  req.DomainID,
		Scope:     req.Scope,
		Methods:   req.Methods,
		Roles:     roles,
		Catalog:   catalog,
		Bind:      req.Bind,
		TrustID:   req.TrustID,
		Lifetime:  s.Lifetime,
		Ancestor:  req.Ancestor,
	}, s.clock())
	if err != nil {
		return "", domain.Payload{}, err
	}

	token, err := s.Default.Encode(ctx, p)
	if err != nil {
		return "", domain.Payload{}, err
	}

	l.Info("token issued",
		"subject_id", p.SubjectID,
		"project_id", p.Scope.ProjectID,
		"domain_id", p.Scope.DomainID,
		"format", s.Default.Prefix(),
		"audit_id", p.AuditID(),
	)
	return token, p, nil
}

// Authenticate verifies credentials against the identity backend and issues
// a token for the requested scope.
func (s *TokenService) Authenticate(ctx context.Context, method string, data map[string]string, scope domain.Scope, bind map[string]string) (string, domain.Payload, error) {
	subject, err := s.Identity.VerifyCredentials(ctx, method, data)
	if err != nil {
		slogx.FromContext(ctx).Info("authentication rejected", "method", method)
		return "", domain.Payload{}, err
	}

	return s.Issue(ctx, IssueRequest{
		SubjectID: subject.ID,
		DomainID:  subject.DomainID,
		Scope:     scope,
		Methods:   []string{method},
		Bind:      bind,
	})
}

// Rescope exchanges a valid token for one in a different scope. The new
// token records its ancestor's audit id, so revoking the ancestor's chain
// takes the rescoped token down with it.
func (s *TokenService) Rescope(ctx context.Context, token string, scope domain.Scope, presentedBind map[string]string) (string, domain.Payload, error) {
	ancestor, err := s.Validate(ctx, token, presentedBind)
	if err != nil {
		return "", domain.Payload{}, err
	}

	methods := append([]string{"token"}, ancestor.Methods...)
	return s.Issue(ctx, IssueRequest{
		SubjectID: ancestor.SubjectID,
		DomainID:  ancestor.DomainID,
		Scope:     scope,
		Methods:   methods,
		Bind:      ancestor.Bind,
		TrustID:   ancestor.TrustID,
		Ancestor:  &ancestor,
	})
}

// Validate runs the full pipeline: format detection, decode, expiry, bind,
// then the revocation ledger. The ordering puts cheap deterministic rejects
// ahead of the ledger scan.
func (s *TokenService) Validate(ctx context.Context, token string, presentedBind map[string]string) (domain.Payload, error) {
	prov, err := s.Registry.Lookup(token)
	if err != nil {
		return domain.Payload{}, err
	}

	p, err := prov.Decode(ctx, token)
	if err != nil {
		return domain.Payload{}, err
	}

	if p.Expired(s.clock()) {
		return domain.Payload{}, domain.ErrTokenExpired
	}

	if !p.BindMatches(presentedBind) {
		return domain.Payload{}, domain.ErrBindMismatch
	}

	if s.Ledger.IsRevoked(p) {
		return domain.Payload{}, domain.ErrTokenRevoked
	}

	return p, nil
}

// Logout invalidates a single token. Opaque tokens lose their store entry;
// self-describing tokens get a revocation event against their own audit id,
// which is the only handle that survives statelessness.
func (s *TokenService) Logout(ctx context.Context, token string) error {
	prov, err := s.Registry.Lookup(token)
	if err != nil {
		return err
	}

	if d, ok := prov.(provider.Deleter); ok {
		if err := d.Delete(ctx, token); err != nil {
			return err
		}
		slogx.FromContext(ctx).Info("token deleted on logout",
			"format", prov.Prefix(),
			"token_fp", cryptox.FingerprintToken(token),
		)
		return nil
	}

	p, err := prov.Decode(ctx, token)
	if err != nil {
		return err
	}
	ev := domain.RevocationEvent{
		AuditID:      p.AuditID(),
		IssuedBefore: s.clock(),
	}
	if err := s.Ledger.Record(ctx, ev); err != nil {
		return err
	}
	slogx.FromContext(ctx).Info("token revoked on logout",
		"format", prov.Prefix(),
		"token_fp", cryptox.FingerprintToken(token),
		"audit_id", p.AuditID(),
	)
	return nil
}
