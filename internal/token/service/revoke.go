package service

import (
	"context"
	"time"

	"github.com/castellanhq/castellan/internal/token/domain"
	"github.com/castellanhq/castellan/internal/token/ledger"
	"github.com/castellanhq/castellan/pkg/slogx"
)

// Criteria selects the tokens a revocation applies to. Every set field
// narrows the match; a zero Criteria revokes all tokens issued up to
// IssuedBefore (or now, when unset).
type Criteria struct {
	SubjectID    string
	DomainID     string
	ProjectID    string
	RoleID       string
	TrustID      string
	AuditID      string
	IssuedBefore time.Time
}

// RevocationService is the write path for security-relevant events. It only
// ever appends to the ledger; tokens themselves are immutable.
type RevocationService struct {
	Ledger *ledger.Ledger
}

// Revoke records one revocation event from the given criteria.
func (s *RevocationService) Revoke(ctx context.Context, c Criteria) error {
	ev := domain.RevocationEvent{
		SubjectID:    c.SubjectID,
		DomainID:     c.DomainID,
		ProjectID:    c.ProjectID,
		RoleID:       c.RoleID,
		TrustID:      c.TrustID,
		AuditID:      c.AuditID,
		IssuedBefore: c.IssuedBefore,
	}
	if err := s.Ledger.Record(ctx, ev); err != nil {
		return err
	}

	slogx.FromContext(ctx).Info("revocation recorded",
		"subject_id", c.SubjectID,
		"domain_id", c.DomainID,
		"project_id", c.ProjectID,
		"role_id", c.RoleID,
		"trust_id", c.TrustID,
		"audit_id", c.AuditID,
	)
	return nil
}

// The helpers below are the canonical security events. Each is just a
// criteria shape; keeping them named makes call sites read like the incident
// they respond to.

// CredentialsChanged revokes every token the subject obtained before the
// credential change.
func (s *RevocationService) CredentialsChanged(ctx context.Context, subjectID string) error {
	return s.Revoke(ctx, Criteria{SubjectID: subjectID})
}

// GrantRemoved revokes tokens that carried the removed role in the given
// project scope.
func (s *RevocationService) GrantRemoved(ctx context.Context, subjectID, projectID, roleID string) error {
	return s.Revoke(ctx, Criteria{SubjectID: subjectID, ProjectID: projectID, RoleID: roleID})
}

// DomainDisabled revokes every token homed in or scoped to the domain.
func (s *RevocationService) DomainDisabled(ctx context.Context, domainID string) error {
	return s.Revoke(ctx, Criteria{DomainID: domainID})
}

// ProjectDisabled revokes every token scoped to the project.
func (s *RevocationService) ProjectDisabled(ctx context.Context, projectID string) error {
	return s.Revoke(ctx, Criteria{ProjectID: projectID})
}

// TrustDeleted revokes every token issued under the delegation.
func (s *RevocationService) TrustDeleted(ctx context.Context, trustID string) error {
	return s.Revoke(ctx, Criteria{TrustID: trustID})
}

// RevokeAll invalidates every currently valid token. The emergency lever.
func (s *RevocationService) RevokeAll(ctx context.Context) error {
	return s.Revoke(ctx, Criteria{})
}
