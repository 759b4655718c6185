package domain

import "time"

// RevocationEvent is an invalidation predicate over already-issued tokens.
// Present narrowing fields must all match a payload for the event to apply;
// absent fields are wildcards. An event with no narrowing fields at all
// revokes every token issued at or before IssuedBefore.
type RevocationEvent struct {
	ID string

	SubjectID string
	DomainID  string
	ProjectID string
	RoleID    string
	TrustID   string
	AuditID   string

	// IssuedBefore bounds the event to tokens issued at or before it.
	IssuedBefore time.Time

	// RevokedAt is when the event was recorded; used for ledger pruning.
	RevokedAt time.Time
}

// Matches reports whether the event revokes the given payload. Each present
// field narrows the match conjunctively.
func (e RevocationEvent) Matches(p Payload) bool {
	if p.IssuedAt.After(e.IssuedBefore) {
		return false
	}
	if e.SubjectID != "" && e.SubjectID != p.SubjectID {
		return false
	}
	if e.DomainID != "" && e.DomainID != p.DomainID && e.DomainID != p.Scope.DomainID {
		return false
	}
	if e.ProjectID != "" && e.ProjectID != p.Scope.ProjectID {
		return false
	}
	if e.RoleID != "" && !p.HasRole(e.RoleID) {
		return false
	}
	if e.TrustID != "" && e.TrustID != p.TrustID {
		return false
	}
	if e.AuditID != "" && !p.InAuditChain(e.AuditID) {
		return false
	}
	return true
}

// Expired reports whether no unexpired token can still satisfy the event,
// given the maximum token lifetime in effect. Such events are prunable
// without losing reachable revocations.
func (e RevocationEvent) Expired(now time.Time, maxLifetime time.Duration) bool {
	return e.IssuedBefore.Add(maxLifetime).Before(now)
}
