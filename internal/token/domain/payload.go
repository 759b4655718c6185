package domain

import (
	"fmt"
	"slices"
	"time"

	"github.com/castellanhq/castellan/pkg/idx"
)

// Scope is the tenancy context a token is valid within. At most one of
// ProjectID and DomainID may be set; neither set means an unscoped token.
type Scope struct {
	ProjectID string
	DomainID  string
}

func (s Scope) IsUnscoped() bool { return s.ProjectID == "" && s.DomainID == "" }

func (s Scope) IsProject() bool { return s.ProjectID != "" && s.DomainID == "" }

func (s Scope) IsDomain() bool { return s.DomainID != "" && s.ProjectID == "" }

// Validate rejects scopes that name both a project and a domain.
func (s Scope) Validate() error {
	if s.ProjectID != "" && s.DomainID != "" {
		return fmt.Errorf("%w: both project and domain set", ErrInvalidScope)
	}
	return nil
}

// EndpointRecord is one entry of the service catalog snapshot embedded in a
// token at issuance.
type EndpointRecord struct {
	ServiceType string `json:"service_type"`
	ServiceName string `json:"service_name,omitempty"`
	Interface   string `json:"interface"` // public, internal, admin
	Region      string `json:"region,omitempty"`
	URL         string `json:"url"`
}

// Payload is the authenticated-session record a token carries. It is created
// once at issuance and never mutated; rescoping builds a new payload with an
// extended audit chain.
type Payload struct {
	SubjectID string
	DomainID  string // home domain of the subject, not the scope

	Scope   Scope
	Methods []string // how the subject authenticated; sorted, non-empty
	Roles   []string // roles granted in the active scope; sorted

	Catalog []EndpointRecord // point-in-time snapshot, order preserved

	IssuedAt  time.Time
	ExpiresAt time.Time

	// AuditIDs is the provenance chain. AuditIDs[0] is this token's own
	// audit id; rescoped tokens carry their ancestors after it.
	AuditIDs []string

	// Bind optionally ties the token to the client channel that obtained
	// it, e.g. {"x509": <fingerprint>}.
	Bind map[string]string

	// TrustID is set only on delegated tokens.
	TrustID string
}

// BuildInput carries everything BuildPayload needs besides the clock.
type BuildInput struct {
	SubjectID string
	DomainID  string
	Scope     Scope
	Methods   []string
	Roles     []string
	Catalog   []EndpointRecord
	Bind      map[string]string
	TrustID   string
	Lifetime  time.Duration

	// Ancestor, when set, marks this as a rescope of an existing token.
	// The new payload copies the ancestor's audit chain and appends the
	// ancestor's own audit id.
	Ancestor *Payload
}

// BuildPayload assembles an immutable token payload. It is a pure function of
// its inputs and now; it performs no I/O.
//
// Timestamps are truncated to whole seconds so a payload survives any wire
// encoding that carries Unix-second precision.
func BuildPayload(in BuildInput, now time.Time) (Payload, error) {
	if err := in.Scope.Validate(); err != nil {
		return Payload{}, err
	}
	if len(in.Methods) == 0 {
		return Payload{}, ErrEmptyMethods
	}
	if !in.Scope.IsUnscoped() && len(in.Roles) == 0 {
		return Payload{}, fmt.Errorf("%w: scoped token without roles", ErrInvalidScope)
	}

	issued := now.UTC().Truncate(time.Second)

	audit := []string{idx.New().String()}
	if in.Ancestor != nil {
		audit = append(audit, in.Ancestor.AuditIDs...)
	}

	return Payload{
		SubjectID: in.SubjectID,
		DomainID:  in.DomainID,
		Scope:     in.Scope,
		Methods:   normalizeSet(in.Methods),
		Roles:     normalizeSet(in.Roles),
		Catalog:   slices.Clone(in.Catalog),
		IssuedAt:  issued,
		ExpiresAt: issued.Add(in.Lifetime),
		AuditIDs:  audit,
		Bind:      cloneBind(in.Bind),
		TrustID:   in.TrustID,
	}, nil
}

// AuditID returns the token's own audit id, the head of the chain.
func (p Payload) AuditID() string {
	if len(p.AuditIDs) == 0 {
		return ""
	}
	return p.AuditIDs[0]
}

// Expired reports whether the payload is past its expiry at the given time.
func (p Payload) Expired(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}

// HasRole reports membership in the payload's granted role set.
func (p Payload) HasRole(roleID string) bool {
	return slices.Contains(p.Roles, roleID)
}

// InAuditChain reports whether auditID appears anywhere in the provenance
// chain, so revoking an ancestor takes down every derived token.
func (p Payload) InAuditChain(auditID string) bool {
	return slices.Contains(p.AuditIDs, auditID)
}

// BindMatches compares the payload's bind assertion against the presenting
// channel. Payloads without a bind match anything.
func (p Payload) BindMatches(presented map[string]string) bool {
	if len(p.Bind) == 0 {
		return true
	}
	for k, v := range p.Bind {
		if presented[k] != v {
			return false
		}
	}
	return true
}

// normalizeSet dedupes and sorts a string set so payloads compare equal after
// any round trip.
func normalizeSet(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := slices.Clone(in)
	slices.Sort(out)
	return slices.Compact(out)
}

func cloneBind(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
