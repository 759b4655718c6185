package backend

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/castellanhq/castellan/internal/token/domain"
	"github.com/castellanhq/castellan/pkg/cryptox"
)

// MethodPassword is the only credential method the static identity backend
// verifies itself; other methods belong to external federation plumbing.
const MethodPassword = "password"

// StaticUser is one entry of the in-process identity backend.
type StaticUser struct {
	ID           string
	DomainID     string
	PasswordHash string // PHC-format Argon2id
	Disabled     bool
}

// StaticIdentity is a fixed user table, useful for small deployments and
// tests. Password checks use the same Argon2id verification as any real
// credential store would.
type StaticIdentity struct {
	users map[string]StaticUser
}

func NewStaticIdentity(users []StaticUser) *StaticIdentity {
	m := make(map[string]StaticUser, len(users))
	for _, u := range users {
		m[u.ID] = u
	}
	return &StaticIdentity{users: m}
}

func (s *StaticIdentity) VerifyCredentials(ctx context.Context, method string, data map[string]string) (Subject, error) {
	if method != MethodPassword {
		return Subject{}, fmt.Errorf("%w: unsupported method %q", domain.ErrAuthentication, method)
	}

	u, ok := s.users[data["subject_id"]]
	if !ok || u.Disabled {
		// Burn a hash anyway so user existence doesn't leak via timing.
		_ = cryptox.VerifyPassword(data["password"], dummyHash())
		return Subject{}, domain.ErrAuthentication
	}
	if err := cryptox.VerifyPassword(data["password"], u.PasswordHash); err != nil {
		return Subject{}, domain.ErrAuthentication
	}
	return Subject{ID: u.ID, DomainID: u.DomainID}, nil
}

// dummyHash is a throwaway Argon2id hash of an unguessable value, used to
// equalize timing between unknown-user and wrong-password failures. Computed
// on first use, after the pepper path has been configured.
var dummyHash = sync.OnceValue(func() string {
	h, err := cryptox.HashPassword(cryptox.MustGenerateToken(cryptox.TokenSize256))
	if err != nil {
		panic(fmt.Sprintf("backend: dummy hash: %v", err))
	}
	return h
})

// StaticGrant maps one subject to its roles in one scope.
type StaticGrant struct {
	SubjectID string
	Scope     domain.Scope
	Roles     []string
}

// StaticAssignment answers role lookups from a fixed grant table.
type StaticAssignment struct {
	grants []StaticGrant
}

func NewStaticAssignment(grants []StaticGrant) *StaticAssignment {
	return &StaticAssignment{grants: grants}
}

func (s *StaticAssignment) RolesFor(ctx context.Context, subjectID string, scope domain.Scope) ([]string, error) {
	for _, g := range s.grants {
		if g.SubjectID == subjectID && g.Scope == scope {
			return slices.Clone(g.Roles), nil
		}
	}
	return nil, nil
}

// StaticCatalog serves a fixed endpoint listing regardless of scope.
type StaticCatalog struct {
	endpoints []domain.EndpointRecord
}

func NewStaticCatalog(endpoints []domain.EndpointRecord) *StaticCatalog {
	return &StaticCatalog{endpoints: endpoints}
}

func (s *StaticCatalog) EndpointsFor(ctx context.Context, scope domain.Scope) ([]domain.EndpointRecord, error) {
	return slices.Clone(s.endpoints), nil
}
