package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/castellanhq/castellan/internal/token/domain"
	"github.com/castellanhq/castellan/internal/token/ledger"
	"github.com/castellanhq/castellan/internal/token/store/drivers/memory"
)

type revokeFixture struct {
	revokes *RevocationService
	ledger  *ledger.Ledger
	clock   *time.Time
}

func newRevokeFixture(t *testing.T) *revokeFixture {
	t.Helper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := &now

	led := ledger.New(ledger.Options{
		Events:           memory.NewStore(time.Hour).RevocationEvents(),
		MaxTokenLifetime: time.Hour,
		Now:              func() time.Time { return *clock },
	})
	return &revokeFixture{
		revokes: &RevocationService{Ledger: led},
		ledger:  led,
		clock:   clock,
	}
}

func (f *revokeFixture) payload(t *testing.T, in domain.BuildInput) domain.Payload {
	t.Helper()
	if in.Methods == nil {
		in.Methods = []string{"password"}
	}
	in.Lifetime = time.Hour
	p, err := domain.BuildPayload(in, *f.clock)
	require.NoError(t, err)
	return p
}

func TestGrantRemoved(t *testing.T) {
	t.Parallel()
	f := newRevokeFixture(t)
	ctx := context.Background()

	withRole := f.payload(t, domain.BuildInput{
		SubjectID: "alice",
		Scope:     domain.Scope{ProjectID: "p1"},
		Roles:     []string{"admin", "member"},
	})
	withoutRole := f.payload(t, domain.BuildInput{
		SubjectID: "alice",
		Scope:     domain.Scope{ProjectID: "p1"},
		Roles:     []string{"member"},
	})
	otherProject := f.payload(t, domain.BuildInput{
		SubjectID: "alice",
		Scope:     domain.Scope{ProjectID: "p2"},
		Roles:     []string{"admin"},
	})

	*f.clock = f.clock.Add(time.Minute)
	require.NoError(t, f.revokes.GrantRemoved(ctx, "alice", "p1", "admin"))

	require.True(t, f.ledger.IsRevoked(withRole))
	require.False(t, f.ledger.IsRevoked(withoutRole), "tokens without the removed role keep working")
	require.False(t, f.ledger.IsRevoked(otherProject), "the grant is scoped to one project")
}

func TestDomainDisabled(t *testing.T) {
	t.Parallel()
	f := newRevokeFixture(t)
	ctx := context.Background()

	homedIn := f.payload(t, domain.BuildInput{SubjectID: "alice", DomainID: "d1"})
	scopedTo := f.payload(t, domain.BuildInput{
		SubjectID: "bob",
		DomainID:  "d2",
		Scope:     domain.Scope{DomainID: "d1"},
		Roles:     []string{"member"},
	})
	unrelated := f.payload(t, domain.BuildInput{SubjectID: "carol", DomainID: "d2"})

	*f.clock = f.clock.Add(time.Minute)
	require.NoError(t, f.revokes.DomainDisabled(ctx, "d1"))

	require.True(t, f.ledger.IsRevoked(homedIn), "subjects homed in the domain are out")
	require.True(t, f.ledger.IsRevoked(scopedTo), "tokens scoped to the domain are out")
	require.False(t, f.ledger.IsRevoked(unrelated))
}

func TestTrustDeleted(t *testing.T) {
	t.Parallel()
	f := newRevokeFixture(t)
	ctx := context.Background()

	delegated := f.payload(t, domain.BuildInput{SubjectID: "alice", TrustID: "trust-1"})
	direct := f.payload(t, domain.BuildInput{SubjectID: "alice"})

	*f.clock = f.clock.Add(time.Minute)
	require.NoError(t, f.revokes.TrustDeleted(ctx, "trust-1"))

	require.True(t, f.ledger.IsRevoked(delegated))
	require.False(t, f.ledger.IsRevoked(direct), "the subject's own tokens survive")
}

func TestRevokeAllSweepsEverything(t *testing.T) {
	t.Parallel()
	f := newRevokeFixture(t)
	ctx := context.Background()

	a := f.payload(t, domain.BuildInput{SubjectID: "alice", DomainID: "d1"})
	b := f.payload(t, domain.BuildInput{SubjectID: "bob", TrustID: "trust-9"})

	*f.clock = f.clock.Add(time.Minute)
	require.NoError(t, f.revokes.RevokeAll(ctx))

	require.True(t, f.ledger.IsRevoked(a))
	require.True(t, f.ledger.IsRevoked(b))

	*f.clock = f.clock.Add(time.Minute)
	after := f.payload(t, domain.BuildInput{SubjectID: "alice", DomainID: "d1"})
	require.False(t, f.ledger.IsRevoked(after), "the sweep has a fixed issued-before horizon")
}

func TestRevokeHonorsExplicitIssuedBefore(t *testing.T) {
	t.Parallel()
	f := newRevokeFixture(t)
	ctx := context.Background()

	old := f.payload(t, domain.BuildInput{SubjectID: "alice"})

	*f.clock = f.clock.Add(10 * time.Minute)
	recent := f.payload(t, domain.BuildInput{SubjectID: "alice"})

	// Only tokens issued in the first five minutes are suspect.
	cutoff := old.IssuedAt.Add(5 * time.Minute)
	require.NoError(t, f.revokes.Revoke(ctx, Criteria{SubjectID: "alice", IssuedBefore: cutoff}))

	require.True(t, f.ledger.IsRevoked(old))
	require.False(t, f.ledger.IsRevoked(recent))
}
