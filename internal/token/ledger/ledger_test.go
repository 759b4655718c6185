package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/castellanhq/castellan/internal/token/domain"
	"github.com/castellanhq/castellan/internal/token/store"
	"github.com/castellanhq/castellan/internal/token/store/drivers/memory"
)

func issuedPayload(t *testing.T, now time.Time, subject, project string) domain.Payload {
	t.Helper()
	in := domain.BuildInput{
		SubjectID: subject,
		DomainID:  "default",
		Methods:   []string{"password"},
		Lifetime:  time.Hour,
	}
	if project != "" {
		in.Scope = domain.Scope{ProjectID: project}
		in.Roles = []string{"member"}
	}
	p, err := domain.BuildPayload(in, now)
	require.NoError(t, err)
	return p
}

func TestRecordAndIsRevoked(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := now
	st := memory.NewStore(time.Hour)

	l := New(Options{
		Events:           st.RevocationEvents(),
		MaxTokenLifetime: time.Hour,
		Now:              func() time.Time { return clock },
	})

	alice := issuedPayload(t, now, "alice", "p1")
	bob := issuedPayload(t, now, "bob", "p1")

	require.False(t, l.IsRevoked(alice))

	t.Run("recorded event is visible immediately", func(t *testing.T) {
		clock = now.Add(time.Minute)
		err := l.Record(context.Background(), domain.RevocationEvent{SubjectID: "alice"})
		require.NoError(t, err)

		require.True(t, l.IsRevoked(alice))
		require.False(t, l.IsRevoked(bob))
	})

	t.Run("tokens issued after the event validate", func(t *testing.T) {
		fresh := issuedPayload(t, clock.Add(time.Minute), "alice", "p1")
		require.False(t, l.IsRevoked(fresh))
	})

	t.Run("event lands in the backing store", func(t *testing.T) {
		events, err := st.RevocationEvents().ListRevocationEvents(context.Background())
		require.NoError(t, err)
		require.Len(t, events, 1)
		require.Equal(t, "alice", events[0].SubjectID)
		require.NotEmpty(t, events[0].ID)
		require.Equal(t, clock, events[0].RevokedAt)
		require.Equal(t, clock, events[0].IssuedBefore, "issued_before defaults to the recording time")
	})
}

func TestRevokeAll(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := now.Add(time.Minute)
	st := memory.NewStore(time.Hour)

	l := New(Options{
		Events:           st.RevocationEvents(),
		MaxTokenLifetime: time.Hour,
		Now:              func() time.Time { return clock },
	})

	require.NoError(t, l.Record(context.Background(), domain.RevocationEvent{}))

	require.True(t, l.IsRevoked(issuedPayload(t, now, "alice", "p1")))
	require.True(t, l.IsRevoked(issuedPayload(t, now, "bob", "")))
	require.False(t, l.IsRevoked(issuedPayload(t, clock.Add(time.Second), "alice", "p1")))
}

func TestRefreshPicksUpForeignEvents(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	st := memory.NewStore(time.Hour)
	ctx := context.Background()

	// Two ledgers over the same store model two service instances.
	a := New(Options{Events: st.RevocationEvents(), MaxTokenLifetime: time.Hour, Now: func() time.Time { return now.Add(time.Minute) }})
	b := New(Options{Events: st.RevocationEvents(), MaxTokenLifetime: time.Hour, Now: func() time.Time { return now.Add(time.Minute) }})

	p := issuedPayload(t, now, "alice", "p1")

	require.NoError(t, a.Record(ctx, domain.RevocationEvent{SubjectID: "alice"}))
	require.True(t, a.IsRevoked(p), "recording instance sees its own event")
	require.False(t, b.IsRevoked(p), "other instance is stale until it refreshes")

	require.NoError(t, b.Refresh(ctx))
	require.True(t, b.IsRevoked(p))
}

func TestPrune(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := now
	st := memory.NewStore(time.Hour)
	ctx := context.Background()

	l := New(Options{
		Events:           st.RevocationEvents(),
		MaxTokenLifetime: time.Hour,
		Now:              func() time.Time { return clock },
	})

	require.NoError(t, l.Record(ctx, domain.RevocationEvent{SubjectID: "alice"}))

	t.Run("events inside the lifetime window survive", func(t *testing.T) {
		clock = now.Add(30 * time.Minute)
		require.NoError(t, l.Prune(ctx))

		events, err := st.RevocationEvents().ListRevocationEvents(ctx)
		require.NoError(t, err)
		require.Len(t, events, 1)
	})

	t.Run("events no unexpired token can match are dropped", func(t *testing.T) {
		clock = now.Add(2 * time.Hour)
		require.NoError(t, l.Prune(ctx))

		events, err := st.RevocationEvents().ListRevocationEvents(ctx)
		require.NoError(t, err)
		require.Empty(t, events)
	})
}

// stalledEvents reads the store and then blocks before returning, modelling
// a listing whose result predates a Record that finished while the listing
// was in flight. Only gated while the test is waiting on started.
type stalledEvents struct {
	store.RevocationEvents
	started  chan struct{}
	released chan struct{}
}

func (s *stalledEvents) ListRevocationEvents(ctx context.Context) ([]domain.RevocationEvent, error) {
	events, err := s.RevocationEvents.ListRevocationEvents(ctx)
	select {
	case s.started <- struct{}{}:
		<-s.released
	default:
	}
	return events, err
}

func TestRefreshKeepsEventsRecordedMidListing(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	st := memory.NewStore(time.Hour)
	gate := &stalledEvents{
		RevocationEvents: st.RevocationEvents(),
		started:          make(chan struct{}),
		released:         make(chan struct{}),
	}
	ctx := context.Background()

	l := New(Options{
		Events:           gate,
		MaxTokenLifetime: time.Hour,
		Now:              func() time.Time { return now.Add(time.Minute) },
	})

	p := issuedPayload(t, now, "alice", "p1")

	refreshed := make(chan error, 1)
	go func() { refreshed <- l.Refresh(ctx) }()
	<-gate.started

	// The listing already read the store, so this event is not in it.
	require.NoError(t, l.Record(ctx, domain.RevocationEvent{SubjectID: "alice"}))
	require.True(t, l.IsRevoked(p))

	close(gate.released)
	require.NoError(t, <-refreshed)
	require.True(t, l.IsRevoked(p), "a recorded revocation must stay visible across a concurrent refresh")

	// The next listing returns the event from the store itself.
	require.NoError(t, l.Refresh(ctx))
	require.True(t, l.IsRevoked(p))
}

func TestBackgroundRefresher(t *testing.T) {
	t.Parallel()

	st := memory.NewStore(time.Hour)
	ctx := context.Background()

	recorder := New(Options{Events: st.RevocationEvents(), MaxTokenLifetime: time.Hour})
	watcher := New(Options{
		Events:           st.RevocationEvents(),
		MaxTokenLifetime: time.Hour,
		RefreshInterval:  10 * time.Millisecond,
	})

	watcher.Start()
	defer watcher.Stop()

	p := issuedPayload(t, time.Now().Add(-time.Minute), "alice", "p1")
	require.NoError(t, recorder.Record(ctx, domain.RevocationEvent{SubjectID: "alice"}))

	require.Eventually(t, func() bool {
		return watcher.IsRevoked(p)
	}, time.Second, 5*time.Millisecond, "refresher bounds cross-instance staleness")
}
