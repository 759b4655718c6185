// Package ledger keeps the revocation events that invalidate already-issued,
// unexpired tokens. Events live in the backing store for cross-instance
// visibility; every validation consults an immutable in-process snapshot
// behind an atomic pointer, so the hot path never takes a lock and never
// touches the store.
//
// Cross-instance visibility is bounded by the refresh interval: a token
// revoked elsewhere may keep validating here for up to that window. The
// interval is configuration, not a guarantee of the backing store.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/castellanhq/castellan/internal/token/domain"
	"github.com/castellanhq/castellan/internal/token/store"
	"github.com/castellanhq/castellan/pkg/idx"
)

// Options configures a Ledger.
type Options struct {
	Events store.RevocationEvents

	// MaxTokenLifetime bounds pruning: an event older than this cannot
	// match any unexpired token and is safe to drop.
	MaxTokenLifetime time.Duration

	// RefreshInterval is the bounded-staleness window for events recorded
	// by other instances. Defaults to 5 seconds.
	RefreshInterval time.Duration

	Logger *slog.Logger
	Now    func() time.Time
}

// Ledger is the append-mostly revocation event list.
type Ledger struct {
	events  store.RevocationEvents
	maxLife time.Duration
	refresh time.Duration
	logger  *slog.Logger
	now     func() time.Time

	snap atomic.Pointer[[]domain.RevocationEvent]

	// mu serializes snapshot rebuilds and guards pending. Never held by
	// readers.
	mu sync.Mutex

	// pending holds locally recorded events that no store listing has
	// returned yet. Refresh folds them into the new snapshot, so a swap
	// can never drop an event this instance already published.
	pending []domain.RevocationEvent

	stopCh chan struct{}
	doneCh chan struct{}
}

func New(opts Options) *Ledger {
	l := &Ledger{
		events:  opts.Events,
		maxLife: opts.MaxTokenLifetime,
		refresh: opts.RefreshInterval,
		logger:  opts.Logger,
		now:     opts.Now,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	if l.refresh <= 0 {
		l.refresh = 5 * time.Second
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	if l.now == nil {
		l.now = time.Now
	}
	empty := []domain.RevocationEvent{}
	l.snap.Store(&empty)
	return l
}

// Record appends an event with revoked_at = now, prunes events no unexpired
// token can satisfy anymore, and makes the event visible to this instance's
// validators immediately.
func (l *Ledger) Record(ctx context.Context, ev domain.RevocationEvent) error {
	now := l.now()
	ev.ID = idx.New().String()
	ev.RevokedAt = now
	if ev.IssuedBefore.IsZero() {
		ev.IssuedBefore = now
	}
	ev.IssuedBefore = ev.IssuedBefore.UTC()
	ev.RevokedAt = ev.RevokedAt.UTC()

	if err := l.events.AppendRevocationEvent(ctx, ev); err != nil {
		return fmt.Errorf("ledger: append: %w: %w", domain.ErrBackendUnavailable, err)
	}

	// Prune failures are not fatal; the next Record or housekeeping run
	// retries. Stale events are redundant, never wrong.
	if err := l.Prune(ctx); err != nil {
		l.logger.Warn("ledger prune failed", "error", err)
	}

	l.append(ev)
	return nil
}

// IsRevoked reports whether any event in the current snapshot matches the
// payload. Wait-free; safe under unbounded reader parallelism.
func (l *Ledger) IsRevoked(p domain.Payload) bool {
	for _, ev := range *l.snap.Load() {
		if ev.Matches(p) {
			return true
		}
	}
	return false
}

// Refresh rebuilds the snapshot from the backing store, picking up events
// recorded by other instances.
func (l *Ledger) Refresh(ctx context.Context) error {
	events, err := l.events.ListRevocationEvents(ctx)
	if err != nil {
		return fmt.Errorf("ledger: refresh: %w: %w", domain.ErrBackendUnavailable, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// A Record that ran after the listing started is in the store but not
	// in the listed slice. Carry such events forward until a listing
	// returns them; once an event is revoked it stays revoked here.
	if len(l.pending) > 0 {
		listed := make(map[string]struct{}, len(events))
		for _, ev := range events {
			listed[ev.ID] = struct{}{}
		}
		cutoff := l.now().Add(-l.maxLife)
		kept := l.pending[:0]
		for _, ev := range l.pending {
			if _, ok := listed[ev.ID]; ok {
				continue
			}
			if !ev.IssuedBefore.After(cutoff) {
				continue
			}
			events = append(events, ev)
			kept = append(kept, ev)
		}
		l.pending = kept
	}

	l.snap.Store(&events)
	return nil
}

// Prune drops every event whose issued_before is older than the maximum
// token lifetime: any token it could match has already expired, so pruning
// never removes a reachable revocation.
func (l *Ledger) Prune(ctx context.Context) error {
	cutoff := l.now().Add(-l.maxLife)
	if err := l.events.PruneRevocationEvents(ctx, cutoff); err != nil {
		return fmt.Errorf("ledger: prune: %w", err)
	}
	return nil
}

// Start launches the background refresher that bounds cross-instance
// staleness. Call Stop to shut it down.
func (l *Ledger) Start() {
	go l.run()
	l.logger.Info("revocation ledger refresher started", "interval", l.refresh)
}

// Stop terminates the background refresher and waits for it to exit.
func (l *Ledger) Stop() {
	close(l.stopCh)
	<-l.doneCh
	l.logger.Info("revocation ledger refresher stopped")
}

func (l *Ledger) run() {
	defer close(l.doneCh)

	ticker := time.NewTicker(l.refresh)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.refresh)
			if err := l.Refresh(ctx); err != nil {
				l.logger.Warn("ledger refresh failed", "error", err)
			}
			cancel()
		case <-l.stopCh:
			return
		}
	}
}

// append publishes a locally recorded event without waiting for the next
// refresh, so an instance always observes its own revocations.
func (l *Ledger) append(ev domain.RevocationEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.pending = append(l.pending, ev)

	cur := *l.snap.Load()
	next := make([]domain.RevocationEvent, 0, len(cur)+1)
	next = append(next, cur...)
	next = append(next, ev)
	l.snap.Store(&next)
}
