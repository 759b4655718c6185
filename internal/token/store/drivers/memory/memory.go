// Package memory is an in-process store driver. Opaque token payloads live
// in a TTL-bounded LRU so the driver honors the store contract's autonomous
// expiry without a janitor goroutine of its own. Suitable for tests and
// single-instance deployments; revocation events recorded here are not
// visible to other instances.
package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/castellanhq/castellan/internal/token/domain"
	"github.com/castellanhq/castellan/internal/token/store"
)

const defaultCapacity = 65536

type entry struct {
	payload   domain.Payload
	expiresAt time.Time
}

type Store struct {
	tokens *tokensRepo
	events *eventsRepo
	keys   *keysRepo
}

// NewStore builds a memory store. maxTokenLifetime upper-bounds how long a
// token entry may live; per-entry expiry is still enforced on Get.
func NewStore(maxTokenLifetime time.Duration) *Store {
	if maxTokenLifetime <= 0 {
		maxTokenLifetime = 24 * time.Hour
	}
	return &Store{
		tokens: &tokensRepo{
			cache: lru.NewLRU[string, entry](defaultCapacity, nil, maxTokenLifetime),
		},
		events: &eventsRepo{},
		keys:   &keysRepo{byID: make(map[string]domain.Key)},
	}
}

func (s *Store) Tokens() store.Tokens                     { return s.tokens }
func (s *Store) RevocationEvents() store.RevocationEvents { return s.events }
func (s *Store) Keys() store.Keys                         { return s.keys }

func (s *Store) ApplyMigrations() error { return nil }

func (s *Store) Close() error { return nil }

func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

type tokensRepo struct {
	cache *lru.LRU[string, entry]
}

func (r *tokensRepo) PutToken(ctx context.Context, id string, p domain.Payload, expiresAt time.Time) error {
	r.cache.Add(id, entry{payload: p, expiresAt: expiresAt})
	return nil
}

func (r *tokensRepo) GetToken(ctx context.Context, id string) (domain.Payload, error) {
	e, ok := r.cache.Get(id)
	if !ok || !time.Now().Before(e.expiresAt) {
		return domain.Payload{}, store.ErrNotFound
	}
	return e.payload, nil
}

func (r *tokensRepo) DeleteToken(ctx context.Context, id string) error {
	r.cache.Remove(id)
	return nil
}

func (r *tokensRepo) DeleteExpiredTokens(ctx context.Context) error {
	now := time.Now()
	for _, id := range r.cache.Keys() {
		if e, ok := r.cache.Peek(id); ok && !now.Before(e.expiresAt) {
			r.cache.Remove(id)
		}
	}
	return nil
}

type eventsRepo struct {
	mu     sync.Mutex
	events []domain.RevocationEvent
}

func (r *eventsRepo) AppendRevocationEvent(ctx context.Context, ev domain.RevocationEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *eventsRepo) ListRevocationEvents(ctx context.Context) ([]domain.RevocationEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := slices.Clone(r.events)
	slices.SortStableFunc(out, func(a, b domain.RevocationEvent) int {
		return a.RevokedAt.Compare(b.RevokedAt)
	})
	return out, nil
}

func (r *eventsRepo) PruneRevocationEvents(ctx context.Context, cutoff time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = slices.DeleteFunc(r.events, func(ev domain.RevocationEvent) bool {
		return ev.IssuedBefore.Before(cutoff)
	})
	return nil
}

type keysRepo struct {
	mu   sync.Mutex
	byID map[string]domain.Key
}

func (r *keysRepo) CreateKey(ctx context.Context, k domain.Key) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.byID[k.ID]; dup {
		return store.ErrAlreadyExists
	}
	r.byID[k.ID] = k
	return nil
}

func (r *keysRepo) ListKeys(ctx context.Context) ([]domain.Key, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Key, 0, len(r.byID))
	for _, k := range r.byID {
		out = append(out, k)
	}
	// Newest first, per the Keys contract.
	slices.SortFunc(out, func(a, b domain.Key) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out, nil
}

func (r *keysRepo) RetireKey(ctx context.Context, id string, retiredAt, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k, ok := r.byID[id]
	if !ok {
		return store.ErrNotFound
	}
	k.RetiredAt = &retiredAt
	k.ExpiresAt = expiresAt
	r.byID[id] = k
	return nil
}

func (r *keysRepo) DeleteExpiredKeys(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for id, k := range r.byID {
		if now.After(k.ExpiresAt) {
			delete(r.byID, id)
		}
	}
	return nil
}
