package store

import (
	"context"
	"errors"
	"time"

	"github.com/castellanhq/castellan/internal/token/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

// Store is the root data access interface. Concrete drivers (sqlite, memory)
// implement this. Every write the engine performs is a single idempotent
// statement, so the contract deliberately has no transaction surface.
type Store interface {
	Tokens() Tokens
	RevocationEvents() RevocationEvents
	Keys() Keys

	ApplyMigrations() error

	// Close releases any underlying resources.
	Close() error

	// Ping verifies the backing store is still reachable.
	Ping(ctx context.Context) error
}

// Tokens persists opaque-format token payloads. The backend must expire
// entries autonomously at expiresAt even absent an explicit delete; a Get of
// an expired entry behaves as a miss.
type Tokens interface {
	// PutToken stores a payload under an opaque identifier.
	PutToken(ctx context.Context, id string, p domain.Payload, expiresAt time.Time) error

	// GetToken returns the payload for id, or ErrNotFound for a missing,
	// deleted, or expired entry.
	GetToken(ctx context.Context, id string) (domain.Payload, error)

	// DeleteToken removes an entry; deleting an absent id is not an error.
	DeleteToken(ctx context.Context, id string) error

	// DeleteExpiredTokens is housekeeping against entries past expiry.
	DeleteExpiredTokens(ctx context.Context) error
}

// RevocationEvents persists the revocation ledger in append order. No index
// beyond time-ordering is required; pruning is by issued_before.
type RevocationEvents interface {
	// AppendRevocationEvent records one event. Duplicate appends are
	// harmless, only redundant.
	AppendRevocationEvent(ctx context.Context, ev domain.RevocationEvent) error

	// ListRevocationEvents returns all surviving events ordered by
	// revoked_at ascending.
	ListRevocationEvents(ctx context.Context) ([]domain.RevocationEvent, error)

	// PruneRevocationEvents deletes events whose issued_before is strictly
	// before the cutoff.
	PruneRevocationEvents(ctx context.Context, cutoff time.Time) error
}

// Keys persists keychain records for the persistent key storage mode.
type Keys interface {
	// CreateKey stores a new key with encrypted material.
	CreateKey(ctx context.Context, k domain.Key) error

	// ListKeys returns every stored key ordered by creation date
	// (newest first), including retired ones still inside their grace
	// window.
	ListKeys(ctx context.Context) ([]domain.Key, error)

	// RetireKey marks a key as retired and shortens its expiry to the end
	// of the retirement grace window. The key stays usable for
	// verification and decryption until then.
	RetireKey(ctx context.Context, id string, retiredAt, expiresAt time.Time) error

	// DeleteExpiredKeys removes keys past their expires_at.
	DeleteExpiredKeys(ctx context.Context) error
}
