// Package keyring holds the process-wide key material the format providers
// sign and encrypt with. The active key set is an immutable snapshot behind
// an atomic pointer: validators read it without locks and rotation swaps the
// whole snapshot at once, so no reader ever observes a half-updated set.
package keyring

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/crypto/hkdf"

	"github.com/castellanhq/castellan/internal/token/domain"
	"github.com/castellanhq/castellan/internal/token/store"
	"github.com/castellanhq/castellan/pkg/cryptox"
	"github.com/castellanhq/castellan/pkg/idx"
)

const rootSize = 32

// Derivation labels. One 32-byte root per key fans out into independent
// signing and encryption subkeys, so a single rotation covers both uses.
const (
	infoSign    = "castellan/v1/sign"
	infoEncrypt = "castellan/v1/encrypt"
)

// Key is one usable keychain entry. The signing key and AEAD secret are
// derived from the stored root once at load time.
type Key struct {
	ID        string
	CreatedAt time.Time
	RetiredAt *time.Time
	ExpiresAt time.Time

	signing ed25519.PrivateKey
	secret  []byte
}

// Signer returns the Ed25519 private key for the signed token formats.
func (k *Key) Signer() ed25519.PrivateKey { return k.signing }

// Public returns the verification half of the signing key.
func (k *Key) Public() ed25519.PublicKey {
	return k.signing.Public().(ed25519.PublicKey)
}

// Secret returns the 32-byte AEAD secret for the encrypted token format.
func (k *Key) Secret() []byte { return k.secret }

// Active reports whether the key may mint new tokens.
func (k *Key) Active(now time.Time) bool {
	return k.RetiredAt == nil && now.Before(k.ExpiresAt)
}

type snapshot struct {
	primary *Key
	byID    map[string]*Key
}

// Options configures a Chain.
type Options struct {
	// Store enables the persistent mode; nil keeps keys in memory only,
	// invalidating all outstanding self-describing tokens on restart.
	Store store.Keys

	// MaxKeyAge bounds how long a key may stay primary before Rotate
	// retires it. Defaults to 90 days.
	MaxKeyAge time.Duration

	// GracePeriod is how long a retired key keeps verifying and
	// decrypting tokens minted under it. Defaults to 24 hours; it should
	// be at least the maximum token lifetime or rotation strands
	// unexpired tokens.
	GracePeriod time.Duration

	// Now is the clock, overridable in tests.
	Now func() time.Time
}

// Chain is the rotating key set shared by every provider in the process.
type Chain struct {
	snap atomic.Pointer[snapshot]

	keys  store.Keys // nil in ephemeral mode
	age   time.Duration
	grace time.Duration
	now   func() time.Time

	mu sync.Mutex // serializes rotation; readers never take it
}

// New builds a Chain. In persistent mode it loads every usable key from the
// store and generates an initial key when none is active; in ephemeral mode
// it generates one key in memory.
func New(ctx context.Context, opts Options) (*Chain, error) {
	c := &Chain{
		keys:  opts.Store,
		age:   opts.MaxKeyAge,
		grace: opts.GracePeriod,
		now:   opts.Now,
	}
	if c.age <= 0 {
		c.age = 90 * 24 * time.Hour
	}
	if c.grace <= 0 {
		c.grace = 24 * time.Hour
	}
	if c.now == nil {
		c.now = time.Now
	}

	if c.keys == nil {
		key, err := generateKey(c.now(), c.age)
		if err != nil {
			return nil, err
		}
		c.install(key, nil)
		return c, nil
	}

	if err := c.Reload(ctx); err != nil {
		return nil, err
	}
	if c.snap.Load().primary == nil {
		if _, err := c.Rotate(ctx); err != nil {
			return nil, fmt.Errorf("keyring: initial key generation: %w", err)
		}
	}
	return c, nil
}

// Primary returns the key new tokens are minted under.
func (c *Chain) Primary() *Key {
	return c.snap.Load().primary
}

// Lookup resolves a key id embedded in a token. Retired keys resolve until
// their grace window closes; expired and unknown ids do not.
func (c *Chain) Lookup(kid string) (*Key, bool) {
	k, ok := c.snap.Load().byID[kid]
	if !ok || !c.now().Before(k.ExpiresAt) {
		return nil, false
	}
	return k, true
}

// KeyIDs returns the ids of every currently resolvable key, newest first.
// Used for JWKS-style publication of the verification keys.
func (c *Chain) KeyIDs() []string {
	snap := c.snap.Load()
	now := c.now()
	ids := make([]string, 0, len(snap.byID))
	if snap.primary != nil {
		ids = append(ids, snap.primary.ID)
	}
	for id, k := range snap.byID {
		if snap.primary != nil && id == snap.primary.ID {
			continue
		}
		if now.Before(k.ExpiresAt) {
			ids = append(ids, id)
		}
	}
	return ids
}

// Rotate generates a fresh primary key and retires the previous one, leaving
// it resolvable until its grace window closes. The new snapshot becomes
// visible to validators in a single pointer swap.
func (c *Chain) Rotate(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	key, err := generateKey(now, c.age)
	if err != nil {
		return "", err
	}

	var retired *Key
	if old := c.snap.Load().primary; old != nil {
		r := *old
		t := now
		r.RetiredAt = &t
		r.ExpiresAt = now.Add(c.grace)
		retired = &r
	}

	if c.keys != nil {
		rec, err := encryptRecord(key)
		if err != nil {
			return "", err
		}
		if err := c.keys.CreateKey(ctx, rec); err != nil {
			return "", fmt.Errorf("keyring: persist key: %w", err)
		}
		if retired != nil {
			if err := c.keys.RetireKey(ctx, retired.ID, *retired.RetiredAt, retired.ExpiresAt); err != nil {
				return "", fmt.Errorf("keyring: retire key %s: %w", retired.ID, err)
			}
		}
	}

	c.install(key, retired)
	return key.ID, nil
}

// Reload rebuilds the snapshot from the persistent store. No-op for
// ephemeral chains.
func (c *Chain) Reload(ctx context.Context) error {
	if c.keys == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	recs, err := c.keys.ListKeys(ctx)
	if err != nil {
		return fmt.Errorf("keyring: list keys: %w", err)
	}

	now := c.now()
	snap := &snapshot{byID: make(map[string]*Key, len(recs))}
	for i := range recs {
		rec := recs[i]
		if !rec.IsUsable(now) {
			continue
		}
		key, err := decryptRecord(rec)
		if err != nil {
			return fmt.Errorf("keyring: decrypt key %s: %w", rec.ID, err)
		}
		snap.byID[key.ID] = key
		// ListKeys is newest-first, so the first active key wins.
		if snap.primary == nil && key.Active(now) {
			snap.primary = key
		}
	}
	c.snap.Store(snap)
	return nil
}

// install swaps in a snapshot built from the previous one plus the new
// primary and the optionally retired predecessor. Caller holds mu, or is the
// constructor before the chain is shared.
func (c *Chain) install(primary, retired *Key) {
	old := c.snap.Load()
	byID := make(map[string]*Key)
	if old != nil {
		now := c.now()
		for id, k := range old.byID {
			if now.Before(k.ExpiresAt) {
				byID[id] = k
			}
		}
	}
	if retired != nil {
		byID[retired.ID] = retired
	}
	byID[primary.ID] = primary
	c.snap.Store(&snapshot{primary: primary, byID: byID})
}

func generateKey(now time.Time, maxAge time.Duration) (*Key, error) {
	root := make([]byte, rootSize)
	if _, err := rand.Read(root); err != nil {
		return nil, fmt.Errorf("keyring: generate root: %w", err)
	}
	return deriveKey(idx.New().String(), root, now, nil, now.Add(maxAge))
}

func deriveKey(id string, root []byte, created time.Time, retired *time.Time, expires time.Time) (*Key, error) {
	if len(root) != rootSize {
		return nil, fmt.Errorf("keyring: root must be %d bytes, got %d", rootSize, len(root))
	}

	seed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, root, nil, []byte(infoSign)), seed); err != nil {
		return nil, fmt.Errorf("keyring: derive signing seed: %w", err)
	}
	secret := make([]byte, rootSize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, root, nil, []byte(infoEncrypt)), secret); err != nil {
		return nil, fmt.Errorf("keyring: derive aead secret: %w", err)
	}

	return &Key{
		ID:        id,
		CreatedAt: created,
		RetiredAt: retired,
		ExpiresAt: expires,
		signing:   ed25519.NewKeyFromSeed(seed),
		secret:    secret,
	}, nil
}

// encryptRecord wraps a key's derived material for storage. The stored blob
// is the signing seed followed by the AEAD secret, encrypted at rest under
// the master key.
func encryptRecord(k *Key) (domain.Key, error) {
	material := append(append([]byte{}, k.signing.Seed()...), k.secret...)
	enc, err := cryptox.EncryptKeyMaterial(material)
	if err != nil {
		return domain.Key{}, fmt.Errorf("keyring: encrypt material: %w", err)
	}
	return domain.Key{
		ID:                k.ID,
		MaterialEncrypted: enc,
		CreatedAt:         k.CreatedAt,
		RetiredAt:         k.RetiredAt,
		ExpiresAt:         k.ExpiresAt,
	}, nil
}

func decryptRecord(rec domain.Key) (*Key, error) {
	material, err := cryptox.DecryptKeyMaterial(rec.MaterialEncrypted)
	if err != nil {
		return nil, err
	}
	if len(material) != ed25519.SeedSize+rootSize {
		return nil, fmt.Errorf("keyring: malformed key material for %s", rec.ID)
	}
	return &Key{
		ID:        rec.ID,
		CreatedAt: rec.CreatedAt,
		RetiredAt: rec.RetiredAt,
		ExpiresAt: rec.ExpiresAt,
		signing:   ed25519.NewKeyFromSeed(material[:ed25519.SeedSize]),
		secret:    material[ed25519.SeedSize:],
	}, nil
}
