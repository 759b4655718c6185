package domain

import "time"

// Key is a stored keychain record with support for rotation. Material is
// encrypted at rest and a key can be retired while remaining valid for
// verification and decryption during a grace period.
type Key struct {
	ID                string // ULID, doubles as the kid embedded in tokens
	MaterialEncrypted []byte // AES-256-GCM encrypted signing seed and AEAD secret

	CreatedAt time.Time
	RetiredAt *time.Time // nil = active for signing/encryption
	ExpiresAt time.Time  // hard deletion after this
}

// IsActive returns true if the key is not retired and not expired.
func (k *Key) IsActive(now time.Time) bool {
	return k.RetiredAt == nil && now.Before(k.ExpiresAt)
}

// IsUsable returns true if the key may still verify or decrypt tokens,
// i.e. it has not passed its expiry (retired keys stay usable until then).
func (k *Key) IsUsable(now time.Time) bool {
	return now.Before(k.ExpiresAt)
}
