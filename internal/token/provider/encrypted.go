package provider

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/castellanhq/castellan/internal/token/domain"
	"github.com/castellanhq/castellan/internal/token/keyring"
	"github.com/castellanhq/castellan/internal/token/wire"
	"github.com/castellanhq/castellan/pkg/cryptox"
)

// PrefixEncrypted tags the symmetric-encrypted format: the wire payload
// sealed with AES-256-GCM under the keychain's rotating secret. The key id
// prefix in the body picks the decryption key, which is how retired keys
// keep working through their grace window.
const PrefixEncrypted = "enc"

// Encrypted token body layout: <kid>.<base64url(nonce||ciphertext||tag)>.
// The kid is bound into the AEAD's additional data, so moving a ciphertext
// under another key id fails authentication rather than decrypting.
type Encrypted struct {
	Chain *keyring.Chain
}

func NewEncrypted(chain *keyring.Chain) *Encrypted {
	return &Encrypted{Chain: chain}
}

func (e *Encrypted) Prefix() string { return PrefixEncrypted }

func (e *Encrypted) Encode(ctx context.Context, p domain.Payload) (string, error) {
	key := e.Chain.Primary()
	if key == nil {
		return "", fmt.Errorf("enc: %w: no active encryption key", domain.ErrKeyNotFound)
	}

	plain, err := wire.Encode(p)
	if err != nil {
		return "", fmt.Errorf("enc: encode payload: %w", err)
	}

	sealed, err := cryptox.Seal(key.Secret(), plain, []byte(key.ID))
	if err != nil {
		return "", fmt.Errorf("enc: seal: %w", err)
	}

	return PrefixEncrypted + sep + key.ID + "." + base64.RawURLEncoding.EncodeToString(sealed), nil
}

func (e *Encrypted) Decode(ctx context.Context, token string) (domain.Payload, error) {
	raw, err := body(token, PrefixEncrypted)
	if err != nil {
		return domain.Payload{}, err
	}

	kid, b64, ok := strings.Cut(raw, ".")
	if !ok || kid == "" {
		return domain.Payload{}, fmt.Errorf("%w: missing key id", domain.ErrMalformedToken)
	}
	sealed, err := base64.RawURLEncoding.DecodeString(b64)
	if err != nil {
		return domain.Payload{}, fmt.Errorf("%w: body segment: %v", domain.ErrMalformedToken, err)
	}

	key, ok := e.Chain.Lookup(kid)
	if !ok {
		return domain.Payload{}, fmt.Errorf("%w: kid %q", domain.ErrKeyNotFound, kid)
	}

	plain, err := cryptox.Open(key.Secret(), sealed, []byte(kid))
	if err != nil {
		return domain.Payload{}, fmt.Errorf("%w: %v", domain.ErrDecryption, err)
	}

	return wire.Decode(plain)
}
