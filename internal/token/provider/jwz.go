package provider

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/flate"

	"github.com/castellanhq/castellan/internal/token/domain"
	"github.com/castellanhq/castellan/internal/token/keyring"
	"github.com/castellanhq/castellan/internal/token/wire"
)

// PrefixJWZ tags the signed+compressed format. It trades the JWS format's
// JSON claims for the compact wire encoding plus DEFLATE, at the cost of a
// compression pass on both ends. Worthwhile once catalogs make tokens large.
const PrefixJWZ = "jwz"

// jwzContext domain-separates the detached signature from any other use of
// the same Ed25519 key.
const jwzContext = "castellan/jwz/v1:"

// decompressLimit caps how many bytes a token body may inflate to.
const decompressLimit = 1 << 20

// JWZ token body layout: <kid>.<base64url(deflate(wire))>.<base64url(sig)>.
// The signature covers the compressed bytes, so verification completes
// before any decompression or decoding of attacker-controlled data.
type JWZ struct {
	Chain *keyring.Chain
}

func NewJWZ(chain *keyring.Chain) *JWZ {
	return &JWZ{Chain: chain}
}

func (z *JWZ) Prefix() string { return PrefixJWZ }

func (z *JWZ) Encode(ctx context.Context, p domain.Payload) (string, error) {
	key := z.Chain.Primary()
	if key == nil {
		return "", fmt.Errorf("jwz: %w: no active signing key", domain.ErrKeyNotFound)
	}

	plain, err := wire.Encode(p)
	if err != nil {
		return "", fmt.Errorf("jwz: encode payload: %w", err)
	}

	var buf bytes.Buffer
	fw, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return "", fmt.Errorf("jwz: compressor: %w", err)
	}
	if _, err := fw.Write(plain); err != nil {
		return "", fmt.Errorf("jwz: compress: %w", err)
	}
	if err := fw.Close(); err != nil {
		return "", fmt.Errorf("jwz: compress: %w", err)
	}
	compressed := buf.Bytes()

	sig := ed25519.Sign(key.Signer(), signingInput(key.ID, compressed))

	b64 := base64.RawURLEncoding
	return PrefixJWZ + sep + key.ID + "." + b64.EncodeToString(compressed) + "." + b64.EncodeToString(sig), nil
}

func (z *JWZ) Decode(ctx context.Context, token string) (domain.Payload, error) {
	raw, err := body(token, PrefixJWZ)
	if err != nil {
		return domain.Payload{}, err
	}

	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return domain.Payload{}, fmt.Errorf("%w: want 3 segments, got %d", domain.ErrMalformedToken, len(parts))
	}
	kid := parts[0]

	b64 := base64.RawURLEncoding
	compressed, err := b64.DecodeString(parts[1])
	if err != nil {
		return domain.Payload{}, fmt.Errorf("%w: body segment: %v", domain.ErrMalformedToken, err)
	}
	sig, err := b64.DecodeString(parts[2])
	if err != nil {
		return domain.Payload{}, fmt.Errorf("%w: signature segment: %v", domain.ErrMalformedToken, err)
	}

	key, ok := z.Chain.Lookup(kid)
	if !ok {
		return domain.Payload{}, fmt.Errorf("%w: kid %q", domain.ErrKeyNotFound, kid)
	}
	if !ed25519.Verify(key.Public(), signingInput(kid, compressed), sig) {
		return domain.Payload{}, domain.ErrSignatureInvalid
	}

	fr := flate.NewReader(bytes.NewReader(compressed))
	defer fr.Close()
	plain, err := io.ReadAll(io.LimitReader(fr, decompressLimit))
	if err != nil {
		return domain.Payload{}, fmt.Errorf("%w: %v", domain.ErrDecompression, err)
	}

	return wire.Decode(plain)
}

func signingInput(kid string, compressed []byte) []byte {
	msg := make([]byte, 0, len(jwzContext)+len(kid)+1+len(compressed))
	msg = append(msg, jwzContext...)
	msg = append(msg, kid...)
	msg = append(msg, '.')
	return append(msg, compressed...)
}
