// Package provider implements the interchangeable token format encoders.
// Every token string starts with a short format tag ("opq_", "jws_", "jwz_",
// "enc_") so validation dispatches to the right provider with one map lookup
// instead of trial-decoding across all of them.
package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/castellanhq/castellan/internal/token/domain"
)

// Provider encodes payloads into token strings and back. Implementations
// must never trust unverified payload bytes: integrity checks complete before
// any deserialization.
type Provider interface {
	// Prefix is the format tag, without the separator.
	Prefix() string

	// Encode turns a payload into a token string carrying the prefix.
	Encode(ctx context.Context, p domain.Payload) (string, error)

	// Decode parses and verifies a token body back into its payload. It
	// does not check expiry or revocation; that is the validation
	// pipeline's job.
	Decode(ctx context.Context, token string) (domain.Payload, error)
}

// Deleter is implemented by providers whose tokens have server-side state
// that logout must remove (the opaque format).
type Deleter interface {
	Delete(ctx context.Context, token string) error
}

const sep = "_"

// Registry dispatches token strings to providers by format tag.
type Registry struct {
	byPrefix map[string]Provider
}

func NewRegistry(providers ...Provider) (*Registry, error) {
	r := &Registry{byPrefix: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		if _, dup := r.byPrefix[p.Prefix()]; dup {
			return nil, fmt.Errorf("provider: duplicate prefix %q", p.Prefix())
		}
		r.byPrefix[p.Prefix()] = p
	}
	return r, nil
}

// Lookup resolves the provider for a token string, or ErrUnknownFormat when
// no registered provider claims its tag.
func (r *Registry) Lookup(token string) (Provider, error) {
	tag, _, ok := strings.Cut(token, sep)
	if !ok {
		return nil, domain.ErrUnknownFormat
	}
	p, ok := r.byPrefix[tag]
	if !ok {
		return nil, domain.ErrUnknownFormat
	}
	return p, nil
}

// Get returns a provider by its prefix, for issuance-side selection.
func (r *Registry) Get(prefix string) (Provider, bool) {
	p, ok := r.byPrefix[prefix]
	return p, ok
}

// body strips the expected prefix from a token string.
func body(token, prefix string) (string, error) {
	rest, ok := strings.CutPrefix(token, prefix+sep)
	if !ok || rest == "" {
		return "", domain.ErrMalformedToken
	}
	return rest, nil
}
