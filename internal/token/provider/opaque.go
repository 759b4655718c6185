package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/castellanhq/castellan/internal/token/domain"
	"github.com/castellanhq/castellan/internal/token/store"
	"github.com/castellanhq/castellan/pkg/cryptox"
)

// PrefixOpaque tags tokens that carry no embedded meaning and require a
// server-side lookup.
const PrefixOpaque = "opq"

// Opaque issues random identifiers and keeps the payload in the token store
// with a TTL. Logout for this format is a store delete, which is why it also
// implements Deleter.
type Opaque struct {
	Tokens store.Tokens
}

func NewOpaque(tokens store.Tokens) *Opaque {
	return &Opaque{Tokens: tokens}
}

func (o *Opaque) Prefix() string { return PrefixOpaque }

func (o *Opaque) Encode(ctx context.Context, p domain.Payload) (string, error) {
	id, err := cryptox.GenerateToken(cryptox.TokenSize128)
	if err != nil {
		return "", fmt.Errorf("opaque: generate id: %w", err)
	}
	if err := o.Tokens.PutToken(ctx, id, p, p.ExpiresAt); err != nil {
		return "", backendErr("opaque: store payload", err)
	}
	return PrefixOpaque + sep + id, nil
}

func (o *Opaque) Decode(ctx context.Context, token string) (domain.Payload, error) {
	id, err := body(token, PrefixOpaque)
	if err != nil {
		return domain.Payload{}, err
	}
	p, err := o.Tokens.GetToken(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Payload{}, domain.ErrTokenNotFound
		}
		return domain.Payload{}, backendErr("opaque: lookup", err)
	}
	return p, nil
}

// Delete removes the server-side entry so subsequent decodes miss. Deleting
// an already-absent token succeeds; logout is idempotent.
func (o *Opaque) Delete(ctx context.Context, token string) error {
	id, err := body(token, PrefixOpaque)
	if err != nil {
		return err
	}
	if err := o.Tokens.DeleteToken(ctx, id); err != nil {
		return backendErr("opaque: delete", err)
	}
	return nil
}

// backendErr maps store failures (including context timeouts) onto the
// transient ErrBackendUnavailable so callers can tell operational faults
// apart from token-level rejections.
func backendErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, domain.ErrBackendUnavailable, err)
}
