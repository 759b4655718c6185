package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/castellanhq/castellan/internal/token/domain"
	"github.com/castellanhq/castellan/internal/token/wire"
)

type tokensRepo struct {
	db *sql.DB
}

func (r *tokensRepo) PutToken(ctx context.Context, id string, p domain.Payload, expiresAt time.Time) error {
	blob, err := wire.Encode(p)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO tokens (id, payload, expires_at) VALUES (?, ?, ?)`,
		id, blob, expiresAt.UTC())
	return err
}

// GetToken filters expired rows in the query itself, so TTL expiry holds
// even before housekeeping gets around to deleting them.
func (r *tokensRepo) GetToken(ctx context.Context, id string) (domain.Payload, error) {
	var blob []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT payload FROM tokens WHERE id = ? AND expires_at > ?`,
		id, time.Now().UTC()).Scan(&blob)
	if err != nil {
		return domain.Payload{}, mapNotFound(err)
	}
	return wire.Decode(blob)
}

func (r *tokensRepo) DeleteToken(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM tokens WHERE id = ?`, id)
	return err
}

func (r *tokensRepo) DeleteExpiredTokens(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM tokens WHERE expires_at <= ?`, time.Now().UTC())
	return err
}
