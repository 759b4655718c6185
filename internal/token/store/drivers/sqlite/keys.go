package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/castellanhq/castellan/internal/token/domain"
	"github.com/castellanhq/castellan/internal/token/store"
)

type keysRepo struct {
	db *sql.DB
}

func (r *keysRepo) CreateKey(ctx context.Context, k domain.Key) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO keys (id, material, created_at, retired_at, expires_at) VALUES (?, ?, ?, ?, ?)`,
		k.ID, k.MaterialEncrypted, k.CreatedAt.UTC(), mapOptionalTime(k.RetiredAt), k.ExpiresAt.UTC())
	return err
}

func (r *keysRepo) ListKeys(ctx context.Context) ([]domain.Key, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, material, created_at, retired_at, expires_at FROM keys ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Key
	for rows.Next() {
		var k domain.Key
		var retired sql.NullTime
		if err := rows.Scan(&k.ID, &k.MaterialEncrypted, &k.CreatedAt, &retired, &k.ExpiresAt); err != nil {
			return nil, err
		}
		k.CreatedAt = k.CreatedAt.UTC()
		k.ExpiresAt = k.ExpiresAt.UTC()
		k.RetiredAt = mapNullTimePtr(retired)
		out = append(out, k)
	}
	return out, rows.Err()
}

func (r *keysRepo) RetireKey(ctx context.Context, id string, retiredAt, expiresAt time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE keys SET retired_at = ?, expires_at = ? WHERE id = ?`,
		retiredAt.UTC(), expiresAt.UTC(), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *keysRepo) DeleteExpiredKeys(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM keys WHERE expires_at <= ?`, time.Now().UTC())
	return err
}
