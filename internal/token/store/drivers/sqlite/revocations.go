package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/castellanhq/castellan/internal/token/domain"
)

type revocationEventsRepo struct {
	db *sql.DB
}

func (r *revocationEventsRepo) AppendRevocationEvent(ctx context.Context, ev domain.RevocationEvent) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO revocation_events
		 (id, subject_id, domain_id, project_id, role_id, trust_id, audit_id, issued_before, revoked_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.SubjectID, ev.DomainID, ev.ProjectID, ev.RoleID, ev.TrustID, ev.AuditID,
		ev.IssuedBefore.UTC(), ev.RevokedAt.UTC())
	return err
}

func (r *revocationEventsRepo) ListRevocationEvents(ctx context.Context) ([]domain.RevocationEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, subject_id, domain_id, project_id, role_id, trust_id, audit_id, issued_before, revoked_at
		 FROM revocation_events ORDER BY revoked_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.RevocationEvent
	for rows.Next() {
		var ev domain.RevocationEvent
		if err := rows.Scan(&ev.ID, &ev.SubjectID, &ev.DomainID, &ev.ProjectID,
			&ev.RoleID, &ev.TrustID, &ev.AuditID, &ev.IssuedBefore, &ev.RevokedAt); err != nil {
			return nil, err
		}
		ev.IssuedBefore = ev.IssuedBefore.UTC()
		ev.RevokedAt = ev.RevokedAt.UTC()
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (r *revocationEventsRepo) PruneRevocationEvents(ctx context.Context, cutoff time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM revocation_events WHERE issued_before < ?`, cutoff.UTC())
	return err
}
