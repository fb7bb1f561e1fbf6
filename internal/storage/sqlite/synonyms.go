package sqlite

import (
	"context"
	"database/sql"

	"supplybot/internal/domain"
)

// UpsertSynonym stores a confirmed mapping. A later confirmation for the same
// kind and label replaces the earlier one.
func UpsertSynonym(ctx context.Context, db *sql.DB, e domain.SynonymEntry) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO synonyms (kind, label, canonical_id, confirmed_by, confirmed_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(kind, label) DO UPDATE SET
		   canonical_id = excluded.canonical_id,
		   confirmed_by = excluded.confirmed_by,
		   confirmed_at = excluded.confirmed_at`,
		string(e.Kind), e.Label, e.CanonicalID, e.ConfirmedBy, e.ConfirmedAt,
	)
	return err
}

func ListSynonyms(ctx context.Context, db *sql.DB) ([]domain.SynonymEntry, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT kind, label, canonical_id, confirmed_by, confirmed_at
		 FROM synonyms ORDER BY kind, label`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.SynonymEntry
	for rows.Next() {
		var e domain.SynonymEntry
		var kind string
		if err := rows.Scan(&kind, &e.Label, &e.CanonicalID, &e.ConfirmedBy, &e.ConfirmedAt); err != nil {
			return nil, err
		}
		e.Kind = domain.EntityKind(kind)
		out = append(out, e)
	}
	return out, rows.Err()
}
