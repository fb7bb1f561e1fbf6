package sqlite

import (
	"context"
	"database/sql"
	"strings"
)

// AnyProcessed reports whether any of keys has been recorded as submitted.
func AnyProcessed(ctx context.Context, db *sql.DB, keys ...string) (bool, error) {
	if len(keys) == 0 {
		return false, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	var count int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM processed_documents WHERE doc_key IN (`+placeholders+`)`,
		args...,
	).Scan(&count)
	return count > 0, err
}

// MarkProcessed records keys after a confirmed submission. Existing keys are
// left untouched.
func MarkProcessed(ctx context.Context, db *sql.DB, supplyID string, keys ...string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO processed_documents (doc_key, supply_id) VALUES (?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, k := range keys {
		if _, err := stmt.ExecContext(ctx, k, supplyID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func GetProcessedSupplyID(ctx context.Context, db *sql.DB, key string) (string, error) {
	var supplyID string
	err := db.QueryRowContext(ctx,
		`SELECT supply_id FROM processed_documents WHERE doc_key = ?`, key,
	).Scan(&supplyID)
	return supplyID, err
}
