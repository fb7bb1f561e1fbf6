package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"supplybot/internal/domain"
)

func InsertAuditRecord(ctx context.Context, db *sql.DB, rec domain.AuditRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}
	degraded := 0
	if rec.Degraded {
		degraded = 1
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO audit_records (id, document_key, disposition, reason, supply_id, degraded, payload, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.DocumentKey, string(rec.Disposition), rec.Reason, rec.SupplyID,
		degraded, string(payload), rec.StartedAt, rec.FinishedAt,
	)
	return err
}

func GetRecentAuditRecords(ctx context.Context, db *sql.DB, limit int) ([]domain.AuditRecord, error) {
	return queryAuditRecords(ctx, db,
		`SELECT payload FROM audit_records ORDER BY finished_at DESC, created_at DESC LIMIT ?`,
		limit,
	)
}

// GetAuditRecordsBetween returns records finished in [from, to).
func GetAuditRecordsBetween(ctx context.Context, db *sql.DB, from, to time.Time) ([]domain.AuditRecord, error) {
	return queryAuditRecords(ctx, db,
		`SELECT payload FROM audit_records WHERE finished_at >= ? AND finished_at < ? ORDER BY finished_at, created_at`,
		from.UTC(), to.UTC(),
	)
}

func GetAuditRecordsByKey(ctx context.Context, db *sql.DB, documentKey string) ([]domain.AuditRecord, error) {
	return queryAuditRecords(ctx, db,
		`SELECT payload FROM audit_records WHERE document_key = ? ORDER BY finished_at, created_at`,
		documentKey,
	)
}

func CountAuditByDisposition(ctx context.Context, db *sql.DB, documentKey string) (map[domain.Disposition]int, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT disposition, COUNT(*) FROM audit_records WHERE document_key = ? GROUP BY disposition`,
		documentKey,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[domain.Disposition]int)
	for rows.Next() {
		var disp string
		var n int
		if err := rows.Scan(&disp, &n); err != nil {
			return nil, err
		}
		out[domain.Disposition(disp)] = n
	}
	return out, rows.Err()
}

func queryAuditRecords(ctx context.Context, db *sql.DB, query string, args ...any) ([]domain.AuditRecord, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.AuditRecord
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var rec domain.AuditRecord
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			return nil, fmt.Errorf("decode audit record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
