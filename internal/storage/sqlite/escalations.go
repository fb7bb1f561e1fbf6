package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"supplybot/internal/domain"
)

func InsertEscalation(ctx context.Context, db *sql.DB, req domain.EscalationRequest) error {
	candidates, err := json.Marshal(req.Candidates)
	if err != nil {
		return fmt.Errorf("marshal candidates: %w", err)
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO escalations (id, document_key, kind, subject, line_index, label, detail, candidates, state, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID, req.DocumentKey, string(req.Kind), string(req.Subject), req.LineIndex,
		req.Label, req.Detail, string(candidates), string(req.State), req.CreatedAt,
	)
	return err
}

// ResolveEscalation moves a pending request to its terminal state. It returns
// false when the request was no longer pending.
func ResolveEscalation(ctx context.Context, db *sql.DB, req domain.EscalationRequest) (bool, error) {
	decision := ""
	if req.Decision != nil {
		raw, err := json.Marshal(req.Decision)
		if err != nil {
			return false, fmt.Errorf("marshal decision: %w", err)
		}
		decision = string(raw)
	}
	res, err := db.ExecContext(ctx,
		`UPDATE escalations SET state = ?, decision = ?, resolved_at = ?
		 WHERE id = ? AND state = ?`,
		string(req.State), decision, req.ResolvedAt, req.ID, string(domain.EscalationPending),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func GetEscalation(ctx context.Context, db *sql.DB, id string) (domain.EscalationRequest, error) {
	row := db.QueryRowContext(ctx,
		`SELECT id, document_key, kind, subject, line_index, label, detail, candidates, state, decision, created_at, resolved_at
		 FROM escalations WHERE id = ?`, id,
	)
	return scanEscalation(row)
}

func ListEscalationsByState(ctx context.Context, db *sql.DB, state domain.EscalationState) ([]domain.EscalationRequest, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, document_key, kind, subject, line_index, label, detail, candidates, state, decision, created_at, resolved_at
		 FROM escalations WHERE state = ? ORDER BY created_at`, string(state),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.EscalationRequest
	for rows.Next() {
		req, err := scanEscalation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEscalation(row rowScanner) (domain.EscalationRequest, error) {
	var req domain.EscalationRequest
	var kind, subject, state, candidates, decision string
	var resolvedAt sql.NullTime
	err := row.Scan(
		&req.ID, &req.DocumentKey, &kind, &subject, &req.LineIndex, &req.Label, &req.Detail,
		&candidates, &state, &decision, &req.CreatedAt, &resolvedAt,
	)
	if err != nil {
		return req, err
	}
	req.Kind = domain.EscalationKind(kind)
	req.Subject = domain.EscalationSubject(subject)
	req.State = domain.EscalationState(state)
	if resolvedAt.Valid {
		req.ResolvedAt = resolvedAt.Time
	}
	if candidates != "" {
		if err := json.Unmarshal([]byte(candidates), &req.Candidates); err != nil {
			return req, fmt.Errorf("decode candidates: %w", err)
		}
	}
	if decision != "" {
		var d domain.Decision
		if err := json.Unmarshal([]byte(decision), &d); err != nil {
			return req, fmt.Errorf("decode decision: %w", err)
		}
		req.Decision = &d
	}
	return req, nil
}
