package sqlite

import (
	"database/sql"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

func InitDB(path string) (*sql.DB, error) {
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_busy_timeout=5000&_journal_mode=WAL"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS synonyms (
		kind         TEXT NOT NULL,
		label        TEXT NOT NULL,
		canonical_id TEXT NOT NULL,
		confirmed_by TEXT DEFAULT '',
		confirmed_at DATETIME NOT NULL,
		PRIMARY KEY (kind, label)
	);

	CREATE TABLE IF NOT EXISTS processed_documents (
		doc_key      TEXT PRIMARY KEY,
		supply_id    TEXT DEFAULT '',
		processed_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS audit_records (
		id           TEXT PRIMARY KEY,
		document_key TEXT NOT NULL,
		disposition  TEXT NOT NULL,
		reason       TEXT DEFAULT '',
		supply_id    TEXT DEFAULT '',
		degraded     INTEGER NOT NULL DEFAULT 0,
		payload      TEXT NOT NULL,
		started_at   DATETIME NOT NULL,
		finished_at  DATETIME NOT NULL,
		created_at   DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_audit_document_key ON audit_records(document_key);
	CREATE INDEX IF NOT EXISTS idx_audit_finished_at ON audit_records(finished_at);

	CREATE TRIGGER IF NOT EXISTS audit_records_no_update
	BEFORE UPDATE ON audit_records
	BEGIN
		SELECT RAISE(ABORT, 'audit records are append-only');
	END;
	CREATE TRIGGER IF NOT EXISTS audit_records_no_delete
	BEFORE DELETE ON audit_records
	BEGIN
		SELECT RAISE(ABORT, 'audit records are append-only');
	END;

	CREATE TABLE IF NOT EXISTS escalations (
		id           TEXT PRIMARY KEY,
		document_key TEXT NOT NULL,
		kind         TEXT NOT NULL,
		subject      TEXT NOT NULL,
		line_index   INTEGER NOT NULL DEFAULT -1,
		label        TEXT DEFAULT '',
		detail       TEXT DEFAULT '',
		candidates   TEXT DEFAULT '[]',
		state        TEXT NOT NULL,
		decision     TEXT DEFAULT '',
		created_at   DATETIME NOT NULL,
		resolved_at  DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_escalations_state ON escalations(state);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}
