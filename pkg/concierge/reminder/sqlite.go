// Package reminder – sqlite.go implements Store backed by SQLite. One file,
// one table, WAL mode. The conversation_id column was added after launch;
// openDatabase applies the additive migration and backfills old rows with
// the legacy marker.
package reminder

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver.
)

// schema is the DDL executed on every startup (idempotent via IF NOT EXISTS).
const schema = `
CREATE TABLE IF NOT EXISTS reminders (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    sender_id       TEXT NOT NULL,
    conversation_id TEXT NOT NULL DEFAULT '',
    message         TEXT NOT NULL,
    remind_at       TEXT NOT NULL,
    sent            INTEGER NOT NULL DEFAULT 0,
    created_at      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reminders_due ON reminders(sent, remind_at);
CREATE INDEX IF NOT EXISTS idx_reminders_sender ON reminders(sender_id);
`

// SQLiteStore implements Store.
type SQLiteStore struct {
	db *sql.DB
}

// OpenStore opens (or creates) the reminder database at the given path.
func OpenStore(path string) (*SQLiteStore, error) {
	if path == "" {
		path = "./data/concierge.db"
	}

	// Ensure parent directory exists.
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create database directory %q: %w", dir, err)
	}

	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database %q: %w", path, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	if err := migrateConversationColumn(db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db}, nil
}

// migrateConversationColumn adds conversation_id to databases created before
// the column existed and backfills old rows with the legacy marker. Safe to
// call multiple times.
func migrateConversationColumn(db *sql.DB) error {
	rows, err := db.Query(`PRAGMA table_info(reminders)`)
	if err != nil {
		return fmt.Errorf("inspecting reminders table: %w", err)
	}
	defer rows.Close()

	hasColumn := false
	for rows.Next() {
		var (
			cid, notnull, pk int
			name, typ        string
			dflt             sql.NullString
		)
		if err := rows.Scan(&cid, &name, &typ, &notnull, &dflt, &pk); err != nil {
			return fmt.Errorf("scanning table info: %w", err)
		}
		if name == "conversation_id" {
			hasColumn = true
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if hasColumn {
		return nil
	}

	if _, err := db.Exec(`ALTER TABLE reminders ADD COLUMN conversation_id TEXT NOT NULL DEFAULT ''`); err != nil {
		return fmt.Errorf("adding conversation_id column: %w", err)
	}
	if _, err := db.Exec(`UPDATE reminders SET conversation_id = ? WHERE conversation_id = ''`, LegacyConversation); err != nil {
		return fmt.Errorf("backfilling conversation_id: %w", err)
	}
	return nil
}

// Insert adds a reminder and returns its id.
func (s *SQLiteStore) Insert(ctx context.Context, r *Reminder) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO reminders (sender_id, conversation_id, message, remind_at, sent, created_at)
		VALUES (?, ?, ?, ?, 0, ?)`,
		r.SenderID,
		r.ConversationID,
		r.Message,
		r.RemindAt.UTC().Format(time.RFC3339),
		r.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("insert reminder: %w", err)
	}
	return res.LastInsertId()
}

// ListPending returns a sender's unsent reminders, soonest first.
func (s *SQLiteStore) ListPending(ctx context.Context, senderID string) ([]*Reminder, error) {
	return s.query(ctx, `
		SELECT id, sender_id, conversation_id, message, remind_at, sent, created_at
		FROM reminders WHERE sender_id = ? AND sent = 0
		ORDER BY remind_at`, senderID)
}

// ListAll returns every unsent reminder, soonest first.
func (s *SQLiteStore) ListAll(ctx context.Context) ([]*Reminder, error) {
	return s.query(ctx, `
		SELECT id, sender_id, conversation_id, message, remind_at, sent, created_at
		FROM reminders WHERE sent = 0
		ORDER BY remind_at`)
}

// Due returns unsent reminders whose time has passed.
func (s *SQLiteStore) Due(ctx context.Context, now time.Time) ([]*Reminder, error) {
	return s.query(ctx, `
		SELECT id, sender_id, conversation_id, message, remind_at, sent, created_at
		FROM reminders WHERE sent = 0 AND remind_at <= ?
		ORDER BY remind_at`, now.UTC().Format(time.RFC3339))
}

// Claim atomically marks a reminder sent. The WHERE sent = 0 clause makes
// claim and cancel mutually exclusive without a transaction.
func (s *SQLiteStore) Claim(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE reminders SET sent = 1 WHERE id = ? AND sent = 0`, id)
	if err != nil {
		return false, fmt.Errorf("claim reminder %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Requeue clears the sent flag so the next tick retries delivery.
func (s *SQLiteStore) Requeue(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE reminders SET sent = 0 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("requeue reminder %d: %w", id, err)
	}
	return nil
}

// Cancel deletes one unsent reminder owned by the sender.
func (s *SQLiteStore) Cancel(ctx context.Context, id int64, senderID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM reminders WHERE id = ? AND sender_id = ? AND sent = 0`,
		id, senderID)
	if err != nil {
		return false, fmt.Errorf("cancel reminder %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// CancelAll deletes all of a sender's unsent reminders.
func (s *SQLiteStore) CancelAll(ctx context.Context, senderID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM reminders WHERE sender_id = ? AND sent = 0`, senderID)
	if err != nil {
		return 0, fmt.Errorf("cancel reminders for %s: %w", senderID, err)
	}
	return res.RowsAffected()
}

// Close releases the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// query runs a SELECT over the reminders columns and scans the rows.
func (s *SQLiteStore) query(ctx context.Context, q string, args ...any) ([]*Reminder, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query reminders: %w", err)
	}
	defer rows.Close()

	var out []*Reminder
	for rows.Next() {
		var (
			r                   Reminder
			sent                int
			remindAt, createdAt string
		)
		if err := rows.Scan(&r.ID, &r.SenderID, &r.ConversationID,
			&r.Message, &remindAt, &sent, &createdAt); err != nil {
			return nil, fmt.Errorf("scan reminder: %w", err)
		}
		r.Sent = sent != 0
		r.RemindAt, _ = time.Parse(time.RFC3339, remindAt)
		r.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		out = append(out, &r)
	}
	return out, rows.Err()
}

// Compile-time interface verification.
var _ Store = (*SQLiteStore)(nil)
