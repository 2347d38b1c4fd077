package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// Open opens a SQLite database with the given DSN. SQLite allows a single
// writer, so the pool is pinned to one connection; code running inside a
// transaction must therefore only use the *sql.Tx.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys = ON;`); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	return db, nil
}

// Migrate runs idempotent CREATE TABLE / CREATE INDEX statements.
func Migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY,
			username VARCHAR(150) UNIQUE NOT NULL,
			email VARCHAR(254) NOT NULL DEFAULT '',
			display_name VARCHAR(150) NOT NULL DEFAULT '',
			external_uid VARCHAR(128) NOT NULL DEFAULT '',
			hashed_password VARCHAR(255) NOT NULL,
			role VARCHAR(10) NOT NULL DEFAULT 'tenant',
			is_banned BOOLEAN NOT NULL DEFAULT 0,
			is_online BOOLEAN NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			last_seen DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS listings (
			id INTEGER PRIMARY KEY,
			title VARCHAR(200) NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			location VARCHAR(200) NOT NULL DEFAULT '',
			exact_location VARCHAR(255) NOT NULL DEFAULT '',
			size VARCHAR(50) NOT NULL DEFAULT '',
			monthly_rent TEXT NOT NULL DEFAULT '0',
			deposit TEXT NOT NULL DEFAULT '0',
			available_date VARCHAR(10) DEFAULT NULL,
			images TEXT NOT NULL DEFAULT '[]',
			amenities TEXT NOT NULL DEFAULT '[]',
			contact_phone VARCHAR(20) NOT NULL DEFAULT '',
			contact_email VARCHAR(254) NOT NULL DEFAULT '',
			is_vacant BOOLEAN NOT NULL DEFAULT 1,
			approval_status VARCHAR(10) NOT NULL DEFAULT 'pending',
			pending_reason TEXT NOT NULL DEFAULT '',
			landlord_id INTEGER DEFAULT NULL,
			landlord_name VARCHAR(150) NOT NULL DEFAULT '',
			landlord_uid VARCHAR(128) NOT NULL DEFAULT '',
			landlord_email VARCHAR(254) NOT NULL DEFAULT '',
			view_count INTEGER NOT NULL DEFAULT 0,
			version INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			FOREIGN KEY (landlord_id) REFERENCES users(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY,
			sender_id INTEGER NOT NULL,
			receiver_id INTEGER NOT NULL,
			listing_id INTEGER NOT NULL,
			text TEXT NOT NULL,
			timestamp DATETIME NOT NULL,
			is_read BOOLEAN NOT NULL DEFAULT 0,
			is_flagged BOOLEAN NOT NULL DEFAULT 0,
			flag_reason TEXT NOT NULL DEFAULT '',
			flagged_by INTEGER DEFAULT NULL,
			flagged_at DATETIME DEFAULT NULL,
			is_spam BOOLEAN NOT NULL DEFAULT 0,
			FOREIGN KEY (sender_id) REFERENCES users(id) ON DELETE CASCADE,
			FOREIGN KEY (receiver_id) REFERENCES users(id) ON DELETE CASCADE,
			FOREIGN KEY (listing_id) REFERENCES listings(id) ON DELETE CASCADE,
			FOREIGN KEY (flagged_by) REFERENCES users(id) ON DELETE SET NULL
		);`,
		`CREATE TABLE IF NOT EXISTS message_blocks (
			id INTEGER PRIMARY KEY,
			blocker_id INTEGER NOT NULL,
			blocked_id INTEGER NOT NULL,
			created_at DATETIME NOT NULL,
			UNIQUE (blocker_id, blocked_id),
			FOREIGN KEY (blocker_id) REFERENCES users(id) ON DELETE CASCADE,
			FOREIGN KEY (blocked_id) REFERENCES users(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS payments (
			id INTEGER PRIMARY KEY,
			transaction_id VARCHAR(100) NOT NULL DEFAULT '',
			merchant_request_id VARCHAR(100) NOT NULL DEFAULT '',
			checkout_request_id VARCHAR(100) NOT NULL DEFAULT '',
			amount TEXT NOT NULL,
			phone_number VARCHAR(12) NOT NULL,
			account_reference VARCHAR(100) NOT NULL DEFAULT '',
			transaction_desc VARCHAR(255) NOT NULL DEFAULT '',
			status VARCHAR(10) NOT NULL DEFAULT 'pending',
			receipt_number VARCHAR(100) NOT NULL DEFAULT '',
			result_desc TEXT NOT NULL DEFAULT '',
			user_id INTEGER DEFAULT NULL,
			listing_id INTEGER DEFAULT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE SET NULL,
			FOREIGN KEY (listing_id) REFERENCES listings(id) ON DELETE SET NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_listings_status_vacant ON listings(approval_status, is_vacant);`,
		`CREATE INDEX IF NOT EXISTS idx_listings_landlord ON listings(landlord_id);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(listing_id, sender_id, receiver_id, timestamp);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_receiver ON messages(receiver_id, timestamp DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_flagged ON messages(is_flagged);`,
		`CREATE INDEX IF NOT EXISTS idx_payments_correlation ON payments(merchant_request_id, checkout_request_id);`,
		`CREATE INDEX IF NOT EXISTS idx_payments_user ON payments(user_id, created_at DESC);`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	return nil
}

// placeholders returns "?, ?, ?" for n arguments.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func int64Args(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

// idRows is the part of *sql.Rows that scanIDs reads.
type idRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// scanIDs drains a single id column and closes rows. An iteration error
// fails the read instead of shortening it.
func scanIDs(rows idRows) ([]int64, error) {
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ids: %w", err)
	}
	return ids, nil
}

// withTx runs fn in a transaction, committing only when fn succeeds.
func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func nullInt64(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func ptrInt64(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}
