package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"

	"househunter/internal/domain"
)

// Open opens a PostgreSQL database using the pgx stdlib driver.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Migrate runs idempotent DDL migrations for the househunter schema on PostgreSQL.
func Migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id               BIGSERIAL    PRIMARY KEY,
			username         VARCHAR(150) UNIQUE NOT NULL,
			email            VARCHAR(254) NOT NULL DEFAULT '',
			display_name     VARCHAR(150) NOT NULL DEFAULT '',
			external_uid     VARCHAR(128) NOT NULL DEFAULT '',
			hashed_password  VARCHAR(255) NOT NULL,
			role             VARCHAR(10)  NOT NULL DEFAULT 'tenant'
			                 CHECK (role IN ('tenant', 'landlord', 'admin')),
			is_banned        BOOLEAN      NOT NULL DEFAULT FALSE,
			is_online        BOOLEAN      NOT NULL DEFAULT FALSE,
			created_at       TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
			last_seen        TIMESTAMPTZ  NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS listings (
			id              BIGSERIAL     PRIMARY KEY,
			title           VARCHAR(200)  NOT NULL,
			description     TEXT          NOT NULL DEFAULT '',
			location        VARCHAR(200)  NOT NULL DEFAULT '',
			exact_location  VARCHAR(255)  NOT NULL DEFAULT '',
			size            VARCHAR(50)   NOT NULL DEFAULT '',
			monthly_rent    NUMERIC(12,2) NOT NULL DEFAULT 0,
			deposit         NUMERIC(12,2) NOT NULL DEFAULT 0,
			available_date  VARCHAR(10),
			images          TEXT          NOT NULL DEFAULT '[]',
			amenities       TEXT          NOT NULL DEFAULT '[]',
			contact_phone   VARCHAR(20)   NOT NULL DEFAULT '',
			contact_email   VARCHAR(254)  NOT NULL DEFAULT '',
			is_vacant       BOOLEAN       NOT NULL DEFAULT TRUE,
			approval_status VARCHAR(10)   NOT NULL DEFAULT 'pending'
			                CHECK (approval_status IN ('pending', 'approved', 'rejected')),
			pending_reason  TEXT          NOT NULL DEFAULT '',
			landlord_id     BIGINT        REFERENCES users(id) ON DELETE CASCADE,
			landlord_name   VARCHAR(150)  NOT NULL DEFAULT '',
			landlord_uid    VARCHAR(128)  NOT NULL DEFAULT '',
			landlord_email  VARCHAR(254)  NOT NULL DEFAULT '',
			view_count      BIGINT        NOT NULL DEFAULT 0,
			version         BIGINT        NOT NULL DEFAULT 1,
			created_at      TIMESTAMPTZ   NOT NULL DEFAULT NOW(),
			updated_at      TIMESTAMPTZ   NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS messages (
			id          BIGSERIAL   PRIMARY KEY,
			sender_id   BIGINT      NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			receiver_id BIGINT      NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			listing_id  BIGINT      NOT NULL REFERENCES listings(id) ON DELETE CASCADE,
			text        TEXT        NOT NULL,
			timestamp   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			is_read     BOOLEAN     NOT NULL DEFAULT FALSE,
			is_flagged  BOOLEAN     NOT NULL DEFAULT FALSE,
			flag_reason TEXT        NOT NULL DEFAULT '',
			flagged_by  BIGINT      REFERENCES users(id) ON DELETE SET NULL,
			flagged_at  TIMESTAMPTZ,
			is_spam     BOOLEAN     NOT NULL DEFAULT FALSE
		)`,

		`CREATE TABLE IF NOT EXISTS message_blocks (
			id         BIGSERIAL   PRIMARY KEY,
			blocker_id BIGINT      NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			blocked_id BIGINT      NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (blocker_id, blocked_id)
		)`,

		`CREATE TABLE IF NOT EXISTS payments (
			id                  BIGSERIAL     PRIMARY KEY,
			transaction_id      VARCHAR(100)  NOT NULL DEFAULT '',
			merchant_request_id VARCHAR(100)  NOT NULL DEFAULT '',
			checkout_request_id VARCHAR(100)  NOT NULL DEFAULT '',
			amount              NUMERIC(12,2) NOT NULL,
			phone_number        VARCHAR(12)   NOT NULL,
			account_reference   VARCHAR(100)  NOT NULL DEFAULT '',
			transaction_desc    VARCHAR(255)  NOT NULL DEFAULT '',
			status              VARCHAR(10)   NOT NULL DEFAULT 'pending'
			                    CHECK (status IN ('pending', 'completed', 'failed', 'cancelled')),
			receipt_number      VARCHAR(100)  NOT NULL DEFAULT '',
			result_desc         TEXT          NOT NULL DEFAULT '',
			user_id             BIGINT        REFERENCES users(id) ON DELETE SET NULL,
			listing_id          BIGINT        REFERENCES listings(id) ON DELETE SET NULL,
			created_at          TIMESTAMPTZ   NOT NULL DEFAULT NOW(),
			updated_at          TIMESTAMPTZ   NOT NULL DEFAULT NOW()
		)`,

		// Indexes
		`CREATE INDEX IF NOT EXISTS idx_listings_status_vacant ON listings(approval_status, is_vacant)`,
		`CREATE INDEX IF NOT EXISTS idx_listings_landlord ON listings(landlord_id)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(listing_id, sender_id, receiver_id, timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_receiver ON messages(receiver_id, timestamp DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_flagged ON messages(is_flagged) WHERE is_flagged`,
		`CREATE INDEX IF NOT EXISTS idx_payments_correlation ON payments(merchant_request_id, checkout_request_id)`,
		`CREATE INDEX IF NOT EXISTS idx_payments_user ON payments(user_id, created_at DESC)`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w\nSQL: %s", err, stmt)
		}
	}
	return nil
}

// args accumulates positional parameters and hands out their $n markers.
type args []any

func (a *args) add(v any) string {
	*a = append(*a, v)
	return "$" + strconv.Itoa(len(*a))
}

// inList appends every id and returns "$i, $j, ...".
func (a *args) inList(ids []int64) string {
	marks := make([]string, len(ids))
	for i, id := range ids {
		marks[i] = a.add(id)
	}
	return strings.Join(marks, ", ")
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

type rowScanner interface {
	Scan(dest ...any) error
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

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
