package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"househunter/internal/domain"
)

const messageColumns = `id, sender_id, receiver_id, listing_id, text, timestamp, is_read, is_flagged, flag_reason, flagged_by, flagged_at, is_spam`

type MessageRepo struct {
	db *sql.DB
}

func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

var _ domain.MessageRepository = (*MessageRepo)(nil)

func (r *MessageRepo) Create(ctx context.Context, m *domain.Message) error {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	query := `
		INSERT INTO messages (sender_id, receiver_id, listing_id, text, timestamp, is_read, is_flagged, flag_reason, is_spam)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`
	err := r.db.QueryRowContext(ctx, query,
		m.SenderID,
		m.ReceiverID,
		m.ListingID,
		m.Text,
		m.Timestamp,
		m.IsRead,
		m.IsFlagged,
		m.FlagReason,
		m.IsSpam,
	).Scan(&m.ID)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (r *MessageRepo) GetByID(ctx context.Context, id int64) (*domain.Message, error) {
	return scanMessage(r.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id))
}

func (r *MessageRepo) ListConversation(ctx context.Context, listingID, a, b int64) ([]*domain.Message, error) {
	return r.query(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE listing_id = $1
		  AND ((sender_id = $2 AND receiver_id = $3) OR (sender_id = $3 AND receiver_id = $2))
		ORDER BY timestamp ASC, id ASC
	`, listingID, a, b)
}

func (r *MessageRepo) ListForUser(ctx context.Context, userID int64) ([]*domain.Message, error) {
	return r.query(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE sender_id = $1 OR receiver_id = $1
		ORDER BY timestamp DESC, id DESC
	`, userID)
}

func (r *MessageRepo) HasSentTo(ctx context.Context, listingID, senderID, receiverID int64) (bool, error) {
	var ok bool
	query := `SELECT EXISTS(SELECT 1 FROM messages WHERE listing_id = $1 AND sender_id = $2 AND receiver_id = $3)`
	if err := r.db.QueryRowContext(ctx, query, listingID, senderID, receiverID).Scan(&ok); err != nil {
		return false, fmt.Errorf("check history: %w", err)
	}
	return ok, nil
}

func (r *MessageRepo) LatestSenderTo(ctx context.Context, listingID, receiverID int64) (int64, error) {
	var sender int64
	err := r.db.QueryRowContext(ctx, `
		SELECT sender_id FROM messages
		WHERE listing_id = $1 AND receiver_id = $2
		ORDER BY timestamp DESC, id DESC
		LIMIT 1
	`, listingID, receiverID).Scan(&sender)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, domain.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("latest sender: %w", err)
	}
	return sender, nil
}

func (r *MessageRepo) MarkRead(ctx context.Context, listingID, senderID, receiverID int64) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE messages SET is_read = TRUE
		WHERE listing_id = $1 AND sender_id = $2 AND receiver_id = $3 AND NOT is_read
	`, listingID, senderID, receiverID)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	return res.RowsAffected()
}

func (r *MessageRepo) List(ctx context.Context, flaggedOnly bool, offset, limit int) ([]*domain.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages`
	if flaggedOnly {
		query += ` WHERE is_flagged`
	}
	query += ` ORDER BY timestamp DESC, id DESC LIMIT $1 OFFSET $2`
	return r.query(ctx, query, limit, offset)
}

func (r *MessageRepo) SetFlag(ctx context.Context, id int64, flagged bool, reason string, by *int64, at *time.Time) error {
	var flaggedAt sql.NullTime
	if at != nil {
		flaggedAt = sql.NullTime{Time: *at, Valid: true}
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE messages SET is_flagged = $1, flag_reason = $2, flagged_by = $3, flagged_at = $4 WHERE id = $5`,
		flagged, reason, nullInt64(by), flaggedAt, id)
	if err != nil {
		return fmt.Errorf("set flag: %w", err)
	}
	return requireRow(res)
}

func (r *MessageRepo) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return requireRow(res)
}

func (r *MessageRepo) DeleteConversation(ctx context.Context, listingID, landlordID, counterpartID int64) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM messages
		WHERE listing_id = $1
		  AND ((sender_id = $2 AND receiver_id = $3) OR (sender_id = $3 AND receiver_id = $2))
	`, listingID, landlordID, counterpartID)
	if err != nil {
		return 0, fmt.Errorf("delete conversation: %w", err)
	}
	return res.RowsAffected()
}

func (r *MessageRepo) query(ctx context.Context, query string, args ...any) ([]*domain.Message, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var msgs []*domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func scanMessage(row rowScanner) (*domain.Message, error) {
	m := &domain.Message{}
	var (
		flaggedBy sql.NullInt64
		flaggedAt sql.NullTime
	)
	err := row.Scan(
		&m.ID,
		&m.SenderID,
		&m.ReceiverID,
		&m.ListingID,
		&m.Text,
		&m.Timestamp,
		&m.IsRead,
		&m.IsFlagged,
		&m.FlagReason,
		&flaggedBy,
		&flaggedAt,
		&m.IsSpam,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan message: %w", err)
	}
	m.FlaggedBy = ptrInt64(flaggedBy)
	if flaggedAt.Valid {
		t := flaggedAt.Time
		m.FlaggedAt = &t
	}
	return m, nil
}
