package sqlite

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
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	res, err := r.db.ExecContext(ctx, query,
		m.SenderID,
		m.ReceiverID,
		m.ListingID,
		m.Text,
		m.Timestamp,
		m.IsRead,
		m.IsFlagged,
		m.FlagReason,
		m.IsSpam,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	m.ID = id
	return nil
}

func (r *MessageRepo) GetByID(ctx context.Context, id int64) (*domain.Message, error) {
	return scanMessage(r.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id))
}

func (r *MessageRepo) ListConversation(ctx context.Context, listingID, a, b int64) ([]*domain.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE listing_id = ?
		  AND ((sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?))
		ORDER BY timestamp ASC, id ASC
	`
	return r.query(ctx, query, listingID, a, b, b, a)
}

func (r *MessageRepo) ListForUser(ctx context.Context, userID int64) ([]*domain.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE sender_id = ? OR receiver_id = ?
		ORDER BY timestamp DESC, id DESC
	`
	return r.query(ctx, query, userID, userID)
}

func (r *MessageRepo) HasSentTo(ctx context.Context, listingID, senderID, receiverID int64) (bool, error) {
	var ok bool
	query := `SELECT EXISTS(SELECT 1 FROM messages WHERE listing_id = ? AND sender_id = ? AND receiver_id = ?)`
	if err := r.db.QueryRowContext(ctx, query, listingID, senderID, receiverID).Scan(&ok); err != nil {
		return false, fmt.Errorf("check history: %w", err)
	}
	return ok, nil
}

func (r *MessageRepo) LatestSenderTo(ctx context.Context, listingID, receiverID int64) (int64, error) {
	var sender int64
	query := `
		SELECT sender_id FROM messages
		WHERE listing_id = ? AND receiver_id = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT 1
	`
	err := r.db.QueryRowContext(ctx, query, listingID, receiverID).Scan(&sender)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, domain.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("latest sender: %w", err)
	}
	return sender, nil
}

func (r *MessageRepo) MarkRead(ctx context.Context, listingID, senderID, receiverID int64) (int64, error) {
	query := `UPDATE messages SET is_read = 1 WHERE listing_id = ? AND sender_id = ? AND receiver_id = ? AND is_read = 0`
	res, err := r.db.ExecContext(ctx, query, listingID, senderID, receiverID)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	return res.RowsAffected()
}

func (r *MessageRepo) List(ctx context.Context, flaggedOnly bool, offset, limit int) ([]*domain.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages`
	if flaggedOnly {
		query += ` WHERE is_flagged = 1`
	}
	query += ` ORDER BY timestamp DESC, id DESC LIMIT ? OFFSET ?`
	return r.query(ctx, query, limit, offset)
}

func (r *MessageRepo) SetFlag(ctx context.Context, id int64, flagged bool, reason string, by *int64, at *time.Time) error {
	var flaggedAt sql.NullTime
	if at != nil {
		flaggedAt = sql.NullTime{Time: at.UTC(), Valid: true}
	}
	query := `UPDATE messages SET is_flagged = ?, flag_reason = ?, flagged_by = ?, flagged_at = ? WHERE id = ?`
	res, err := r.db.ExecContext(ctx, query, flagged, reason, nullInt64(by), flaggedAt, id)
	if err != nil {
		return fmt.Errorf("set flag: %w", err)
	}
	return requireRow(res)
}

func (r *MessageRepo) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return requireRow(res)
}

func (r *MessageRepo) DeleteConversation(ctx context.Context, listingID, landlordID, counterpartID int64) (int64, error) {
	query := `
		DELETE FROM messages
		WHERE listing_id = ?
		  AND ((sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?))
	`
	res, err := r.db.ExecContext(ctx, query, listingID, landlordID, counterpartID, counterpartID, landlordID)
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
