package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"househunter/internal/domain"
)

type BlockRepo struct {
	db *sql.DB
}

func NewBlockRepo(db *sql.DB) *BlockRepo {
	return &BlockRepo{db: db}
}

var _ domain.BlockRepository = (*BlockRepo)(nil)

func (r *BlockRepo) Create(ctx context.Context, b *domain.MessageBlock) error {
	now := time.Now().UTC()
	query := `
		INSERT INTO message_blocks (blocker_id, blocked_id, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT (blocker_id, blocked_id) DO NOTHING
	`
	res, err := r.db.ExecContext(ctx, query, b.BlockerID, b.BlockedID, now)
	if err != nil {
		return fmt.Errorf("insert block: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("block already exists: %w", domain.ErrConflict)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	b.ID = id
	b.CreatedAt = now
	return nil
}

func (r *BlockRepo) Delete(ctx context.Context, blockerID, blockedID int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM message_blocks WHERE blocker_id = ? AND blocked_id = ?`, blockerID, blockedID)
	if err != nil {
		return fmt.Errorf("delete block: %w", err)
	}
	return requireRow(res)
}

func (r *BlockRepo) ExistsBetween(ctx context.Context, a, b int64) (bool, error) {
	var ok bool
	query := `
		SELECT EXISTS(
			SELECT 1 FROM message_blocks
			WHERE (blocker_id = ? AND blocked_id = ?) OR (blocker_id = ? AND blocked_id = ?)
		)
	`
	if err := r.db.QueryRowContext(ctx, query, a, b, b, a).Scan(&ok); err != nil {
		return false, fmt.Errorf("check block: %w", err)
	}
	return ok, nil
}

func (r *BlockRepo) List(ctx context.Context) ([]*domain.MessageBlock, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, blocker_id, blocked_id, created_at FROM message_blocks ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list blocks: %w", err)
	}
	defer rows.Close()

	var out []*domain.MessageBlock
	for rows.Next() {
		b := &domain.MessageBlock{}
		if err := rows.Scan(&b.ID, &b.BlockerID, &b.BlockedID, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan block: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
