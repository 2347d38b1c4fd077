package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

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
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO message_blocks (blocker_id, blocked_id)
		VALUES ($1, $2)
		ON CONFLICT (blocker_id, blocked_id) DO NOTHING
		RETURNING id, created_at
	`, b.BlockerID, b.BlockedID).Scan(&b.ID, &b.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("block already exists: %w", domain.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("insert block: %w", err)
	}
	return nil
}

func (r *BlockRepo) Delete(ctx context.Context, blockerID, blockedID int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM message_blocks WHERE blocker_id = $1 AND blocked_id = $2`, blockerID, blockedID)
	if err != nil {
		return fmt.Errorf("delete block: %w", err)
	}
	return requireRow(res)
}

func (r *BlockRepo) ExistsBetween(ctx context.Context, a, b int64) (bool, error) {
	var ok bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM message_blocks
			WHERE (blocker_id = $1 AND blocked_id = $2) OR (blocker_id = $2 AND blocked_id = $1)
		)
	`, a, b).Scan(&ok)
	if err != nil {
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
