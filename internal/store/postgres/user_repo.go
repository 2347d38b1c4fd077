package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"househunter/internal/domain"
)

const userColumns = `id, username, email, display_name, external_uid, hashed_password, role, is_banned, is_online, created_at, last_seen`

type UserRepo struct {
	db *sql.DB
}

func NewUserRepo(db *sql.DB) *UserRepo {
	return &UserRepo{db: db}
}

var _ domain.UserRepository = (*UserRepo)(nil)

func (r *UserRepo) Create(ctx context.Context, u *domain.User) error {
	query := `
		INSERT INTO users (username, email, display_name, external_uid, hashed_password, role, is_banned, is_online, created_at, last_seen)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		RETURNING id, created_at, last_seen
	`
	err := r.db.QueryRowContext(ctx, query,
		u.Username, u.Email, u.DisplayName, u.ExternalUID, u.HashedPassword, u.Role, u.IsBanned, u.IsOnline,
	).Scan(&u.ID, &u.CreatedAt, &u.LastSeen)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *UserRepo) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	return r.scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (r *UserRepo) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	return r.scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username))
}

func (r *UserRepo) List(ctx context.Context, offset, limit int) ([]*domain.User, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		ORDER BY id ASC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []*domain.User
	for rows.Next() {
		u, err := r.scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (r *UserRepo) SetBanned(ctx context.Context, id int64, banned bool) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET is_banned = $1, is_online = (is_online AND NOT $1) WHERE id = $2`, banned, id)
	if err != nil {
		return fmt.Errorf("set banned: %w", err)
	}
	return requireRow(res)
}

func (r *UserRepo) SetOnlineStatus(ctx context.Context, id int64, isOnline bool) error {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET is_online = $1, last_seen = NOW() WHERE id = $2`, isOnline, id)
	if err != nil {
		return fmt.Errorf("set online status: %w", err)
	}
	return requireRow(res)
}

func (r *UserRepo) TouchLastSeen(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET last_seen = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("touch last seen: %w", err)
	}
	return requireRow(res)
}

func (r *UserRepo) Delete(ctx context.Context, id int64) ([]int64, error) {
	var listingIDs []int64
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		var role domain.Role
		err := tx.QueryRowContext(ctx, `SELECT role FROM users WHERE id = $1 FOR UPDATE`, id).Scan(&role)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("load user role: %w", err)
		}
		if role == domain.RoleAdmin {
			return fmt.Errorf("admin accounts cannot be deleted: %w", domain.ErrForbidden)
		}

		rows, err := tx.QueryContext(ctx, `DELETE FROM listings WHERE landlord_id = $1 RETURNING id`, id)
		if err != nil {
			return fmt.Errorf("delete owned listings: %w", err)
		}
		for rows.Next() {
			var lid int64
			if err := rows.Scan(&lid); err != nil {
				rows.Close()
				return fmt.Errorf("scan listing id: %w", err)
			}
			listingIDs = append(listingIDs, lid)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("delete owned listings: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id = $1 AND role <> 'admin'`, id); err != nil {
			return fmt.Errorf("delete user: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return listingIDs, nil
}

func (r *UserRepo) scanUser(row rowScanner) (*domain.User, error) {
	u := &domain.User{}
	err := row.Scan(
		&u.ID,
		&u.Username,
		&u.Email,
		&u.DisplayName,
		&u.ExternalUID,
		&u.HashedPassword,
		&u.Role,
		&u.IsBanned,
		&u.IsOnline,
		&u.CreatedAt,
		&u.LastSeen,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return u, nil
}
