package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

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
	now := time.Now().UTC()
	query := `
		INSERT INTO users (username, email, display_name, external_uid, hashed_password, role, is_banned, is_online, created_at, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	res, err := r.db.ExecContext(ctx, query,
		u.Username, u.Email, u.DisplayName, u.ExternalUID, u.HashedPassword, u.Role, u.IsBanned, u.IsOnline, now, now)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	u.ID = id
	u.CreatedAt = now
	u.LastSeen = now
	return nil
}

func (r *UserRepo) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	return r.scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
}

func (r *UserRepo) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	return r.scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = ?`, username))
}

func (r *UserRepo) List(ctx context.Context, offset, limit int) ([]*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users ORDER BY id ASC LIMIT ? OFFSET ?`
	rows, err := r.db.QueryContext(ctx, query, limit, offset)
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
	query := `UPDATE users SET is_banned = ?, is_online = CASE WHEN ? THEN 0 ELSE is_online END WHERE id = ?`
	return r.execOne(ctx, "set banned", query, banned, banned, id)
}

func (r *UserRepo) SetOnlineStatus(ctx context.Context, id int64, isOnline bool) error {
	query := `UPDATE users SET is_online = ?, last_seen = ? WHERE id = ?`
	return r.execOne(ctx, "set online status", query, isOnline, time.Now().UTC(), id)
}

func (r *UserRepo) TouchLastSeen(ctx context.Context, id int64) error {
	return r.execOne(ctx, "touch last seen", `UPDATE users SET last_seen = ? WHERE id = ?`, time.Now().UTC(), id)
}

func (r *UserRepo) Delete(ctx context.Context, id int64) ([]int64, error) {
	var listingIDs []int64
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		var role domain.Role
		err := tx.QueryRowContext(ctx, `SELECT role FROM users WHERE id = ?`, id).Scan(&role)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("load user role: %w", err)
		}
		if role == domain.RoleAdmin {
			return fmt.Errorf("admin accounts cannot be deleted: %w", domain.ErrForbidden)
		}

		rows, err := tx.QueryContext(ctx, `SELECT id FROM listings WHERE landlord_id = ? ORDER BY id`, id)
		if err != nil {
			return fmt.Errorf("list owned listings: %w", err)
		}
		listingIDs, err = scanIDs(rows)
		if err != nil {
			return fmt.Errorf("list owned listings: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id = ? AND role <> 'admin'`, id); err != nil {
			return fmt.Errorf("delete user: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return listingIDs, nil
}

func (r *UserRepo) execOne(ctx context.Context, op, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
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
