package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"househunter/internal/domain"
)

const listingColumns = `id, title, description, location, exact_location, size, monthly_rent, deposit,
	available_date, images, amenities, contact_phone, contact_email, is_vacant, approval_status,
	pending_reason, landlord_id, landlord_name, landlord_uid, landlord_email, view_count, version,
	created_at, updated_at`

type ListingRepo struct {
	db *sql.DB
}

func NewListingRepo(db *sql.DB) *ListingRepo {
	return &ListingRepo{db: db}
}

var _ domain.ListingRepository = (*ListingRepo)(nil)

func (r *ListingRepo) Create(ctx context.Context, l *domain.Listing) error {
	now := time.Now().UTC()
	query := `
		INSERT INTO listings (title, description, location, exact_location, size, monthly_rent, deposit,
			available_date, images, amenities, contact_phone, contact_email, is_vacant, approval_status,
			pending_reason, landlord_id, landlord_name, landlord_uid, landlord_email, view_count, version,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 1, ?, ?)
	`
	res, err := r.db.ExecContext(ctx, query,
		l.Title, l.Description, l.Location, l.ExactLocation, l.Size, l.MonthlyRent, l.Deposit,
		l.AvailableDate, l.Images, l.Amenities, l.ContactPhone, l.ContactEmail, l.IsVacant, l.ApprovalStatus,
		l.PendingReason, nullInt64(l.LandlordID), l.LandlordName, l.LandlordUID, l.LandlordEmail,
		now, now,
	)
	if err != nil {
		return fmt.Errorf("insert listing: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	l.ID = id
	l.ViewCount = 0
	l.Version = 1
	l.CreatedAt = now
	l.UpdatedAt = now
	return nil
}

func (r *ListingRepo) GetByID(ctx context.Context, id int64) (*domain.Listing, error) {
	return scanListing(r.db.QueryRowContext(ctx, `SELECT `+listingColumns+` FROM listings WHERE id = ?`, id))
}

func (r *ListingRepo) List(ctx context.Context, f domain.ListingFilter) ([]*domain.Listing, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		where = append(where, "approval_status = ?")
		args = append(args, f.Status)
	}
	if f.VacantOnly {
		where = append(where, "is_vacant = 1")
	}
	if f.LandlordID != 0 {
		where = append(where, "landlord_id = ?")
		args = append(args, f.LandlordID)
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		where = append(where, "(LOWER(title) LIKE ? OR LOWER(location) LIKE ?)")
		pattern := "%" + strings.ToLower(s) + "%"
		args = append(args, pattern, pattern)
	}

	query := `SELECT ` + listingColumns + ` FROM listings`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, f.Limit, f.Offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list listings: %w", err)
	}
	defer rows.Close()

	var out []*domain.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *ListingRepo) Update(ctx context.Context, l *domain.Listing) error {
	now := time.Now().UTC()
	query := `
		UPDATE listings
		SET title = ?, description = ?, location = ?, exact_location = ?, size = ?, monthly_rent = ?,
			deposit = ?, available_date = ?, images = ?, amenities = ?, contact_phone = ?, contact_email = ?,
			is_vacant = ?, approval_status = ?, pending_reason = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?
	`
	res, err := r.db.ExecContext(ctx, query,
		l.Title, l.Description, l.Location, l.ExactLocation, l.Size, l.MonthlyRent,
		l.Deposit, l.AvailableDate, l.Images, l.Amenities, l.ContactPhone, l.ContactEmail,
		l.IsVacant, l.ApprovalStatus, l.PendingReason, now,
		l.ID, l.Version,
	)
	if err != nil {
		return fmt.Errorf("update listing: %w", err)
	}
	if err := r.checkWritten(ctx, res, l.ID); err != nil {
		return err
	}
	l.Version++
	l.UpdatedAt = now
	return nil
}

func (r *ListingRepo) SetApprovalStatus(ctx context.Context, id int64, from, to domain.ApprovalStatus, reason string) (*domain.Listing, error) {
	query := `
		UPDATE listings
		SET approval_status = ?, pending_reason = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND approval_status = ?
	`
	res, err := r.db.ExecContext(ctx, query, to, reason, time.Now().UTC(), id, from)
	if err != nil {
		return nil, fmt.Errorf("set approval status: %w", err)
	}
	if err := r.checkWritten(ctx, res, id); err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

func (r *ListingRepo) IncrementViewCount(ctx context.Context, id int64) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx,
		`UPDATE listings SET view_count = view_count + 1 WHERE id = ? RETURNING view_count`, id,
	).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, domain.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("increment view count: %w", err)
	}
	return count, nil
}

func (r *ListingRepo) DeleteMany(ctx context.Context, ids []int64) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var deleted []int64
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		in := placeholders(len(ids))
		rows, err := tx.QueryContext(ctx, `SELECT id FROM listings WHERE id IN (`+in+`) ORDER BY id`, int64Args(ids)...)
		if err != nil {
			return fmt.Errorf("select listings: %w", err)
		}
		deleted, err = scanIDs(rows)
		if err != nil {
			return fmt.Errorf("select listings: %w", err)
		}
		if len(deleted) == 0 {
			return nil
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM listings WHERE id IN (`+placeholders(len(deleted))+`)`, int64Args(deleted)...); err != nil {
			return fmt.Errorf("delete listings: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

// checkWritten distinguishes a missing row from a failed guard.
func (r *ListingRepo) checkWritten(ctx context.Context, res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM listings WHERE id = ?)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check listing: %w", err)
	}
	if !exists {
		return domain.ErrNotFound
	}
	return domain.ErrConflict
}

func scanListing(row rowScanner) (*domain.Listing, error) {
	l := &domain.Listing{}
	var (
		available sql.NullString
		landlord  sql.NullInt64
	)
	err := row.Scan(
		&l.ID,
		&l.Title,
		&l.Description,
		&l.Location,
		&l.ExactLocation,
		&l.Size,
		&l.MonthlyRent,
		&l.Deposit,
		&available,
		&l.Images,
		&l.Amenities,
		&l.ContactPhone,
		&l.ContactEmail,
		&l.IsVacant,
		&l.ApprovalStatus,
		&l.PendingReason,
		&landlord,
		&l.LandlordName,
		&l.LandlordUID,
		&l.LandlordEmail,
		&l.ViewCount,
		&l.Version,
		&l.CreatedAt,
		&l.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan listing: %w", err)
	}
	if available.Valid {
		l.AvailableDate = &available.String
	}
	l.LandlordID = ptrInt64(landlord)
	return l, nil
}
