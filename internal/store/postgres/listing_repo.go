package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

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
	query := `
		INSERT INTO listings (title, description, location, exact_location, size, monthly_rent, deposit,
			available_date, images, amenities, contact_phone, contact_email, is_vacant, approval_status,
			pending_reason, landlord_id, landlord_name, landlord_uid, landlord_email)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		RETURNING id, view_count, version, created_at, updated_at
	`
	err := r.db.QueryRowContext(ctx, query,
		l.Title, l.Description, l.Location, l.ExactLocation, l.Size, l.MonthlyRent, l.Deposit,
		l.AvailableDate, l.Images, l.Amenities, l.ContactPhone, l.ContactEmail, l.IsVacant, l.ApprovalStatus,
		l.PendingReason, nullInt64(l.LandlordID), l.LandlordName, l.LandlordUID, l.LandlordEmail,
	).Scan(&l.ID, &l.ViewCount, &l.Version, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert listing: %w", err)
	}
	return nil
}

func (r *ListingRepo) GetByID(ctx context.Context, id int64) (*domain.Listing, error) {
	return scanListing(r.db.QueryRowContext(ctx, `SELECT `+listingColumns+` FROM listings WHERE id = $1`, id))
}

func (r *ListingRepo) List(ctx context.Context, f domain.ListingFilter) ([]*domain.Listing, error) {
	var (
		where []string
		a     args
	)
	if f.Status != "" {
		where = append(where, "approval_status = "+a.add(f.Status))
	}
	if f.VacantOnly {
		where = append(where, "is_vacant")
	}
	if f.LandlordID != 0 {
		where = append(where, "landlord_id = "+a.add(f.LandlordID))
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		p := a.add("%" + s + "%")
		where = append(where, "(title ILIKE "+p+" OR location ILIKE "+p+")")
	}

	query := `SELECT ` + listingColumns + ` FROM listings`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ` + a.add(f.Limit) + ` OFFSET ` + a.add(f.Offset)
	}

	rows, err := r.db.QueryContext(ctx, query, a...)
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
	query := `
		UPDATE listings
		SET title = $1, description = $2, location = $3, exact_location = $4, size = $5, monthly_rent = $6,
			deposit = $7, available_date = $8, images = $9, amenities = $10, contact_phone = $11,
			contact_email = $12, is_vacant = $13, approval_status = $14, pending_reason = $15,
			version = version + 1, updated_at = NOW()
		WHERE id = $16 AND version = $17
		RETURNING version, updated_at
	`
	err := r.db.QueryRowContext(ctx, query,
		l.Title, l.Description, l.Location, l.ExactLocation, l.Size, l.MonthlyRent,
		l.Deposit, l.AvailableDate, l.Images, l.Amenities, l.ContactPhone,
		l.ContactEmail, l.IsVacant, l.ApprovalStatus, l.PendingReason,
		l.ID, l.Version,
	).Scan(&l.Version, &l.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return r.missOrConflict(ctx, l.ID)
	}
	if err != nil {
		return fmt.Errorf("update listing: %w", err)
	}
	return nil
}

func (r *ListingRepo) SetApprovalStatus(ctx context.Context, id int64, from, to domain.ApprovalStatus, reason string) (*domain.Listing, error) {
	query := `
		UPDATE listings
		SET approval_status = $1, pending_reason = $2, version = version + 1, updated_at = NOW()
		WHERE id = $3 AND approval_status = $4
		RETURNING ` + listingColumns
	l, err := scanListing(r.db.QueryRowContext(ctx, query, to, reason, id, from))
	if errors.Is(err, domain.ErrNotFound) {
		return nil, r.missOrConflict(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("set approval status: %w", err)
	}
	return l, nil
}

func (r *ListingRepo) IncrementViewCount(ctx context.Context, id int64) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx,
		`UPDATE listings SET view_count = view_count + 1 WHERE id = $1 RETURNING view_count`, id,
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
	var a args
	query := `DELETE FROM listings WHERE id IN (` + a.inList(ids) + `) RETURNING id`
	rows, err := r.db.QueryContext(ctx, query, a...)
	if err != nil {
		return nil, fmt.Errorf("delete listings: %w", err)
	}
	defer rows.Close()

	var deleted []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan listing id: %w", err)
		}
		deleted = append(deleted, id)
	}
	return deleted, rows.Err()
}

func (r *ListingRepo) missOrConflict(ctx context.Context, id int64) error {
	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM listings WHERE id = $1)`, id).Scan(&exists); err != nil {
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
