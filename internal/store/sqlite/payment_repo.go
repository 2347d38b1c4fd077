package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"househunter/internal/domain"
)

const paymentColumns = `id, transaction_id, merchant_request_id, checkout_request_id, amount, phone_number,
	account_reference, transaction_desc, status, receipt_number, result_desc, user_id, listing_id,
	created_at, updated_at`

type PaymentRepo struct {
	db *sql.DB
}

func NewPaymentRepo(db *sql.DB) *PaymentRepo {
	return &PaymentRepo{db: db}
}

var _ domain.PaymentRepository = (*PaymentRepo)(nil)

func (r *PaymentRepo) Create(ctx context.Context, p *domain.Payment) error {
	now := time.Now().UTC()
	if p.Status == "" {
		p.Status = domain.PaymentPending
	}
	query := `
		INSERT INTO payments (transaction_id, merchant_request_id, checkout_request_id, amount, phone_number,
			account_reference, transaction_desc, status, receipt_number, result_desc, user_id, listing_id,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	res, err := r.db.ExecContext(ctx, query,
		p.TransactionID, p.MerchantRequestID, p.CheckoutRequestID, p.Amount, p.PhoneNumber,
		p.AccountReference, p.TransactionDesc, p.Status, p.ReceiptNumber, p.ResultDesc,
		nullInt64(p.UserID), nullInt64(p.ListingID), now, now,
	)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	p.ID = id
	p.CreatedAt = now
	p.UpdatedAt = now
	return nil
}

func (r *PaymentRepo) GetByID(ctx context.Context, id int64) (*domain.Payment, error) {
	return scanPayment(r.db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = ?`, id))
}

func (r *PaymentRepo) GetByCorrelation(ctx context.Context, merchantRequestID, checkoutRequestID string) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE merchant_request_id = ? AND checkout_request_id = ?`
	return scanPayment(r.db.QueryRowContext(ctx, query, merchantRequestID, checkoutRequestID))
}

func (r *PaymentRepo) ListForUser(ctx context.Context, userID int64) ([]*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE user_id = ? ORDER BY created_at DESC, id DESC`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	var out []*domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *PaymentRepo) SetCorrelation(ctx context.Context, id int64, merchantRequestID, checkoutRequestID string) error {
	query := `
		UPDATE payments
		SET merchant_request_id = ?, checkout_request_id = ?, transaction_id = ?, updated_at = ?
		WHERE id = ? AND status = 'pending'
	`
	res, err := r.db.ExecContext(ctx, query, merchantRequestID, checkoutRequestID, checkoutRequestID, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set correlation: %w", err)
	}
	return requireRow(res)
}

func (r *PaymentRepo) Complete(ctx context.Context, id int64, receipt, resultDesc string) (bool, error) {
	var done bool
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		res, err := tx.ExecContext(ctx, `
			UPDATE payments
			SET status = 'completed', receipt_number = ?, result_desc = ?, updated_at = ?
			WHERE id = ? AND status = 'pending'
		`, receipt, resultDesc, now, id)
		if err != nil {
			return fmt.Errorf("complete payment: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if n == 0 {
			return nil
		}
		done = true

		_, err = tx.ExecContext(ctx, `
			UPDATE listings
			SET is_vacant = 0, version = version + 1, updated_at = ?
			WHERE id = (SELECT listing_id FROM payments WHERE id = ?)
		`, now, id)
		if err != nil {
			return fmt.Errorf("mark listing occupied: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return done, nil
}

func (r *PaymentRepo) Finish(ctx context.Context, id int64, status domain.PaymentStatus, resultDesc string) (bool, error) {
	if status != domain.PaymentFailed && status != domain.PaymentCancelled {
		return false, fmt.Errorf("finish payment as %q: %w", status, domain.ErrInvalidInput)
	}
	query := `UPDATE payments SET status = ?, result_desc = ?, updated_at = ? WHERE id = ? AND status = 'pending'`
	res, err := r.db.ExecContext(ctx, query, status, resultDesc, time.Now().UTC(), id)
	if err != nil {
		return false, fmt.Errorf("finish payment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func scanPayment(row rowScanner) (*domain.Payment, error) {
	p := &domain.Payment{}
	var userID, listingID sql.NullInt64
	err := row.Scan(
		&p.ID,
		&p.TransactionID,
		&p.MerchantRequestID,
		&p.CheckoutRequestID,
		&p.Amount,
		&p.PhoneNumber,
		&p.AccountReference,
		&p.TransactionDesc,
		&p.Status,
		&p.ReceiptNumber,
		&p.ResultDesc,
		&userID,
		&listingID,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan payment: %w", err)
	}
	p.UserID = ptrInt64(userID)
	p.ListingID = ptrInt64(listingID)
	return p, nil
}
