package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

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
	if p.Status == "" {
		p.Status = domain.PaymentPending
	}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO payments (transaction_id, merchant_request_id, checkout_request_id, amount, phone_number,
			account_reference, transaction_desc, status, receipt_number, result_desc, user_id, listing_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at, updated_at
	`,
		p.TransactionID, p.MerchantRequestID, p.CheckoutRequestID, p.Amount, p.PhoneNumber,
		p.AccountReference, p.TransactionDesc, p.Status, p.ReceiptNumber, p.ResultDesc,
		nullInt64(p.UserID), nullInt64(p.ListingID),
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (r *PaymentRepo) GetByID(ctx context.Context, id int64) (*domain.Payment, error) {
	return scanPayment(r.db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id))
}

func (r *PaymentRepo) GetByCorrelation(ctx context.Context, merchantRequestID, checkoutRequestID string) (*domain.Payment, error) {
	return scanPayment(r.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE merchant_request_id = $1 AND checkout_request_id = $2`,
		merchantRequestID, checkoutRequestID))
}

func (r *PaymentRepo) ListForUser(ctx context.Context, userID int64) ([]*domain.Payment, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE user_id = $1 ORDER BY created_at DESC, id DESC`, userID)
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
	res, err := r.db.ExecContext(ctx, `
		UPDATE payments
		SET merchant_request_id = $1, checkout_request_id = $2, transaction_id = $2, updated_at = NOW()
		WHERE id = $3 AND status = 'pending'
	`, merchantRequestID, checkoutRequestID, id)
	if err != nil {
		return fmt.Errorf("set correlation: %w", err)
	}
	return requireRow(res)
}

func (r *PaymentRepo) Complete(ctx context.Context, id int64, receipt, resultDesc string) (bool, error) {
	var done bool
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		var listingID sql.NullInt64
		err := tx.QueryRowContext(ctx, `
			UPDATE payments
			SET status = 'completed', receipt_number = $1, result_desc = $2, updated_at = NOW()
			WHERE id = $3 AND status = 'pending'
			RETURNING listing_id
		`, receipt, resultDesc, id).Scan(&listingID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("complete payment: %w", err)
		}
		done = true
		if !listingID.Valid {
			return nil
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE listings SET is_vacant = FALSE, version = version + 1, updated_at = NOW()
			WHERE id = $1
		`, listingID.Int64)
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
	res, err := r.db.ExecContext(ctx, `
		UPDATE payments SET status = $1, result_desc = $2, updated_at = NOW()
		WHERE id = $3 AND status = 'pending'
	`, status, resultDesc, id)
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
