package domain

import (
	"context"
	"time"
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id int64) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	List(ctx context.Context, offset, limit int) ([]*User, error)
	SetBanned(ctx context.Context, id int64, banned bool) error
	SetOnlineStatus(ctx context.Context, id int64, isOnline bool) error
	TouchLastSeen(ctx context.Context, id int64) error
	// Delete removes a non-admin user and the listings they own, returning
	// the ids of those listings.
	Delete(ctx context.Context, id int64) ([]int64, error)
}

// ListingFilter narrows listing queries. Zero values mean "no constraint".
type ListingFilter struct {
	Status     ApprovalStatus
	VacantOnly bool
	Search     string
	LandlordID int64
	Offset     int
	Limit      int
}

// ListingRepository defines persistence operations for listings.
type ListingRepository interface {
	Create(ctx context.Context, l *Listing) error
	GetByID(ctx context.Context, id int64) (*Listing, error)
	List(ctx context.Context, f ListingFilter) ([]*Listing, error)
	// Update writes every mutable field in one statement, guarded by
	// l.Version. On success l.Version is advanced; a stale version yields
	// ErrConflict.
	Update(ctx context.Context, l *Listing) error
	// SetApprovalStatus moves the listing from one status to another and
	// stores reason. ErrConflict if the listing is no longer in from.
	SetApprovalStatus(ctx context.Context, id int64, from, to ApprovalStatus, reason string) (*Listing, error)
	IncrementViewCount(ctx context.Context, id int64) (int64, error)
	// DeleteMany removes the given listings and returns the ids that existed.
	DeleteMany(ctx context.Context, ids []int64) ([]int64, error)
}

// MessageRepository defines persistence operations for messages.
type MessageRepository interface {
	Create(ctx context.Context, m *Message) error
	GetByID(ctx context.Context, id int64) (*Message, error)
	// ListConversation returns messages between a and b about a listing in
	// timestamp order.
	ListConversation(ctx context.Context, listingID, a, b int64) ([]*Message, error)
	// ListForUser returns every message the user sent or received, newest first.
	ListForUser(ctx context.Context, userID int64) ([]*Message, error)
	HasSentTo(ctx context.Context, listingID, senderID, receiverID int64) (bool, error)
	// LatestSenderTo returns the sender of the most recent message received
	// by receiverID about the listing, or ErrNotFound.
	LatestSenderTo(ctx context.Context, listingID, receiverID int64) (int64, error)
	MarkRead(ctx context.Context, listingID, senderID, receiverID int64) (int64, error)
	List(ctx context.Context, flaggedOnly bool, offset, limit int) ([]*Message, error)
	SetFlag(ctx context.Context, id int64, flagged bool, reason string, by *int64, at *time.Time) error
	Delete(ctx context.Context, id int64) error
	DeleteConversation(ctx context.Context, listingID, landlordID, counterpartID int64) (int64, error)
}

// BlockRepository defines persistence operations for message blocks.
type BlockRepository interface {
	Create(ctx context.Context, b *MessageBlock) error
	Delete(ctx context.Context, blockerID, blockedID int64) error
	// ExistsBetween ignores direction.
	ExistsBetween(ctx context.Context, a, b int64) (bool, error)
	List(ctx context.Context) ([]*MessageBlock, error)
}

// PaymentRepository defines persistence operations for payments. All
// status transitions are compare-and-set against the pending state.
type PaymentRepository interface {
	Create(ctx context.Context, p *Payment) error
	GetByID(ctx context.Context, id int64) (*Payment, error)
	GetByCorrelation(ctx context.Context, merchantRequestID, checkoutRequestID string) (*Payment, error)
	ListForUser(ctx context.Context, userID int64) ([]*Payment, error)
	SetCorrelation(ctx context.Context, id int64, merchantRequestID, checkoutRequestID string) error
	// Complete marks a pending payment completed with its receipt and, in
	// the same transaction, clears the related listing's vacancy. It
	// returns false when the payment was no longer pending.
	Complete(ctx context.Context, id int64, receipt, resultDesc string) (bool, error)
	// Finish moves a pending payment to failed or cancelled.
	Finish(ctx context.Context, id int64, status PaymentStatus, resultDesc string) (bool, error)
}
