package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Role is the capability class of a user account.
type Role string

const (
	RoleTenant   Role = "tenant"
	RoleLandlord Role = "landlord"
	RoleAdmin    Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleTenant, RoleLandlord, RoleAdmin:
		return true
	}
	return false
}

// ApprovalStatus is the moderation state of a listing.
type ApprovalStatus string

const (
	StatusPending  ApprovalStatus = "pending"
	StatusApproved ApprovalStatus = "approved"
	StatusRejected ApprovalStatus = "rejected"
)

func (s ApprovalStatus) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// PaymentStatus is the lifecycle state of a payment attempt.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentCancelled PaymentStatus = "cancelled"
)

// Terminal reports whether no further transition is allowed.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentCompleted || s == PaymentFailed || s == PaymentCancelled
}

// User represents an application user.
type User struct {
	ID             int64     `db:"id" json:"id"`
	Username       string    `db:"username" json:"username"`
	Email          string    `db:"email" json:"email,omitempty"`
	DisplayName    string    `db:"display_name" json:"display_name,omitempty"`
	ExternalUID    string    `db:"external_uid" json:"external_uid,omitempty"`
	HashedPassword string    `db:"hashed_password" json:"-"`
	Role           Role      `db:"role" json:"role"`
	IsBanned       bool      `db:"is_banned" json:"is_banned"`
	IsOnline       bool      `db:"is_online" json:"is_online"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	LastSeen       time.Time `db:"last_seen" json:"last_seen"`
}

// ActiveWithin derives presence from last_seen, independent of IsOnline.
func (u *User) ActiveWithin(now time.Time, window time.Duration) bool {
	return now.Sub(u.LastSeen) < window
}

// Listing is a rental unit subject to admin moderation.
type Listing struct {
	ID             int64           `db:"id" json:"id"`
	Title          string          `db:"title" json:"title"`
	Description    string          `db:"description" json:"description"`
	Location       string          `db:"location" json:"location"`
	ExactLocation  string          `db:"exact_location" json:"exact_location"`
	Size           string          `db:"size" json:"size"`
	MonthlyRent    decimal.Decimal `db:"monthly_rent" json:"monthly_rent"`
	Deposit        decimal.Decimal `db:"deposit" json:"deposit"`
	AvailableDate  *string         `db:"available_date" json:"available_date"`
	Images         StringList      `db:"images" json:"images"`
	Amenities      StringList      `db:"amenities" json:"amenities"`
	ContactPhone   string          `db:"contact_phone" json:"contact_phone"`
	ContactEmail   string          `db:"contact_email" json:"contact_email"`
	IsVacant       bool            `db:"is_vacant" json:"is_vacant"`
	ApprovalStatus ApprovalStatus  `db:"approval_status" json:"approval_status"`
	PendingReason  string          `db:"pending_reason" json:"pending_reason"`
	LandlordID     *int64          `db:"landlord_id" json:"landlord"`
	LandlordName   string          `db:"landlord_name" json:"landlord_name"`
	LandlordUID    string          `db:"landlord_uid" json:"landlord_uid"`
	LandlordEmail  string          `db:"landlord_email" json:"landlord_email"`
	ViewCount      int64           `db:"view_count" json:"view_count"`
	Version        int64           `db:"version" json:"-"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

// OwnedBy reports whether userID is the listing's landlord.
func (l *Listing) OwnedBy(userID int64) bool {
	return l.LandlordID != nil && *l.LandlordID == userID
}

// Message is directed text between two users about one listing.
type Message struct {
	ID         int64      `db:"id" json:"id"`
	SenderID   int64      `db:"sender_id" json:"sender_id"`
	ReceiverID int64      `db:"receiver_id" json:"receiver_id"`
	ListingID  int64      `db:"listing_id" json:"listing_id"`
	Text       string     `db:"text" json:"-"` // encrypted at rest
	Timestamp  time.Time  `db:"timestamp" json:"timestamp"`
	IsRead     bool       `db:"is_read" json:"is_read"`
	IsFlagged  bool       `db:"is_flagged" json:"is_flagged"`
	FlagReason string     `db:"flag_reason" json:"flag_reason"`
	FlaggedBy  *int64     `db:"flagged_by" json:"flagged_by"`
	FlaggedAt  *time.Time `db:"flagged_at" json:"flagged_at"`
	IsSpam     bool       `db:"is_spam" json:"is_spam"`
}

// MessageBlock prevents messaging between two users, in either direction.
type MessageBlock struct {
	ID        int64     `db:"id" json:"id"`
	BlockerID int64     `db:"blocker_id" json:"blocker_id"`
	BlockedID int64     `db:"blocked_id" json:"blocked_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Payment is a single push-payment attempt.
type Payment struct {
	ID                int64           `db:"id" json:"id"`
	TransactionID     string          `db:"transaction_id" json:"transaction_id"`
	MerchantRequestID string          `db:"merchant_request_id" json:"merchant_request_id"`
	CheckoutRequestID string          `db:"checkout_request_id" json:"checkout_request_id"`
	Amount            decimal.Decimal `db:"amount" json:"amount"`
	PhoneNumber       string          `db:"phone_number" json:"phone_number"`
	AccountReference  string          `db:"account_reference" json:"account_reference"`
	TransactionDesc   string          `db:"transaction_desc" json:"transaction_desc"`
	Status            PaymentStatus   `db:"status" json:"status"`
	ReceiptNumber     string          `db:"receipt_number" json:"receipt_number"`
	ResultDesc        string          `db:"result_desc" json:"result_desc"`
	UserID            *int64          `db:"user_id" json:"user_id"`
	ListingID         *int64          `db:"listing_id" json:"listing_id"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updated_at"`
}

// StringList is a JSON-encoded list column (image URLs, amenity ids).
type StringList []string

// Equal compares by value; nil and empty are the same list.
func (s StringList) Equal(o StringList) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if s[i] != o[i] {
			return false
		}
	}
	return true
}

func (s StringList) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(s))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (s *StringList) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*s = StringList{}
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("scan string list: unsupported type %T", src)
	}
	if len(raw) == 0 {
		*s = StringList{}
		return nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("scan string list: %w", err)
	}
	*s = out
	return nil
}

// UnmarshalJSON accepts strings and numbers; amenity ids arrive as either.
func (s *StringList) UnmarshalJSON(b []byte) error {
	var items []json.RawMessage
	if err := json.Unmarshal(b, &items); err != nil {
		return err
	}
	if items == nil {
		*s = nil
		return nil
	}
	out := make(StringList, 0, len(items))
	for _, it := range items {
		var str string
		if err := json.Unmarshal(it, &str); err == nil {
			out = append(out, str)
			continue
		}
		var num json.Number
		if err := json.Unmarshal(it, &num); err != nil {
			return fmt.Errorf("list item must be a string or number: %s", it)
		}
		out = append(out, num.String())
	}
	*s = out
	return nil
}

func (s StringList) MarshalJSON() ([]byte, error) {
	if s == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]string(s))
}
