package realtime

import (
	"encoding/json"
	"fmt"
	"time"

	"househunter/internal/domain"
)

// Kind tags an event on the wire.
type Kind string

const (
	KindChatMessage      Kind = "chat_message"
	KindPaymentStatus    Kind = "payment_status_update"
	KindPaymentCompleted Kind = "payment_completed"
	KindListingsDeleted  Kind = "listings_deleted"
	KindListingStatus    Kind = "listing_status"
)

// Event is the closed set of payloads the channel layer carries. The
// unexported method keeps the set closed to this package.
type Event interface {
	Kind() Kind
	event()
}

// ChatMessage is a persisted message between two parties of a listing chat.
type ChatMessage struct {
	MessageID  int64     `json:"message_id"`
	ListingID  int64     `json:"listing_id"`
	SenderID   int64     `json:"sender_id"`
	ReceiverID int64     `json:"receiver_id"`
	Text       string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
}

// PaymentStatus reports the current status of one payment.
type PaymentStatus struct {
	PaymentID int64                `json:"payment_id"`
	Status    domain.PaymentStatus `json:"status"`
}

// PaymentCompleted tells a user one of their payments went through.
type PaymentCompleted struct {
	PaymentID int64  `json:"payment_id"`
	ListingID *int64 `json:"listing_id"`
	Message   string `json:"message"`
}

// ListingsDeleted lets clients drop cached references such as favorites.
type ListingsDeleted struct {
	ListingIDs []int64 `json:"listing_ids"`
}

// ListingStatus tells a landlord their listing's moderation state changed.
type ListingStatus struct {
	ListingID      int64                 `json:"listing_id"`
	ApprovalStatus domain.ApprovalStatus `json:"approval_status"`
	IsVacant       bool                  `json:"is_vacant"`
	Reason         string                `json:"pending_reason,omitempty"`
}

func (ChatMessage) Kind() Kind      { return KindChatMessage }
func (PaymentStatus) Kind() Kind    { return KindPaymentStatus }
func (PaymentCompleted) Kind() Kind { return KindPaymentCompleted }
func (ListingsDeleted) Kind() Kind  { return KindListingsDeleted }
func (ListingStatus) Kind() Kind    { return KindListingStatus }

func (ChatMessage) event()      {}
func (PaymentStatus) event()    {}
func (PaymentCompleted) event() {}
func (ListingsDeleted) event()  {}
func (ListingStatus) event()    {}

// Encode renders an event as the flat JSON object clients receive, with
// its kind under "type". The same bytes travel between server instances.
func Encode(ev Event) ([]byte, error) {
	switch e := ev.(type) {
	case ChatMessage:
		return json.Marshal(struct {
			Type Kind `json:"type"`
			ChatMessage
		}{e.Kind(), e})
	case PaymentStatus:
		return json.Marshal(struct {
			Type Kind `json:"type"`
			PaymentStatus
		}{e.Kind(), e})
	case PaymentCompleted:
		return json.Marshal(struct {
			Type Kind `json:"type"`
			PaymentCompleted
		}{e.Kind(), e})
	case ListingsDeleted:
		return json.Marshal(struct {
			Type Kind `json:"type"`
			ListingsDeleted
		}{e.Kind(), e})
	case ListingStatus:
		return json.Marshal(struct {
			Type Kind `json:"type"`
			ListingStatus
		}{e.Kind(), e})
	default:
		return nil, fmt.Errorf("encode: unsupported event %T", ev)
	}
}

// Decode parses bytes produced by Encode.
func Decode(data []byte) (Event, error) {
	var head struct {
		Type Kind `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	var (
		ev  Event
		err error
	)
	switch head.Type {
	case KindChatMessage:
		var e ChatMessage
		err = json.Unmarshal(data, &e)
		ev = e
	case KindPaymentStatus:
		var e PaymentStatus
		err = json.Unmarshal(data, &e)
		ev = e
	case KindPaymentCompleted:
		var e PaymentCompleted
		err = json.Unmarshal(data, &e)
		ev = e
	case KindListingsDeleted:
		var e ListingsDeleted
		err = json.Unmarshal(data, &e)
		ev = e
	case KindListingStatus:
		var e ListingStatus
		err = json.Unmarshal(data, &e)
		ev = e
	default:
		return nil, fmt.Errorf("decode event: unknown type %q", head.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", head.Type, err)
	}
	return ev, nil
}

// Visible decides, at delivery time, whether a subscriber of topic t with
// the given user id may receive ev. Chat topics are shared by every party
// of a listing, so a chat message is only visible to its two ends.
func Visible(t Topic, ev Event, userID int64) bool {
	switch t.Kind {
	case TopicChat:
		msg, ok := ev.(ChatMessage)
		return ok && msg.ListingID == t.ID && (userID == msg.SenderID || userID == msg.ReceiverID)
	case TopicPayment:
		ps, ok := ev.(PaymentStatus)
		return ok && ps.PaymentID == t.ID
	case TopicUserPayments:
		_, ok := ev.(PaymentCompleted)
		return ok && t.ID == userID
	case TopicFavoritesCleanup:
		_, ok := ev.(ListingsDeleted)
		return ok
	case TopicListingStatus:
		_, ok := ev.(ListingStatus)
		return ok && t.ID == userID
	default:
		return false
	}
}
