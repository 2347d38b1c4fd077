package realtime

import (
	"fmt"
	"strconv"
	"strings"
)

// TopicKind enumerates the publish/subscribe channel families.
type TopicKind int

const (
	TopicChat TopicKind = iota + 1
	TopicPayment
	TopicUserPayments
	TopicFavoritesCleanup
	TopicListingStatus
)

var topicPrefixes = map[TopicKind]string{
	TopicChat:             "chat",
	TopicPayment:          "payment",
	TopicUserPayments:     "user_payments",
	TopicFavoritesCleanup: "favorites_cleanup",
	TopicListingStatus:    "listing_status",
}

func (k TopicKind) String() string {
	if p, ok := topicPrefixes[k]; ok {
		return p
	}
	return "unknown"
}

// Topic names one channel. ID is the listing, payment or user id the
// channel is scoped to; it is zero for the global favorites channel.
type Topic struct {
	Kind TopicKind
	ID   int64
}

func ChatTopic(listingID int64) Topic { return Topic{Kind: TopicChat, ID: listingID} }
func PaymentTopic(paymentID int64) Topic { return Topic{Kind: TopicPayment, ID: paymentID} }
func UserPaymentsTopic(userID int64) Topic { return Topic{Kind: TopicUserPayments, ID: userID} }
func FavoritesCleanupTopic() Topic { return Topic{Kind: TopicFavoritesCleanup} }
func ListingStatusTopic(landlordID int64) Topic { return Topic{Kind: TopicListingStatus, ID: landlordID} }

func (t Topic) String() string {
	if t.Kind == TopicFavoritesCleanup {
		return t.Kind.String()
	}
	return t.Kind.String() + ":" + strconv.FormatInt(t.ID, 10)
}

// ParseTopic is the inverse of Topic.String.
func ParseTopic(s string) (Topic, error) {
	if s == TopicFavoritesCleanup.String() {
		return FavoritesCleanupTopic(), nil
	}
	prefix, rawID, ok := strings.Cut(s, ":")
	if !ok {
		return Topic{}, fmt.Errorf("malformed topic %q", s)
	}
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return Topic{}, fmt.Errorf("malformed topic id in %q: %w", s, err)
	}
	for kind, p := range topicPrefixes {
		if p == prefix && kind != TopicFavoritesCleanup {
			return Topic{Kind: kind, ID: id}, nil
		}
	}
	return Topic{}, fmt.Errorf("unknown topic kind %q", prefix)
}
