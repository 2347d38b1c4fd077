package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"househunter/internal/domain"
	"househunter/internal/logger"
	"househunter/internal/realtime"
	"househunter/internal/security"
)

const (
	maxMessageRunes     = 5000
	undecryptableNotice = "[message could not be decrypted]"
)

// MessageView is a message with its text decrypted for the reader.
type MessageView struct {
	*domain.Message
	Text string `json:"message"`
}

// ConversationSummary is one row of a user's inbox.
type ConversationSummary struct {
	ListingID       int64       `json:"listing_id"`
	ListingTitle    string      `json:"listing_title"`
	CounterpartID   int64       `json:"counterpart_id"`
	CounterpartName string      `json:"counterpart_name"`
	LastMessage     MessageView `json:"last_message"`
	UnreadCount     int         `json:"unread_count"`
}

type MessageService struct {
	messages  domain.MessageRepository
	blocks    domain.BlockRepository
	listings  domain.ListingRepository
	users     domain.UserRepository
	encryptor *security.Encryptor
	pub       realtime.Publisher
	now       func() time.Time
}

func NewMessageService(
	messages domain.MessageRepository,
	blocks domain.BlockRepository,
	listings domain.ListingRepository,
	users domain.UserRepository,
	encryptor *security.Encryptor,
	pub realtime.Publisher,
) *MessageService {
	return &MessageService{
		messages:  messages,
		blocks:    blocks,
		listings:  listings,
		users:     users,
		encryptor: encryptor,
		pub:       pub,
		now:       time.Now,
	}
}

// ChatAccess loads the listing behind a chat and checks the caller may
// take part: its landlord always, tenants once it is approved.
func (s *MessageService) ChatAccess(ctx context.Context, actor *domain.User, listingID int64) (*domain.Listing, error) {
	if err := domain.Authorize(actor, domain.ActionSendMessage, nil); err != nil {
		return nil, err
	}
	l, err := s.listings.GetByID(ctx, listingID)
	if err != nil {
		return nil, err
	}
	switch {
	case l.OwnedBy(actor.ID):
		return l, nil
	case actor.Role == domain.RoleLandlord:
		return nil, fmt.Errorf("landlords may only chat about their own listings: %w", domain.ErrForbidden)
	case l.ApprovalStatus != domain.StatusApproved:
		return nil, fmt.Errorf("listing is not open for enquiries: %w", domain.ErrForbidden)
	}
	return l, nil
}

// Send persists a message in a listing chat and then publishes it on the
// listing's chat topic. The receiver is resolved from the sender's side
// of the conversation; toID is only honoured for the landlord and only
// when that user has already talked about the listing.
func (s *MessageService) Send(ctx context.Context, actor *domain.User, listingID int64, text string, toID *int64) (*MessageView, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("message is empty: %w", domain.ErrInvalidInput)
	}
	if len([]rune(text)) > maxMessageRunes {
		return nil, fmt.Errorf("message exceeds %d characters: %w", maxMessageRunes, domain.ErrInvalidInput)
	}

	l, err := s.ChatAccess(ctx, actor, listingID)
	if err != nil {
		return nil, err
	}
	receiverID, err := s.resolveReceiver(ctx, actor, l, toID)
	if err != nil {
		return nil, err
	}

	blocked, err := s.blocks.ExistsBetween(ctx, actor.ID, receiverID)
	if err != nil {
		return nil, fmt.Errorf("check block: %w", err)
	}
	if blocked {
		return nil, fmt.Errorf("messaging between these users is blocked: %w", domain.ErrForbidden)
	}

	enc, err := s.encryptor.Encrypt(text)
	if err != nil {
		return nil, fmt.Errorf("encrypt message: %w", err)
	}
	m := &domain.Message{
		SenderID:   actor.ID,
		ReceiverID: receiverID,
		ListingID:  l.ID,
		Text:       enc,
		Timestamp:  s.now().UTC(),
	}
	if err := s.messages.Create(ctx, m); err != nil {
		return nil, err
	}

	publish(ctx, s.pub, realtime.ChatTopic(l.ID), realtime.ChatMessage{
		MessageID:  m.ID,
		ListingID:  l.ID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Text:       text,
		Timestamp:  m.Timestamp,
	})
	return &MessageView{Message: m, Text: text}, nil
}

func (s *MessageService) resolveReceiver(ctx context.Context, actor *domain.User, l *domain.Listing, toID *int64) (int64, error) {
	if !l.OwnedBy(actor.ID) {
		if l.LandlordID == nil {
			return 0, fmt.Errorf("listing has no landlord to message: %w", domain.ErrInvalidInput)
		}
		return *l.LandlordID, nil
	}

	if toID != nil && *toID != actor.ID {
		known, err := s.talkedAbout(ctx, l.ID, actor.ID, *toID)
		if err != nil {
			return 0, err
		}
		if known {
			return *toID, nil
		}
	}
	tenantID, err := s.messages.LatestSenderTo(ctx, l.ID, actor.ID)
	if errors.Is(err, domain.ErrNotFound) {
		return 0, fmt.Errorf("no tenant has enquired about this listing yet: %w", domain.ErrInvalidInput)
	}
	if err != nil {
		return 0, fmt.Errorf("find latest enquirer: %w", err)
	}
	return tenantID, nil
}

func (s *MessageService) talkedAbout(ctx context.Context, listingID, a, b int64) (bool, error) {
	ok, err := s.messages.HasSentTo(ctx, listingID, b, a)
	if err != nil || ok {
		return ok, err
	}
	return s.messages.HasSentTo(ctx, listingID, a, b)
}

// counterpart picks who the caller is talking to about l. Tenants always
// talk to the landlord; the landlord must name the tenant.
func (s *MessageService) counterpart(actor *domain.User, l *domain.Listing, with *int64) (int64, error) {
	if l.OwnedBy(actor.ID) {
		if with == nil {
			return 0, fmt.Errorf("with is required for the listing's landlord: %w", domain.ErrInvalidInput)
		}
		return *with, nil
	}
	if l.LandlordID == nil {
		return 0, fmt.Errorf("listing has no landlord: %w", domain.ErrInvalidInput)
	}
	return *l.LandlordID, nil
}

// Conversation returns the messages between the caller and a counterpart
// about one listing, oldest first.
func (s *MessageService) Conversation(ctx context.Context, actor *domain.User, listingID int64, with *int64) ([]MessageView, error) {
	if actor == nil {
		return nil, domain.ErrUnauthorized
	}
	l, err := s.listings.GetByID(ctx, listingID)
	if err != nil {
		return nil, err
	}
	other, err := s.counterpart(actor, l, with)
	if err != nil {
		return nil, err
	}
	msgs, err := s.messages.ListConversation(ctx, l.ID, actor.ID, other)
	if err != nil {
		return nil, err
	}
	return s.views(ctx, msgs), nil
}

// MarkRead marks the counterpart's messages to the caller as read.
func (s *MessageService) MarkRead(ctx context.Context, actor *domain.User, listingID int64, with *int64) (int64, error) {
	if actor == nil {
		return 0, domain.ErrUnauthorized
	}
	l, err := s.listings.GetByID(ctx, listingID)
	if err != nil {
		return 0, err
	}
	other, err := s.counterpart(actor, l, with)
	if err != nil {
		return 0, err
	}
	return s.messages.MarkRead(ctx, l.ID, other, actor.ID)
}

// Conversations summarises every chat the caller takes part in, most
// recently active first.
func (s *MessageService) Conversations(ctx context.Context, actor *domain.User) ([]ConversationSummary, error) {
	if actor == nil {
		return nil, domain.ErrUnauthorized
	}
	msgs, err := s.messages.ListForUser(ctx, actor.ID)
	if err != nil {
		return nil, err
	}

	type key struct{ listing, other int64 }
	index := make(map[key]int)
	var out []ConversationSummary
	names := make(map[int64]string)
	titles := make(map[int64]string)

	for _, m := range msgs {
		other := m.SenderID
		if other == actor.ID {
			other = m.ReceiverID
		}
		k := key{m.ListingID, other}
		i, seen := index[k]
		if !seen {
			i = len(out)
			index[k] = i
			out = append(out, ConversationSummary{
				ListingID:       m.ListingID,
				ListingTitle:    s.listingTitle(ctx, titles, m.ListingID),
				CounterpartID:   other,
				CounterpartName: s.userName(ctx, names, other),
				LastMessage:     s.view(ctx, m),
			})
		}
		if m.ReceiverID == actor.ID && !m.IsRead {
			out[i].UnreadCount++
		}
	}
	return out, nil
}

func (s *MessageService) userName(ctx context.Context, cache map[int64]string, id int64) string {
	if n, ok := cache[id]; ok {
		return n
	}
	var name string
	if u, err := s.users.GetByID(ctx, id); err == nil {
		name = u.DisplayName
		if name == "" {
			name = u.Username
		}
	}
	cache[id] = name
	return name
}

func (s *MessageService) listingTitle(ctx context.Context, cache map[int64]string, id int64) string {
	if t, ok := cache[id]; ok {
		return t
	}
	var title string
	if l, err := s.listings.GetByID(ctx, id); err == nil {
		title = l.Title
	}
	cache[id] = title
	return title
}

// ListForModeration lists all messages, or only flagged ones.
func (s *MessageService) ListForModeration(ctx context.Context, actor *domain.User, flaggedOnly bool, offset, limit int) ([]MessageView, error) {
	if err := domain.Authorize(actor, domain.ActionModerateMessages, nil); err != nil {
		return nil, err
	}
	msgs, err := s.messages.List(ctx, flaggedOnly, offset, limit)
	if err != nil {
		return nil, err
	}
	return s.views(ctx, msgs), nil
}

func (s *MessageService) Flag(ctx context.Context, actor *domain.User, id int64, reason string) (*MessageView, error) {
	if err := domain.Authorize(actor, domain.ActionModerateMessages, nil); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	by := actor.ID
	if err := s.messages.SetFlag(ctx, id, true, strings.TrimSpace(reason), &by, &now); err != nil {
		return nil, err
	}
	return s.get(ctx, id)
}

func (s *MessageService) Unflag(ctx context.Context, actor *domain.User, id int64) (*MessageView, error) {
	if err := domain.Authorize(actor, domain.ActionModerateMessages, nil); err != nil {
		return nil, err
	}
	if err := s.messages.SetFlag(ctx, id, false, "", nil, nil); err != nil {
		return nil, err
	}
	return s.get(ctx, id)
}

func (s *MessageService) DeleteMessage(ctx context.Context, actor *domain.User, id int64) error {
	if err := domain.Authorize(actor, domain.ActionModerateMessages, nil); err != nil {
		return err
	}
	return s.messages.Delete(ctx, id)
}

// DeleteConversation removes every message between the listing's landlord
// and one counterpart about that listing.
func (s *MessageService) DeleteConversation(ctx context.Context, actor *domain.User, listingID, counterpartID int64) (int64, error) {
	if err := domain.Authorize(actor, domain.ActionModerateMessages, nil); err != nil {
		return 0, err
	}
	l, err := s.listings.GetByID(ctx, listingID)
	if err != nil {
		return 0, err
	}
	if l.LandlordID == nil {
		return 0, fmt.Errorf("listing has no landlord: %w", domain.ErrInvalidInput)
	}
	n, err := s.messages.DeleteConversation(ctx, l.ID, *l.LandlordID, counterpartID)
	if err != nil {
		return 0, err
	}
	logger.FromContext(ctx).Info("conversation deleted",
		zap.Int64("listing_id", l.ID), zap.Int64("counterpart_id", counterpartID), zap.Int64("messages", n))
	return n, nil
}

func (s *MessageService) Block(ctx context.Context, actor *domain.User, blockerID, blockedID int64) (*domain.MessageBlock, error) {
	if err := domain.Authorize(actor, domain.ActionModerateMessages, nil); err != nil {
		return nil, err
	}
	if blockerID == blockedID {
		return nil, fmt.Errorf("a user cannot block themselves: %w", domain.ErrInvalidInput)
	}
	for _, id := range []int64{blockerID, blockedID} {
		if _, err := s.users.GetByID(ctx, id); err != nil {
			return nil, err
		}
	}
	b := &domain.MessageBlock{BlockerID: blockerID, BlockedID: blockedID}
	if err := s.blocks.Create(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *MessageService) Unblock(ctx context.Context, actor *domain.User, blockerID, blockedID int64) error {
	if err := domain.Authorize(actor, domain.ActionModerateMessages, nil); err != nil {
		return err
	}
	return s.blocks.Delete(ctx, blockerID, blockedID)
}

func (s *MessageService) ListBlocks(ctx context.Context, actor *domain.User) ([]*domain.MessageBlock, error) {
	if err := domain.Authorize(actor, domain.ActionModerateMessages, nil); err != nil {
		return nil, err
	}
	return s.blocks.List(ctx)
}

func (s *MessageService) get(ctx context.Context, id int64) (*MessageView, error) {
	m, err := s.messages.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	v := s.view(ctx, m)
	return &v, nil
}

func (s *MessageService) views(ctx context.Context, msgs []*domain.Message) []MessageView {
	out := make([]MessageView, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, s.view(ctx, m))
	}
	return out
}

func (s *MessageService) view(ctx context.Context, m *domain.Message) MessageView {
	plain, err := s.encryptor.Decrypt(m.Text)
	if err != nil {
		logger.FromContext(ctx).Warn("decrypt message", zap.Int64("message_id", m.ID), zap.Error(err))
		plain = undecryptableNotice
	}
	return MessageView{Message: m, Text: plain}
}
