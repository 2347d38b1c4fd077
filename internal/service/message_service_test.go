package service_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"househunter/internal/domain"
	"househunter/internal/realtime"
	"househunter/internal/service"
)

func TestSendPersistsThenPublishes(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, &MockGateway{}, service.PaymentOptions{})
	landlord := e.user(t, "landlord", domain.RoleLandlord)
	admin := e.user(t, "admin", domain.RoleAdmin)
	tenant := e.user(t, "tenant", domain.RoleTenant)
	l := e.approvedListing(t, landlord, admin)

	v, err := e.messageSvc.Send(ctx, tenant, l.ID, "  Is it still available?  ", nil)
	require.NoError(t, err)
	assert.Equal(t, landlord.ID, v.ReceiverID)
	assert.Equal(t, "Is it still available?", v.Text)

	stored, err := e.messages.GetByID(ctx, v.ID)
	require.NoError(t, err)
	assert.NotEqual(t, "Is it still available?", stored.Text)

	events := e.pub.on(realtime.ChatTopic(l.ID))
	require.Len(t, events, 1)
	msg := events[0].(realtime.ChatMessage)
	assert.Equal(t, v.ID, msg.MessageID)
	assert.Equal(t, tenant.ID, msg.SenderID)
	assert.Equal(t, landlord.ID, msg.ReceiverID)
	assert.Equal(t, "Is it still available?", msg.Text)

	_, err = e.messageSvc.Send(ctx, tenant, l.ID, "   ", nil)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestChatAccess(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, &MockGateway{}, service.PaymentOptions{})
	landlord := e.user(t, "landlord", domain.RoleLandlord)
	other := e.user(t, "other", domain.RoleLandlord)
	admin := e.user(t, "admin", domain.RoleAdmin)
	tenant := e.user(t, "tenant", domain.RoleTenant)

	pending, err := e.listingSvc.Create(ctx, landlord, listingInput())
	require.NoError(t, err)
	approved := e.approvedListing(t, landlord, admin)

	_, err = e.messageSvc.ChatAccess(ctx, landlord, pending.ID)
	assert.NoError(t, err)
	_, err = e.messageSvc.ChatAccess(ctx, tenant, pending.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = e.messageSvc.ChatAccess(ctx, tenant, approved.ID)
	assert.NoError(t, err)
	_, err = e.messageSvc.ChatAccess(ctx, other, approved.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = e.messageSvc.ChatAccess(ctx, nil, approved.ID)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	_, err = e.messageSvc.ChatAccess(ctx, tenant, 9999)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, e.users.SetBanned(ctx, tenant.ID, true))
	banned, err := e.users.GetByID(ctx, tenant.ID)
	require.NoError(t, err)
	_, err = e.messageSvc.Send(ctx, banned, approved.ID, "hello", nil)
	assert.ErrorIs(t, err, domain.ErrBanned)
}

func TestLandlordReplyResolvesTenant(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, &MockGateway{}, service.PaymentOptions{})
	landlord := e.user(t, "landlord", domain.RoleLandlord)
	admin := e.user(t, "admin", domain.RoleAdmin)
	first := e.user(t, "first", domain.RoleTenant)
	second := e.user(t, "second", domain.RoleTenant)
	stranger := e.user(t, "stranger", domain.RoleTenant)
	l := e.approvedListing(t, landlord, admin)

	_, err := e.messageSvc.Send(ctx, landlord, l.ID, "Anyone there?", nil)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = e.messageSvc.Send(ctx, first, l.ID, "Hello", nil)
	require.NoError(t, err)
	_, err = e.messageSvc.Send(ctx, second, l.ID, "Hi, viewing on Saturday?", nil)
	require.NoError(t, err)

	v, err := e.messageSvc.Send(ctx, landlord, l.ID, "Yes", nil)
	require.NoError(t, err)
	assert.Equal(t, second.ID, v.ReceiverID)

	v, err = e.messageSvc.Send(ctx, landlord, l.ID, "Back to you", &first.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, v.ReceiverID)

	v, err = e.messageSvc.Send(ctx, landlord, l.ID, "Who are you?", &stranger.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, v.ReceiverID)
}

func TestBlockPreventsMessagingBothWays(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, &MockGateway{}, service.PaymentOptions{})
	landlord := e.user(t, "landlord", domain.RoleLandlord)
	admin := e.user(t, "admin", domain.RoleAdmin)
	tenant := e.user(t, "tenant", domain.RoleTenant)
	l := e.approvedListing(t, landlord, admin)

	_, err := e.messageSvc.Send(ctx, tenant, l.ID, "Hello", nil)
	require.NoError(t, err)

	_, err = e.messageSvc.Block(ctx, tenant, tenant.ID, landlord.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = e.messageSvc.Block(ctx, admin, tenant.ID, tenant.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	b, err := e.messageSvc.Block(ctx, admin, tenant.ID, landlord.ID)
	require.NoError(t, err)
	assert.NotZero(t, b.ID)
	_, err = e.messageSvc.Block(ctx, admin, tenant.ID, landlord.ID)
	assert.ErrorIs(t, err, domain.ErrConflict)

	_, err = e.messageSvc.Send(ctx, tenant, l.ID, "Hello again", nil)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = e.messageSvc.Send(ctx, landlord, l.ID, "Reply", nil)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	blocks, err := e.messageSvc.ListBlocks(ctx, admin)
	require.NoError(t, err)
	assert.Len(t, blocks, 1)

	require.NoError(t, e.messageSvc.Unblock(ctx, admin, tenant.ID, landlord.ID))
	_, err = e.messageSvc.Send(ctx, tenant, l.ID, "Hello again", nil)
	assert.NoError(t, err)

	assert.Len(t, e.pub.on(realtime.ChatTopic(l.ID)), 2)
}

func TestConversationsAndReadReceipts(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, &MockGateway{}, service.PaymentOptions{})
	landlord := e.user(t, "landlord", domain.RoleLandlord)
	admin := e.user(t, "admin", domain.RoleAdmin)
	first := e.user(t, "first", domain.RoleTenant)
	second := e.user(t, "second", domain.RoleTenant)
	l := e.approvedListing(t, landlord, admin)

	for _, text := range []string{"one", "two"} {
		_, err := e.messageSvc.Send(ctx, first, l.ID, text, nil)
		require.NoError(t, err)
	}
	_, err := e.messageSvc.Send(ctx, second, l.ID, "three", nil)
	require.NoError(t, err)
	_, err = e.messageSvc.Send(ctx, landlord, l.ID, "four", &first.ID)
	require.NoError(t, err)

	convo, err := e.messageSvc.Conversation(ctx, first, l.ID, nil)
	require.NoError(t, err)
	var texts []string
	for _, m := range convo {
		texts = append(texts, m.Text)
	}
	assert.Equal(t, []string{"one", "two", "four"}, texts)

	_, err = e.messageSvc.Conversation(ctx, landlord, l.ID, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	inbox, err := e.messageSvc.Conversations(ctx, landlord)
	require.NoError(t, err)
	require.Len(t, inbox, 2)
	assert.Equal(t, first.ID, inbox[0].CounterpartID)
	assert.Equal(t, "four", inbox[0].LastMessage.Text)
	assert.Equal(t, 2, inbox[0].UnreadCount)
	assert.Equal(t, "first", inbox[0].CounterpartName)
	assert.Equal(t, l.Title, inbox[0].ListingTitle)
	assert.Equal(t, second.ID, inbox[1].CounterpartID)
	assert.Equal(t, 1, inbox[1].UnreadCount)

	n, err := e.messageSvc.MarkRead(ctx, landlord, l.ID, &first.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	inbox, err = e.messageSvc.Conversations(ctx, landlord)
	require.NoError(t, err)
	assert.Zero(t, inbox[0].UnreadCount)
	assert.Equal(t, 1, inbox[1].UnreadCount)
}

func TestModeration(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, &MockGateway{}, service.PaymentOptions{})
	landlord := e.user(t, "landlord", domain.RoleLandlord)
	admin := e.user(t, "admin", domain.RoleAdmin)
	tenant := e.user(t, "tenant", domain.RoleTenant)
	l := e.approvedListing(t, landlord, admin)

	m1, err := e.messageSvc.Send(ctx, tenant, l.ID, "Send deposit to my personal number", nil)
	require.NoError(t, err)
	_, err = e.messageSvc.Send(ctx, landlord, l.ID, "Sure", nil)
	require.NoError(t, err)

	_, err = e.messageSvc.Flag(ctx, tenant, m1.ID, "spam")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	flagged, err := e.messageSvc.Flag(ctx, admin, m1.ID, "Suspicious payment request")
	require.NoError(t, err)
	assert.True(t, flagged.IsFlagged)
	assert.Equal(t, "Suspicious payment request", flagged.FlagReason)
	require.NotNil(t, flagged.FlaggedBy)
	assert.Equal(t, admin.ID, *flagged.FlaggedBy)
	assert.NotNil(t, flagged.FlaggedAt)
	assert.Equal(t, "Send deposit to my personal number", flagged.Text)

	list, err := e.messageSvc.ListForModeration(ctx, admin, true, 0, 50)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, m1.ID, list[0].ID)

	unflagged, err := e.messageSvc.Unflag(ctx, admin, m1.ID)
	require.NoError(t, err)
	assert.False(t, unflagged.IsFlagged)
	assert.Nil(t, unflagged.FlaggedBy)

	_, err = e.messageSvc.Flag(ctx, admin, 9999, "x")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, e.messageSvc.DeleteMessage(ctx, admin, m1.ID))
	assert.ErrorIs(t, e.messageSvc.DeleteMessage(ctx, admin, m1.ID), domain.ErrNotFound)

	_, err = e.messageSvc.Send(ctx, tenant, l.ID, "Another one", nil)
	require.NoError(t, err)
	n, err := e.messageSvc.DeleteConversation(ctx, admin, l.ID, tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	all, err := e.messageSvc.ListForModeration(ctx, admin, false, 0, 50)
	require.NoError(t, err)
	assert.Empty(t, all)
}
