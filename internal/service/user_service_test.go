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

func TestUserDeleteCascadesAndAnnounces(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, &MockGateway{}, service.PaymentOptions{})
	landlord := e.user(t, "landlord", domain.RoleLandlord)
	admin := e.user(t, "admin", domain.RoleAdmin)
	tenant := e.user(t, "tenant", domain.RoleTenant)

	a, err := e.listingSvc.Create(ctx, landlord, listingInput())
	require.NoError(t, err)
	b, err := e.listingSvc.Create(ctx, landlord, listingInput())
	require.NoError(t, err)

	_, err = e.userSvc.Delete(ctx, tenant, landlord.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = e.userSvc.Delete(ctx, admin, admin.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	ids, err := e.userSvc.Delete(ctx, admin, landlord.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{a.ID, b.ID}, ids)

	_, err = e.listings.GetByID(ctx, a.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	events := e.pub.on(realtime.FavoritesCleanupTopic())
	require.Len(t, events, 1)
	assert.Equal(t, []int64{a.ID, b.ID}, events[0].(realtime.ListingsDeleted).ListingIDs)

	ids, err = e.userSvc.Delete(ctx, tenant, tenant.ID)
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.Len(t, e.pub.on(realtime.FavoritesCleanupTopic()), 1)
}

func TestBanAndPresence(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, &MockGateway{}, service.PaymentOptions{})
	admin := e.user(t, "admin", domain.RoleAdmin)
	tenant := e.user(t, "tenant", domain.RoleTenant)
	require.NoError(t, e.users.SetOnlineStatus(ctx, tenant.ID, true))

	_, err := e.userSvc.SetBanned(ctx, tenant, admin.ID, true)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = e.userSvc.SetBanned(ctx, admin, admin.ID, true)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	v, err := e.userSvc.SetBanned(ctx, admin, tenant.ID, true)
	require.NoError(t, err)
	assert.True(t, v.IsBanned)
	assert.False(t, v.IsOnline)

	v, err = e.userSvc.SetBanned(ctx, admin, tenant.ID, false)
	require.NoError(t, err)
	assert.False(t, v.IsBanned)

	v, err = e.userSvc.Heartbeat(ctx, tenant)
	require.NoError(t, err)
	assert.True(t, v.OnlineNow)

	users, err := e.userSvc.List(ctx, admin, 0, 50)
	require.NoError(t, err)
	assert.Len(t, users, 2)
	_, err = e.userSvc.List(ctx, tenant, 0, 50)
	assert.ErrorIs(t, err, domain.ErrForbidden)
}
