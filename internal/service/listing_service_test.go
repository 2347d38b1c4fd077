package service_test

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"househunter/internal/domain"
	"househunter/internal/realtime"
	"househunter/internal/service"
	"househunter/internal/store/sqlite"
)

func listingInput() service.ListingInput {
	return service.ListingInput{
		Title:       "Bedsitter near Yaya Centre",
		Description: "Quiet compound, water all week",
		Location:    "Kilimani",
		MonthlyRent: decimal.NewFromInt(15000),
		Deposit:     decimal.NewFromInt(15000),
		Images:      domain.StringList{"/api/uploads/a.jpg"},
		IsVacant:    ptr(true),
	}
}

func TestListingApprovalWorkflow(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, &MockGateway{}, service.PaymentOptions{})
	landlord := e.user(t, "landlord", domain.RoleLandlord)
	admin := e.user(t, "admin", domain.RoleAdmin)

	in := listingInput()
	l, err := e.listingSvc.Create(ctx, landlord, in)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, l.ApprovalStatus)
	assert.Equal(t, domain.ReasonNewListing, l.PendingReason)
	assert.True(t, l.IsVacant)
	require.NotNil(t, l.LandlordID)
	assert.Equal(t, landlord.ID, *l.LandlordID)

	l, err = e.listingSvc.Approve(ctx, admin, l.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, l.ApprovalStatus)
	assert.Empty(t, l.PendingReason)

	l, err = e.listingSvc.Update(ctx, landlord, l.ID, service.ListingPatch{MonthlyRent: ptr(decimal.NewFromInt(17000))})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, l.ApprovalStatus)
	assert.Equal(t, "Edited fields: monthly rent", l.PendingReason)

	_, err = e.listingSvc.Approve(ctx, admin, l.ID)
	require.NoError(t, err)

	l, err = e.listingSvc.Update(ctx, landlord, l.ID, service.ListingPatch{IsVacant: ptr(false)})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, l.ApprovalStatus)
	assert.Equal(t, "Marked occupied by landlord", l.PendingReason)

	stored, err := e.listings.GetByID(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, stored.ApprovalStatus)
	assert.Equal(t, "Marked occupied by landlord", stored.PendingReason)
	assert.False(t, stored.IsVacant)
	assert.True(t, stored.MonthlyRent.Equal(decimal.NewFromInt(17000)))

	var seen []domain.ApprovalStatus
	for _, ev := range e.pub.on(realtime.ListingStatusTopic(landlord.ID)) {
		seen = append(seen, ev.(realtime.ListingStatus).ApprovalStatus)
	}
	assert.Equal(t, []domain.ApprovalStatus{
		domain.StatusPending, domain.StatusApproved, domain.StatusPending, domain.StatusApproved, domain.StatusPending,
	}, seen)
}

func TestListingEditsOutsideApprovedKeepStatus(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, &MockGateway{}, service.PaymentOptions{})
	landlord := e.user(t, "landlord", domain.RoleLandlord)
	admin := e.user(t, "admin", domain.RoleAdmin)

	pending, err := e.listingSvc.Create(ctx, landlord, listingInput())
	require.NoError(t, err)
	pending, err = e.listingSvc.Update(ctx, landlord, pending.ID, service.ListingPatch{Title: ptr("Renamed")})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, pending.ApprovalStatus)
	assert.Equal(t, domain.ReasonNewListing, pending.PendingReason)

	rejected, err := e.listingSvc.Create(ctx, landlord, listingInput())
	require.NoError(t, err)
	rejected, err = e.listingSvc.Reject(ctx, admin, rejected.ID, "Photos are blurry")
	require.NoError(t, err)
	assert.Equal(t, "Photos are blurry", rejected.PendingReason)

	rejected, err = e.listingSvc.Update(ctx, landlord, rejected.ID, service.ListingPatch{IsVacant: ptr(false)})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRejected, rejected.ApprovalStatus)
	assert.Equal(t, domain.ReasonMarkedOccupied, rejected.PendingReason)

	unchanged, err := e.listingSvc.Update(ctx, landlord, rejected.ID, service.ListingPatch{Images: &domain.StringList{"/api/uploads/a.jpg"}})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRejected, unchanged.ApprovalStatus)
}

func TestAdminEditKeepsApproval(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, &MockGateway{}, service.PaymentOptions{})
	landlord := e.user(t, "landlord", domain.RoleLandlord)
	admin := e.user(t, "admin", domain.RoleAdmin)
	l := e.approvedListing(t, landlord, admin)

	l, err := e.listingSvc.Update(ctx, admin, l.ID, service.ListingPatch{Description: ptr("Fixed a typo")})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, l.ApprovalStatus)
}

func TestListingUpdateAuthorization(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, &MockGateway{}, service.PaymentOptions{})
	landlord := e.user(t, "landlord", domain.RoleLandlord)
	other := e.user(t, "other", domain.RoleLandlord)
	tenant := e.user(t, "tenant", domain.RoleTenant)

	l, err := e.listingSvc.Create(ctx, landlord, listingInput())
	require.NoError(t, err)

	_, err = e.listingSvc.Update(ctx, other, l.ID, service.ListingPatch{Title: ptr("Mine now")})
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = e.listingSvc.Update(ctx, tenant, l.ID, service.ListingPatch{Title: ptr("Mine now")})
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = e.listingSvc.Update(ctx, nil, l.ID, service.ListingPatch{Title: ptr("Mine now")})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	_, err = e.listingSvc.Create(ctx, tenant, listingInput())
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = e.listingSvc.Update(ctx, landlord, l.ID, service.ListingPatch{Title: ptr("  ")})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestAvailableDateMustBeCalendarDate(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, &MockGateway{}, service.PaymentOptions{})
	landlord := e.user(t, "landlord", domain.RoleLandlord)

	in := listingInput()
	in.AvailableDate = ptr("2025-01-01T00:00:00")
	_, err := e.listingSvc.Create(ctx, landlord, in)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	in.AvailableDate = ptr("2025-02-30")
	_, err = e.listingSvc.Create(ctx, landlord, in)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	in.AvailableDate = ptr("2025-03-01")
	l, err := e.listingSvc.Create(ctx, landlord, in)
	require.NoError(t, err)
	require.NotNil(t, l.AvailableDate)
	assert.Equal(t, "2025-03-01", *l.AvailableDate)

	_, err = e.listingSvc.Update(ctx, landlord, l.ID, service.ListingPatch{AvailableDate: ptr("next week")})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	l, err = e.listingSvc.Update(ctx, landlord, l.ID, service.ListingPatch{AvailableDate: ptr("")})
	require.NoError(t, err)
	assert.Nil(t, l.AvailableDate)
}

func TestCreateNamesLandlordServerSide(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, &MockGateway{}, service.PaymentOptions{})

	named := &domain.User{Username: "named", HashedPassword: "x", Role: domain.RoleLandlord, DisplayName: "Wanjiku"}
	require.NoError(t, e.users.Create(ctx, named))
	anon := e.user(t, "anon", domain.RoleLandlord)

	in := listingInput()
	in.LandlordName = "Someone Else"
	l, err := e.listingSvc.Create(ctx, named, in)
	require.NoError(t, err)
	assert.Equal(t, "Wanjiku", l.LandlordName)

	l, err = e.listingSvc.Create(ctx, anon, in)
	require.NoError(t, err)
	assert.Equal(t, "Someone Else", l.LandlordName)

	l, err = e.listingSvc.Create(ctx, anon, listingInput())
	require.NoError(t, err)
	assert.Equal(t, "Landlord", l.LandlordName)
}

// racingListings lets another writer update the row right before the
// first Update call lands.
type racingListings struct {
	*sqlite.ListingRepo
	once sync.Once
	race func()
}

func (r *racingListings) Update(ctx context.Context, l *domain.Listing) error {
	r.once.Do(r.race)
	return r.ListingRepo.Update(ctx, l)
}

func TestUpdateReappliesAfterConcurrentWrite(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, &MockGateway{}, service.PaymentOptions{})
	landlord := e.user(t, "landlord", domain.RoleLandlord)
	admin := e.user(t, "admin", domain.RoleAdmin)
	l := e.approvedListing(t, landlord, admin)

	repo := &racingListings{ListingRepo: e.listings}
	repo.race = func() {
		fresh, err := e.listings.GetByID(ctx, l.ID)
		require.NoError(t, err)
		fresh.Description = "Written concurrently"
		require.NoError(t, e.listings.Update(ctx, fresh))
	}
	svc := service.NewListingService(repo, e.pub)

	updated, err := svc.Update(ctx, landlord, l.ID, service.ListingPatch{Title: ptr("New title")})
	require.NoError(t, err)
	assert.Equal(t, "New title", updated.Title)
	assert.Equal(t, "Written concurrently", updated.Description)
	assert.Equal(t, domain.StatusPending, updated.ApprovalStatus)
	assert.Equal(t, "Edited fields: title", updated.PendingReason)
}

func TestListingVisibility(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, &MockGateway{}, service.PaymentOptions{})
	landlord := e.user(t, "landlord", domain.RoleLandlord)
	admin := e.user(t, "admin", domain.RoleAdmin)
	tenant := e.user(t, "tenant", domain.RoleTenant)

	approved := e.approvedListing(t, landlord, admin)
	pending, err := e.listingSvc.Create(ctx, landlord, listingInput())
	require.NoError(t, err)
	occupied := e.approvedListing(t, landlord, admin)
	_, err = e.listingSvc.Update(ctx, admin, occupied.ID, service.ListingPatch{IsVacant: ptr(false)})
	require.NoError(t, err)

	_, err = e.listingSvc.Get(ctx, nil, approved.ID)
	assert.NoError(t, err)
	_, err = e.listingSvc.Get(ctx, tenant, pending.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = e.listingSvc.Get(ctx, landlord, pending.ID)
	assert.NoError(t, err)
	_, err = e.listingSvc.Get(ctx, admin, pending.ID)
	assert.NoError(t, err)

	browse, err := e.listingSvc.Browse(ctx, "", 0, 50)
	require.NoError(t, err)
	require.Len(t, browse, 1)
	assert.Equal(t, approved.ID, browse[0].ID)

	browse, err = e.listingSvc.Browse(ctx, "KILIMANI", 0, 50)
	require.NoError(t, err)
	assert.Len(t, browse, 1)
	browse, err = e.listingSvc.Browse(ctx, "Karen", 0, 50)
	require.NoError(t, err)
	assert.Empty(t, browse)

	mine, err := e.listingSvc.Mine(ctx, landlord, 0, 50)
	require.NoError(t, err)
	assert.Len(t, mine, 3)

	queue, err := e.listingSvc.Pending(ctx, admin, 0, 50)
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.Equal(t, pending.ID, queue[0].ID)

	_, err = e.listingSvc.Pending(ctx, landlord, 0, 50)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = e.listingSvc.AdminList(ctx, admin, "archived", 0, 50)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestChangeStatus(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, &MockGateway{}, service.PaymentOptions{})
	landlord := e.user(t, "landlord", domain.RoleLandlord)
	admin := e.user(t, "admin", domain.RoleAdmin)

	pending, err := e.listingSvc.Create(ctx, landlord, listingInput())
	require.NoError(t, err)
	_, err = e.listingSvc.ChangeStatus(ctx, admin, pending.ID, domain.StatusApproved, "")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	l := e.approvedListing(t, landlord, admin)
	_, err = e.listingSvc.ChangeStatus(ctx, admin, l.ID, domain.StatusApproved, "")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = e.listingSvc.ChangeStatus(ctx, admin, l.ID, "archived", "")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = e.listingSvc.ChangeStatus(ctx, landlord, l.ID, domain.StatusRejected, "")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	l, err = e.listingSvc.ChangeStatus(ctx, admin, l.ID, domain.StatusRejected, "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRejected, l.ApprovalStatus)
	assert.Equal(t, "Changed to rejected by admin", l.PendingReason)

	l, err = e.listingSvc.ChangeStatus(ctx, admin, l.ID, domain.StatusPending, "Needs a second look")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, l.ApprovalStatus)
	assert.Equal(t, "Needs a second look", l.PendingReason)

	_, err = e.listingSvc.Approve(ctx, admin, l.ID)
	require.NoError(t, err)
	_, err = e.listingSvc.Approve(ctx, admin, l.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = e.listingSvc.Approve(ctx, admin, 9999)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDeletePublishesFavoritesCleanup(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, &MockGateway{}, service.PaymentOptions{})
	landlord := e.user(t, "landlord", domain.RoleLandlord)
	other := e.user(t, "other", domain.RoleLandlord)
	admin := e.user(t, "admin", domain.RoleAdmin)

	a, err := e.listingSvc.Create(ctx, landlord, listingInput())
	require.NoError(t, err)
	b, err := e.listingSvc.Create(ctx, landlord, listingInput())
	require.NoError(t, err)
	c, err := e.listingSvc.Create(ctx, landlord, listingInput())
	require.NoError(t, err)

	assert.ErrorIs(t, e.listingSvc.Delete(ctx, other, a.ID), domain.ErrForbidden)
	require.NoError(t, e.listingSvc.Delete(ctx, landlord, a.ID))
	assert.ErrorIs(t, e.listingSvc.Delete(ctx, landlord, a.ID), domain.ErrNotFound)

	deleted, err := e.listingSvc.BulkDelete(ctx, admin, []int64{b.ID, c.ID, 4242})
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{b.ID, c.ID}, deleted)

	events := e.pub.on(realtime.FavoritesCleanupTopic())
	require.Len(t, events, 2)
	assert.Equal(t, []int64{a.ID}, events[0].(realtime.ListingsDeleted).ListingIDs)
	assert.ElementsMatch(t, []int64{b.ID, c.ID}, events[1].(realtime.ListingsDeleted).ListingIDs)

	_, err = e.listingSvc.BulkDelete(ctx, landlord, []int64{b.ID})
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestRecordViewOnlyIncreases(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, &MockGateway{}, service.PaymentOptions{})
	landlord := e.user(t, "landlord", domain.RoleLandlord)
	admin := e.user(t, "admin", domain.RoleAdmin)
	l := e.approvedListing(t, landlord, admin)

	for want := int64(1); want <= 3; want++ {
		n, err := e.listingSvc.RecordView(ctx, l.ID)
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}

	_, err := e.listingSvc.Update(ctx, landlord, l.ID, service.ListingPatch{Title: ptr("Fresh title")})
	require.NoError(t, err)
	got, err := e.listingSvc.Get(ctx, landlord, l.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.ViewCount)

	_, err = e.listingSvc.RecordView(ctx, 9999)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
