package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"househunter/internal/domain"
	"househunter/internal/logger"
	"househunter/internal/realtime"
)

const (
	defaultLandlordName = "Landlord"
	maxUpdateAttempts   = 3
	availableDateLayout = "2006-01-02"
)

// ListingInput is the landlord-supplied content of a new listing. Status,
// ownership and counters are never taken from the client.
type ListingInput struct {
	Title         string
	Description   string
	Location      string
	ExactLocation string
	Size          string
	MonthlyRent   decimal.Decimal
	Deposit       decimal.Decimal
	AvailableDate *string
	Images        domain.StringList
	Amenities     domain.StringList
	ContactPhone  string
	ContactEmail  string
	IsVacant      *bool
	LandlordName  string
}

// ListingPatch is a partial update; nil fields are left unchanged. An
// empty AvailableDate clears the date.
type ListingPatch struct {
	Title         *string
	Description   *string
	Location      *string
	ExactLocation *string
	Size          *string
	MonthlyRent   *decimal.Decimal
	Deposit       *decimal.Decimal
	AvailableDate *string
	Images        *domain.StringList
	Amenities     *domain.StringList
	ContactPhone  *string
	ContactEmail  *string
	IsVacant      *bool
}

func (p ListingPatch) apply(l *domain.Listing) {
	setString := func(dst *string, v *string) {
		if v != nil {
			*dst = strings.TrimSpace(*v)
		}
	}
	setString(&l.Title, p.Title)
	setString(&l.Description, p.Description)
	setString(&l.Location, p.Location)
	setString(&l.ExactLocation, p.ExactLocation)
	setString(&l.Size, p.Size)
	setString(&l.ContactPhone, p.ContactPhone)
	setString(&l.ContactEmail, p.ContactEmail)
	if p.MonthlyRent != nil {
		l.MonthlyRent = *p.MonthlyRent
	}
	if p.Deposit != nil {
		l.Deposit = *p.Deposit
	}
	if p.AvailableDate != nil {
		if *p.AvailableDate == "" {
			l.AvailableDate = nil
		} else {
			d := *p.AvailableDate
			l.AvailableDate = &d
		}
	}
	if p.Images != nil {
		l.Images = *p.Images
	}
	if p.Amenities != nil {
		l.Amenities = *p.Amenities
	}
	if p.IsVacant != nil {
		l.IsVacant = *p.IsVacant
	}
}

// ListingService implements the listing approval workflow.
type ListingService struct {
	listings domain.ListingRepository
	pub      realtime.Publisher
}

func NewListingService(listings domain.ListingRepository, pub realtime.Publisher) *ListingService {
	return &ListingService{
		listings: listings,
		pub:      pub,
	}
}

func validateListing(l *domain.Listing) error {
	if l.Title == "" {
		return fmt.Errorf("title is required: %w", domain.ErrInvalidInput)
	}
	if l.Location == "" {
		return fmt.Errorf("location is required: %w", domain.ErrInvalidInput)
	}
	if l.MonthlyRent.IsNegative() || l.Deposit.IsNegative() {
		return fmt.Errorf("rent and deposit must not be negative: %w", domain.ErrInvalidInput)
	}
	if l.AvailableDate != nil {
		if _, err := time.Parse(availableDateLayout, *l.AvailableDate); err != nil {
			return fmt.Errorf("available_date must be YYYY-MM-DD: %w", domain.ErrInvalidInput)
		}
	}
	return nil
}

// ownerOf returns the id ownership checks compare against. Listings
// without a landlord belong to nobody but admins.
func ownerOf(l *domain.Listing) *int64 {
	if l.LandlordID != nil {
		return l.LandlordID
	}
	var none int64
	return &none
}

// Create stores a new listing as pending, owned by the caller.
func (s *ListingService) Create(ctx context.Context, actor *domain.User, in ListingInput) (*domain.Listing, error) {
	if err := domain.Authorize(actor, domain.ActionCreateListing, nil); err != nil {
		return nil, err
	}

	name := strings.TrimSpace(actor.DisplayName)
	if name == "" {
		name = strings.TrimSpace(in.LandlordName)
	}
	if name == "" {
		name = defaultLandlordName
	}
	landlordID := actor.ID

	l := &domain.Listing{
		Title:          strings.TrimSpace(in.Title),
		Description:    strings.TrimSpace(in.Description),
		Location:       strings.TrimSpace(in.Location),
		ExactLocation:  strings.TrimSpace(in.ExactLocation),
		Size:           strings.TrimSpace(in.Size),
		MonthlyRent:    in.MonthlyRent,
		Deposit:        in.Deposit,
		AvailableDate:  in.AvailableDate,
		Images:         in.Images,
		Amenities:      in.Amenities,
		ContactPhone:   strings.TrimSpace(in.ContactPhone),
		ContactEmail:   strings.TrimSpace(in.ContactEmail),
		IsVacant:       true,
		ApprovalStatus: domain.StatusPending,
		PendingReason:  domain.ReasonNewListing,
		LandlordID:     &landlordID,
		LandlordName:   name,
		LandlordUID:    actor.ExternalUID,
		LandlordEmail:  actor.Email,
	}
	if in.IsVacant != nil {
		l.IsVacant = *in.IsVacant
	}
	if l.AvailableDate != nil && strings.TrimSpace(*l.AvailableDate) == "" {
		l.AvailableDate = nil
	}
	if err := validateListing(l); err != nil {
		return nil, err
	}

	if err := s.listings.Create(ctx, l); err != nil {
		return nil, err
	}
	s.publishStatus(ctx, l)
	return l, nil
}

// Get returns an approved listing to anyone, and any listing to its
// owner or an admin. Other callers see not found.
func (s *ListingService) Get(ctx context.Context, actor *domain.User, id int64) (*domain.Listing, error) {
	l, err := s.listings.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if l.ApprovalStatus == domain.StatusApproved {
		return l, nil
	}
	if actor != nil && (actor.Role == domain.RoleAdmin || l.OwnedBy(actor.ID)) {
		return l, nil
	}
	return nil, domain.ErrNotFound
}

// Browse lists approved, vacant listings.
func (s *ListingService) Browse(ctx context.Context, search string, offset, limit int) ([]*domain.Listing, error) {
	return s.listings.List(ctx, domain.ListingFilter{
		Status:     domain.StatusApproved,
		VacantOnly: true,
		Search:     strings.TrimSpace(search),
		Offset:     offset,
		Limit:      limit,
	})
}

// Mine lists the caller's own listings in every status.
func (s *ListingService) Mine(ctx context.Context, actor *domain.User, offset, limit int) ([]*domain.Listing, error) {
	if err := domain.Authorize(actor, domain.ActionCreateListing, nil); err != nil {
		return nil, err
	}
	return s.listings.List(ctx, domain.ListingFilter{
		LandlordID: actor.ID,
		Offset:     offset,
		Limit:      limit,
	})
}

// AdminList lists every listing, optionally narrowed to one status.
func (s *ListingService) AdminList(ctx context.Context, actor *domain.User, status domain.ApprovalStatus, offset, limit int) ([]*domain.Listing, error) {
	if err := domain.Authorize(actor, domain.ActionModerateListing, nil); err != nil {
		return nil, err
	}
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("unknown approval status %q: %w", status, domain.ErrInvalidInput)
	}
	return s.listings.List(ctx, domain.ListingFilter{
		Status: status,
		Offset: offset,
		Limit:  limit,
	})
}

func (s *ListingService) Pending(ctx context.Context, actor *domain.User, offset, limit int) ([]*domain.Listing, error) {
	return s.AdminList(ctx, actor, domain.StatusPending, offset, limit)
}

// Update applies a partial edit. A landlord edit to an approved listing
// sends it back to review; admin edits keep the status. Concurrent
// writers are detected through the listing version and the edit is
// re-applied to the fresh row.
func (s *ListingService) Update(ctx context.Context, actor *domain.User, id int64, patch ListingPatch) (*domain.Listing, error) {
	for attempt := 1; attempt <= maxUpdateAttempts; attempt++ {
		l, err := s.listings.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := domain.Authorize(actor, domain.ActionEditListing, ownerOf(l)); err != nil {
			return nil, err
		}

		before := domain.SnapshotListing(l)
		patch.apply(l)
		if err := validateListing(l); err != nil {
			return nil, err
		}
		changes := before.Diff(domain.SnapshotListing(l))
		if changes.Empty() {
			return l, nil
		}

		statusChanged := false
		if actor.Role != domain.RoleAdmin {
			statusChanged = domain.ApplyLandlordEdit(l, changes)
		}

		err = s.listings.Update(ctx, l)
		if errors.Is(err, domain.ErrConflict) {
			logger.FromContext(ctx).Debug("listing changed underneath update, retrying",
				zap.Int64("listing_id", id), zap.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return nil, err
		}

		if statusChanged {
			logger.FromContext(ctx).Info("listing returned to review",
				zap.Int64("listing_id", l.ID), zap.String("reason", l.PendingReason))
			s.publishStatus(ctx, l)
		}
		return l, nil
	}
	return nil, fmt.Errorf("listing %d kept changing: %w", id, domain.ErrConflict)
}

// Delete removes one listing on behalf of its owner or an admin.
func (s *ListingService) Delete(ctx context.Context, actor *domain.User, id int64) error {
	l, err := s.listings.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := domain.Authorize(actor, domain.ActionEditListing, ownerOf(l)); err != nil {
		return err
	}
	deleted, err := s.listings.DeleteMany(ctx, []int64{id})
	if err != nil {
		return err
	}
	if len(deleted) == 0 {
		return domain.ErrNotFound
	}
	publish(ctx, s.pub, realtime.FavoritesCleanupTopic(), realtime.ListingsDeleted{ListingIDs: deleted})
	return nil
}

// BulkDelete removes several listings and announces all of them in one
// event. Ids that do not exist are skipped.
func (s *ListingService) BulkDelete(ctx context.Context, actor *domain.User, ids []int64) ([]int64, error) {
	if err := domain.Authorize(actor, domain.ActionModerateListing, nil); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no listing ids given: %w", domain.ErrInvalidInput)
	}
	deleted, err := s.listings.DeleteMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	if len(deleted) > 0 {
		publish(ctx, s.pub, realtime.FavoritesCleanupTopic(), realtime.ListingsDeleted{ListingIDs: deleted})
	}
	return deleted, nil
}

// Approve moves a pending listing to approved and clears its reason.
func (s *ListingService) Approve(ctx context.Context, actor *domain.User, id int64) (*domain.Listing, error) {
	return s.transition(ctx, actor, id, domain.StatusPending, domain.StatusApproved, "")
}

// Reject moves a pending listing to rejected, keeping reason when given.
func (s *ListingService) Reject(ctx context.Context, actor *domain.User, id int64, reason string) (*domain.Listing, error) {
	return s.transition(ctx, actor, id, domain.StatusPending, domain.StatusRejected, strings.TrimSpace(reason))
}

// ChangeStatus is the admin override for already-reviewed listings.
func (s *ListingService) ChangeStatus(ctx context.Context, actor *domain.User, id int64, target domain.ApprovalStatus, reason string) (*domain.Listing, error) {
	if err := domain.Authorize(actor, domain.ActionModerateListing, nil); err != nil {
		return nil, err
	}
	if !target.Valid() {
		return nil, fmt.Errorf("unknown approval status %q: %w", target, domain.ErrInvalidInput)
	}
	l, err := s.listings.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	current := l.ApprovalStatus
	if current != domain.StatusApproved && current != domain.StatusRejected {
		return nil, fmt.Errorf("only approved or rejected listings can change status, listing is %s: %w", current, domain.ErrInvalidInput)
	}
	if target == current {
		return nil, fmt.Errorf("listing is already %s: %w", current, domain.ErrInvalidInput)
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = fmt.Sprintf("Changed to %s by admin", target)
	}
	return s.transition(ctx, actor, id, current, target, reason)
}

func (s *ListingService) transition(ctx context.Context, actor *domain.User, id int64, from, to domain.ApprovalStatus, reason string) (*domain.Listing, error) {
	if err := domain.Authorize(actor, domain.ActionModerateListing, nil); err != nil {
		return nil, err
	}
	l, err := s.listings.SetApprovalStatus(ctx, id, from, to, reason)
	if errors.Is(err, domain.ErrConflict) {
		return nil, fmt.Errorf("listing is no longer %s: %w", from, domain.ErrInvalidInput)
	}
	if err != nil {
		return nil, err
	}
	logger.FromContext(ctx).Info("listing status changed",
		zap.Int64("listing_id", id),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.Int64("admin_id", actor.ID),
	)
	s.publishStatus(ctx, l)
	return l, nil
}

// RecordView bumps the view counter and returns the new value.
func (s *ListingService) RecordView(ctx context.Context, id int64) (int64, error) {
	return s.listings.IncrementViewCount(ctx, id)
}

func (s *ListingService) publishStatus(ctx context.Context, l *domain.Listing) {
	if l.LandlordID == nil {
		return
	}
	publish(ctx, s.pub, realtime.ListingStatusTopic(*l.LandlordID), realtime.ListingStatus{
		ListingID:      l.ID,
		ApprovalStatus: l.ApprovalStatus,
		IsVacant:       l.IsVacant,
		Reason:         l.PendingReason,
	})
}
