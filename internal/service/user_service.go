package service

import (
	"context"
	"fmt"
	"time"

	"househunter/internal/domain"
	"househunter/internal/realtime"
)

// UserView is a user as returned by the API, with both presence signals.
type UserView struct {
	*domain.User
	OnlineNow bool `json:"online_now"`
}

// UserService provides account management for admins and self-service.
type UserService struct {
	users        domain.UserRepository
	pub          realtime.Publisher
	onlineWindow time.Duration
	now          func() time.Time
}

func NewUserService(users domain.UserRepository, pub realtime.Publisher, onlineWindow time.Duration) *UserService {
	return &UserService{
		users:        users,
		pub:          pub,
		onlineWindow: onlineWindow,
		now:          time.Now,
	}
}

func (s *UserService) View(u *domain.User) UserView {
	return UserView{User: u, OnlineNow: u.ActiveWithin(s.now(), s.onlineWindow)}
}

func (s *UserService) Get(ctx context.Context, id int64) (UserView, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return UserView{}, err
	}
	return s.View(u), nil
}

func (s *UserService) List(ctx context.Context, actor *domain.User, offset, limit int) ([]UserView, error) {
	if err := domain.Authorize(actor, domain.ActionManageUsers, nil); err != nil {
		return nil, err
	}
	users, err := s.users.List(ctx, offset, limit)
	if err != nil {
		return nil, err
	}
	out := make([]UserView, 0, len(users))
	for _, u := range users {
		out = append(out, s.View(u))
	}
	return out, nil
}

// Heartbeat refreshes the caller's last_seen.
func (s *UserService) Heartbeat(ctx context.Context, actor *domain.User) (UserView, error) {
	if actor == nil {
		return UserView{}, domain.ErrUnauthorized
	}
	if err := s.users.TouchLastSeen(ctx, actor.ID); err != nil {
		return UserView{}, err
	}
	return s.Get(ctx, actor.ID)
}

// SetBanned bans or unbans a non-admin account.
func (s *UserService) SetBanned(ctx context.Context, actor *domain.User, id int64, banned bool) (UserView, error) {
	if err := domain.Authorize(actor, domain.ActionManageUsers, nil); err != nil {
		return UserView{}, err
	}
	target, err := s.users.GetByID(ctx, id)
	if err != nil {
		return UserView{}, err
	}
	if target.Role == domain.RoleAdmin {
		return UserView{}, fmt.Errorf("admin accounts cannot be banned: %w", domain.ErrForbidden)
	}
	if err := s.users.SetBanned(ctx, id, banned); err != nil {
		return UserView{}, err
	}
	return s.Get(ctx, id)
}

// Delete removes a non-admin account. Admins may delete anyone else;
// other users may only delete themselves. The deleted user's listings go
// with it and connected clients are told to drop them.
func (s *UserService) Delete(ctx context.Context, actor *domain.User, id int64) ([]int64, error) {
	if actor == nil {
		return nil, domain.ErrUnauthorized
	}
	if actor.ID != id {
		if err := domain.Authorize(actor, domain.ActionManageUsers, nil); err != nil {
			return nil, err
		}
	}
	target, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if target.Role == domain.RoleAdmin {
		return nil, fmt.Errorf("admin accounts cannot be deleted: %w", domain.ErrForbidden)
	}
	listingIDs, err := s.users.Delete(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(listingIDs) > 0 {
		publish(ctx, s.pub, realtime.FavoritesCleanupTopic(), realtime.ListingsDeleted{ListingIDs: listingIDs})
	}
	return listingIDs, nil
}
