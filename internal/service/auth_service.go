package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"househunter/internal/domain"
	"househunter/internal/security"
)

// AuthService handles registration, login, logout and token resolution.
type AuthService struct {
	users  domain.UserRepository
	tokens *security.TokenService
	hash   *security.PasswordHasher
}

func NewAuthService(users domain.UserRepository, tokens *security.TokenService, hash *security.PasswordHasher) *AuthService {
	return &AuthService{
		users:  users,
		tokens: tokens,
		hash:   hash,
	}
}

type RegisterInput struct {
	Username    string
	Email       string
	Password    string
	Role        domain.Role
	DisplayName string
}

type LoginInput struct {
	Username string
	Password string
}

type TokenResponse struct {
	AccessToken string       `json:"access_token"`
	TokenType   string       `json:"token_type"`
	User        *domain.User `json:"user"`
}

// Register creates a tenant or landlord account. Admin accounts are only
// created through CreateAdmin.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*domain.User, error) {
	in.Username = strings.TrimSpace(in.Username)
	if in.Username == "" || in.Password == "" {
		return nil, fmt.Errorf("username and password are required: %w", domain.ErrInvalidInput)
	}
	if len(in.Password) < 8 {
		return nil, fmt.Errorf("password must be at least 8 characters: %w", domain.ErrInvalidInput)
	}
	if in.Role == "" {
		in.Role = domain.RoleTenant
	}
	if in.Role != domain.RoleTenant && in.Role != domain.RoleLandlord {
		return nil, fmt.Errorf("role must be tenant or landlord: %w", domain.ErrInvalidInput)
	}
	return s.create(ctx, in)
}

// CreateAdmin bootstraps an administrator account.
func (s *AuthService) CreateAdmin(ctx context.Context, username, password string) (*domain.User, error) {
	if strings.TrimSpace(username) == "" || password == "" {
		return nil, fmt.Errorf("username and password are required: %w", domain.ErrInvalidInput)
	}
	return s.create(ctx, RegisterInput{Username: strings.TrimSpace(username), Password: password, Role: domain.RoleAdmin})
}

func (s *AuthService) create(ctx context.Context, in RegisterInput) (*domain.User, error) {
	_, err := s.users.GetByUsername(ctx, in.Username)
	switch {
	case err == nil:
		return nil, fmt.Errorf("username already registered: %w", domain.ErrConflict)
	case !errors.Is(err, domain.ErrNotFound):
		return nil, fmt.Errorf("check username: %w", err)
	}

	hashed, err := s.hash.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &domain.User{
		Username:       in.Username,
		Email:          strings.TrimSpace(in.Email),
		DisplayName:    strings.TrimSpace(in.DisplayName),
		HashedPassword: hashed,
		Role:           in.Role,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *AuthService) Login(ctx context.Context, in LoginInput) (*TokenResponse, error) {
	user, err := s.users.GetByUsername(ctx, strings.TrimSpace(in.Username))
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("incorrect username or password: %w", domain.ErrUnauthorized)
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if err := s.hash.Verify(in.Password, user.HashedPassword); err != nil {
		return nil, fmt.Errorf("incorrect username or password: %w", domain.ErrUnauthorized)
	}
	if user.IsBanned {
		return nil, domain.ErrBanned
	}

	if err := s.users.SetOnlineStatus(ctx, user.ID, true); err != nil {
		return nil, fmt.Errorf("set online: %w", err)
	}
	user.IsOnline = true

	token, err := s.tokens.CreateForUser(user)
	if err != nil {
		return nil, fmt.Errorf("create token: %w", err)
	}

	return &TokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
		User:        user,
	}, nil
}

func (s *AuthService) Logout(ctx context.Context, userID int64) error {
	return s.users.SetOnlineStatus(ctx, userID, false)
}

// Authenticate resolves a bearer token to its user. Banned users are
// rejected here so that no authenticated path is reachable for them.
func (s *AuthService) Authenticate(ctx context.Context, token string) (*domain.User, error) {
	if token == "" {
		return nil, domain.ErrUnauthorized
	}
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}
	user, err := s.users.GetByID(ctx, claims.UserID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("token subject no longer exists: %w", domain.ErrUnauthorized)
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if user.IsBanned {
		return nil, domain.ErrBanned
	}
	return user, nil
}
