package security

import (
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"househunter/internal/domain"
)

// TokenService wraps JWT creation and validation.
type TokenService struct {
	secret    []byte
	expiresIn time.Duration
}

// Claims is what a validated token yields about its bearer.
type Claims struct {
	UserID int64
	Role   domain.Role
}

func NewTokenService(secret string, expiresIn time.Duration) *TokenService {
	return &TokenService{
		secret:    []byte(secret),
		expiresIn: expiresIn,
	}
}

// CreateForUser creates a JWT for the given user using the default TTL.
func (t *TokenService) CreateForUser(u *domain.User) (string, error) {
	return t.CreateWithTTL(u, t.expiresIn)
}

// CreateWithTTL creates a JWT for the given user with an explicit TTL.
func (t *TokenService) CreateWithTTL(u *domain.User, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":  strconv.FormatInt(u.ID, 10),
		"role": string(u.Role),
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.secret)
}

// Parse validates a token and returns its claims.
func (t *TokenService) Parse(tokenStr string) (*Claims, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return t.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, jwt.ErrSignatureInvalid
	}
	mc, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, jwt.ErrTokenMalformed
	}
	sub, err := mc.GetSubject()
	if err != nil || sub == "" {
		return nil, jwt.ErrTokenInvalidSubject
	}
	id, err := strconv.ParseInt(sub, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", jwt.ErrTokenInvalidSubject, err)
	}
	role, _ := mc["role"].(string)
	return &Claims{UserID: id, Role: domain.Role(role)}, nil
}
