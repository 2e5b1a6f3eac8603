package auth

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/vyrodovalexey/cartsync/internal/model"
)

// DefaultIssuer is the iss claim of tokens issued by the cart API.
const DefaultIssuer = "cartsync"

// Claim names exposed through AuthInfo.Claims.
const (
	ClaimEmail    = "email"
	ClaimUsername = "username"
)

// ErrEmptySecret is returned when a TokenService is built without a key.
var ErrEmptySecret = errors.New("token secret must not be empty")

// Claims are the JWT claims issued at login.
type Claims struct {
	jwt.RegisteredClaims
	Email    string `json:"email"`
	Username string `json:"username,omitempty"`
}

// TokenService issues and verifies HS256 bearer tokens. It also serves as
// the request Authenticator for the API.
type TokenService struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

// NewTokenService creates a TokenService.
func NewTokenService(secret string, ttl time.Duration) (*TokenService, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	return &TokenService{
		secret: []byte(secret),
		ttl:    ttl,
		issuer: DefaultIssuer,
		now:    time.Now,
	}, nil
}

// Issue signs a token for user.
func (s *TokenService) Issue(user *model.User) (string, time.Time, error) {
	now := s.now()
	expiresAt := now.Add(s.ttl)

	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Issuer:    s.issuer,
			Subject:   user.ID.String(),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Email:    user.Email,
		Username: user.Username,
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing token: %w", err)
	}
	return token, expiresAt, nil
}

// Verify parses token and checks its signature, issuer and lifetime.
func (s *TokenService) Verify(token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	},
		jwt.WithIssuer(s.issuer),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Authenticate verifies the request's bearer token.
func (s *TokenService) Authenticate(r *http.Request) (*AuthInfo, error) {
	token, ok := bearerToken(r)
	if !ok {
		return nil, ErrUnauthenticated
	}

	claims, err := s.Verify(token)
	if err != nil {
		return nil, err
	}

	return &AuthInfo{
		Method:  AuthMethodBearer,
		Subject: claims.Subject,
		Claims: map[string]any{
			ClaimEmail:    claims.Email,
			ClaimUsername: claims.Username,
		},
	}, nil
}

// Method returns the authentication method type.
func (s *TokenService) Method() AuthMethod {
	return AuthMethodBearer
}
