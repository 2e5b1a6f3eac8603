// Package auth provides authentication for the cart API: bearer JWTs issued
// at login and a bcrypt-backed user directory.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// AuthMethod names how a request was authenticated.
type AuthMethod string

// AuthMethodBearer is a bearer JWT issued by this server at login.
const AuthMethodBearer AuthMethod = "bearer"

// AuthInfo is the identity attached to an authenticated request. Subject is
// the user ID that owns carts, addresses and orders.
type AuthInfo struct {
	Method  AuthMethod
	Subject string
	Claims  map[string]any
}

// Email returns the email claim, if any.
func (i *AuthInfo) Email() string {
	email, _ := i.Claims[ClaimEmail].(string)
	return email
}

// Authenticator resolves the identity behind a request. It returns
// ErrUnauthenticated when the request carries no credential at all.
type Authenticator interface {
	Authenticate(r *http.Request) (*AuthInfo, error)
	Method() AuthMethod
}

// Sentinel errors for authentication failures.
var (
	ErrUnauthenticated    = errors.New("unauthenticated: no credentials provided")
	ErrInvalidToken       = errors.New("invalid token")
	ErrExpiredToken       = errors.New("token has expired")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserExists         = errors.New("user already exists")
	ErrInvalidOTP         = errors.New("invalid or expired one-time password")
	ErrNotVerified        = errors.New("account is not verified")
)

type contextKey struct{}

// FromContext returns the identity stored by the auth middleware.
func FromContext(ctx context.Context) (*AuthInfo, bool) {
	info, ok := ctx.Value(contextKey{}).(*AuthInfo)
	return info, ok
}

// WithAuthInfo returns a copy of ctx carrying info.
func WithAuthInfo(ctx context.Context, info *AuthInfo) context.Context {
	return context.WithValue(ctx, contextKey{}, info)
}

// bearerToken extracts the token from an "Authorization: Bearer" header.
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}

	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}

	token = strings.TrimSpace(token)
	return token, token != ""
}
