package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// RegisterRequest is the body of POST /auth/register.
type RegisterRequest struct {
	Username string `json:"username" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

// VerifyOTPRequest is the body of POST /auth/verify-otp.
type VerifyOTPRequest struct {
	Email string `json:"email" validate:"required,email"`
	OTP   string `json:"otp" validate:"required"`
}

// User is the public profile of an account.
type User struct {
	ID       ID     `json:"id"`
	Username string `json:"username,omitempty"`
	Email    string `json:"email"`
	Role     string `json:"role,omitempty"`
}

// AuthResult is returned by login and OTP verification.
type AuthResult struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt,omitzero"`
	User      *User     `json:"user,omitempty"`
	Message   string    `json:"message,omitempty"`
}

// Address is a shipping address.
type Address struct {
	ID         ID     `json:"id"`
	FullName   string `json:"fullName" validate:"required"`
	Street     string `json:"street" validate:"required"`
	City       string `json:"city" validate:"required"`
	PostalCode string `json:"postalCode" validate:"required"`
	Country    string `json:"country" validate:"required"`
	Phone      string `json:"phone,omitempty"`
	IsDefault  bool   `json:"isDefault"`
}

// CheckoutRequest is the body of POST /checkout.
type CheckoutRequest struct {
	ShippingAddressID ID `json:"shippingAddressId" validate:"required"`
}

// Order statuses.
const (
	OrderStatusPending = "pending"
	OrderStatusPaid    = "paid"
)

// Order is created from a cart at checkout.
type Order struct {
	ID                ID              `json:"id"`
	Items             []CartItem      `json:"items"`
	Total             decimal.Decimal `json:"total"`
	ShippingAddressID ID              `json:"shippingAddressId"`
	Status            string          `json:"status"`
	CreatedAt         time.Time       `json:"createdAt"`
}
