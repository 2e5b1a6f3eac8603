package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/vyrodovalexey/cartsync/internal/model"
)

// ErrNoToken is returned when an authentication response carries no token.
var ErrNoToken = errors.New("authentication response carries no token")

// Login exchanges credentials for a bearer token.
func (c *Client) Login(ctx context.Context, email, password string) (*model.AuthResult, error) {
	return c.authenticate(ctx, "/auth/login", model.LoginRequest{
		Email:    email,
		Password: password,
	}, true)
}

// Register creates an account. Depending on the server it either returns a
// token right away or sends a one-time password to verify with VerifyOTP.
func (c *Client) Register(ctx context.Context, username, email, password string) (*model.AuthResult, error) {
	return c.authenticate(ctx, "/auth/register", model.RegisterRequest{
		Username: username,
		Email:    email,
		Password: password,
	}, false)
}

// VerifyOTP completes a login or registration with a one-time password.
func (c *Client) VerifyOTP(ctx context.Context, email, otp string) (*model.AuthResult, error) {
	return c.authenticate(ctx, "/auth/verify-otp", model.VerifyOTPRequest{
		Email: email,
		OTP:   otp,
	}, true)
}

func (c *Client) authenticate(ctx context.Context, path string, in any, requireToken bool) (*model.AuthResult, error) {
	raw, err := c.do(ctx, http.MethodPost, path, in)
	if err != nil {
		return nil, err
	}

	result, err := decodeObject[model.AuthResult](raw, dataOnly)
	if err != nil {
		return nil, fmt.Errorf("decoding auth response: %w", err)
	}
	if result == nil {
		result = &model.AuthResult{}
	}
	if requireToken && result.Token == "" {
		return nil, ErrNoToken
	}
	return result, nil
}

// Products lists the catalog.
func (c *Client) Products(ctx context.Context) ([]model.Product, error) {
	raw, err := c.do(ctx, http.MethodGet, "/products", nil)
	if err != nil {
		return nil, err
	}

	products, err := decodeProducts(raw)
	if err != nil {
		return nil, fmt.Errorf("decoding products: %w", err)
	}
	return products, nil
}

// Product returns one catalog product.
func (c *Client) Product(ctx context.Context, id model.ID) (*model.Product, error) {
	raw, err := c.do(ctx, http.MethodGet, "/products/"+url.PathEscape(id.String()), nil)
	if err != nil {
		return nil, err
	}

	product, err := decodeObject[model.Product](raw, func(e *envelope) json.RawMessage {
		return e.Data
	})
	if err != nil {
		return nil, fmt.Errorf("decoding product: %w", err)
	}
	if product == nil || product.ID.IsZero() {
		return nil, fmt.Errorf("%w: product %s", ErrUnexpectedBody, id)
	}
	return product, nil
}

// Addresses lists the user's shipping addresses.
func (c *Client) Addresses(ctx context.Context) ([]model.Address, error) {
	raw, err := c.do(ctx, http.MethodGet, "/user/addresses", nil)
	if err != nil {
		return nil, err
	}

	addresses, err := decodeAddresses(raw)
	if err != nil {
		return nil, fmt.Errorf("decoding addresses: %w", err)
	}
	return addresses, nil
}

// AddAddress stores a new shipping address.
func (c *Client) AddAddress(ctx context.Context, address model.Address) (*model.Address, error) {
	raw, err := c.do(ctx, http.MethodPost, "/user/addresses", address)
	if err != nil {
		return nil, err
	}

	created, err := decodeObject[model.Address](raw, dataOnly)
	if err != nil {
		return nil, fmt.Errorf("decoding address: %w", err)
	}
	if created == nil {
		return &address, nil
	}
	return created, nil
}

// Checkout creates an order from the server cart. The server empties the
// cart once the order exists.
func (c *Client) Checkout(ctx context.Context, shippingAddressID model.ID) (*model.Order, error) {
	raw, err := c.do(ctx, http.MethodPost, "/checkout", model.CheckoutRequest{
		ShippingAddressID: shippingAddressID,
	})
	if err != nil {
		return nil, err
	}

	order, err := decodeObject[model.Order](raw, func(e *envelope) json.RawMessage {
		if len(e.Order) > 0 {
			return e.Order
		}
		return e.Data
	})
	if err != nil {
		return nil, fmt.Errorf("decoding order: %w", err)
	}
	if order == nil {
		return &model.Order{}, nil
	}
	return order, nil
}
