// Package store provides the reference server's data storage: per-user
// carts, the product catalog, shipping addresses and orders.
package store

import (
	"context"
	"errors"

	"github.com/vyrodovalexey/cartsync/internal/model"
)

// Store errors.
var (
	ErrNotFound          = errors.New("cart item not found")
	ErrProductNotFound   = errors.New("product not found")
	ErrAddressNotFound   = errors.New("address not found")
	ErrInvalidID         = errors.New("invalid ID")
	ErrInvalidOwner      = errors.New("owner cannot be empty")
	ErrInvalidQuantity   = errors.New("quantity must be at least 1")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrEmptyCart         = errors.New("cart is empty")
)

// Carts stores one cart per owner. Lines are unique per product.
type Carts interface {
	// Items returns the owner's cart lines in insertion order.
	Items(ctx context.Context, owner string) ([]model.CartItem, error)

	// AddItem adds quantity of a product, merging into an existing line.
	AddItem(ctx context.Context, owner string, productID model.ID, quantity int) (*model.CartItem, error)

	// SetQuantity replaces a line's quantity.
	SetQuantity(ctx context.Context, owner string, itemID model.ID, quantity int) (*model.CartItem, error)

	// RemoveItem deletes a line.
	RemoveItem(ctx context.Context, owner string, itemID model.ID) error
}

// Catalog stores products.
type Catalog interface {
	Products(ctx context.Context) ([]model.Product, error)
	Product(ctx context.Context, id model.ID) (*model.Product, error)
	PutProduct(ctx context.Context, product model.Product) error
}

// Addresses stores shipping addresses per owner.
type Addresses interface {
	Addresses(ctx context.Context, owner string) ([]model.Address, error)
	AddAddress(ctx context.Context, owner string, address model.Address) (*model.Address, error)
}

// Orders turns carts into orders.
type Orders interface {
	// Checkout creates an order from the owner's cart and empties the cart.
	Checkout(ctx context.Context, owner string, shippingAddressID model.ID) (*model.Order, error)

	Orders(ctx context.Context, owner string) ([]model.Order, error)
}

// Store is the full storage surface used by the HTTP handlers.
type Store interface {
	Carts
	Catalog
	Addresses
	Orders
}
