package model

import (
	"errors"

	"github.com/shopspring/decimal"
)

// Validation errors for Product.
var (
	ErrEmptyProductID = errors.New("product id cannot be empty")
	ErrEmptyName      = errors.New("name cannot be empty")
	ErrNameTooLong    = errors.New("name cannot exceed 255 characters")
	ErrNegativePrice  = errors.New("price cannot be negative")
)

// MaxNameLength is the longest product name accepted.
const MaxNameLength = 255

// ProductImage is one image attached to a product.
type ProductImage struct {
	ImageURL string `json:"imageUrl"`
}

// Product is the display snapshot of a catalog product carried inside cart
// items. The snapshot may lag behind the server's live price.
type Product struct {
	ID       ID              `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	ImageURL string          `json:"imageUrl,omitempty"`
	Images   []ProductImage  `json:"productImages,omitempty"`
	Stock    int             `json:"stock,omitempty"`
}

// Validate checks if the Product has valid field values.
func (p *Product) Validate() error {
	if p.ID.IsZero() {
		return ErrEmptyProductID
	}

	if p.Name == "" {
		return ErrEmptyName
	}

	if len(p.Name) > MaxNameLength {
		return ErrNameTooLong
	}

	if p.Price.IsNegative() {
		return ErrNegativePrice
	}

	return nil
}

// PrimaryImage returns the first known image URL, or an empty string.
func (p *Product) PrimaryImage() string {
	if p.ImageURL != "" {
		return p.ImageURL
	}
	if len(p.Images) > 0 {
		return p.Images[0].ImageURL
	}
	return ""
}
