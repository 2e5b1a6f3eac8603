package model

import (
	"github.com/shopspring/decimal"
)

// MinQuantity is the smallest quantity a cart line may hold.
const MinQuantity = 1

// CartItem is one product line in a cart. For a guest cart ID is generated
// locally; for a server cart it is the server-assigned row identifier.
type CartItem struct {
	ID        ID              `json:"id"`
	ProductID ID              `json:"productId"`
	Product   Product         `json:"product"`
	Quantity  int             `json:"quantity"`
	VariantID ID              `json:"variantId,omitempty"`
	Price     decimal.Decimal `json:"price,omitzero"`
}

// ItemKey identifies a cart line for merge purposes.
type ItemKey struct {
	ProductID ID
	VariantID ID
}

// Key returns the merge key of the item.
func (i *CartItem) Key() ItemKey {
	return ItemKey{ProductID: i.ProductID, VariantID: i.VariantID}
}

// UnitPrice returns the snapshot product price, falling back to the server
// line price when the snapshot carries none.
func (i *CartItem) UnitPrice() decimal.Decimal {
	if !i.Product.Price.IsZero() || i.Price.IsZero() {
		return i.Product.Price
	}
	return i.Price
}

// LineTotal returns price times quantity.
func (i *CartItem) LineTotal() decimal.Decimal {
	return i.UnitPrice().Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Aggregates are values derived from the current item list.
type Aggregates struct {
	Count int             `json:"count"`
	Total decimal.Decimal `json:"total"`
}

// ComputeAggregates sums quantities and line totals over items.
func ComputeAggregates(items []CartItem) Aggregates {
	agg := Aggregates{Total: decimal.Zero}
	for i := range items {
		agg.Count += items[i].Quantity
		agg.Total = agg.Total.Add(items[i].LineTotal())
	}
	return agg
}

// CloneItems returns a deep enough copy of items for handing out snapshots.
func CloneItems(items []CartItem) []CartItem {
	out := make([]CartItem, len(items))
	for i := range items {
		out[i] = items[i]
		if items[i].Product.Images != nil {
			out[i].Product.Images = append([]ProductImage(nil), items[i].Product.Images...)
		}
	}
	return out
}

// CartView is the cart representation returned by the reference server.
type CartView struct {
	Items []CartItem `json:"items"`
	Aggregates
}

// AddCartItemRequest is the body of POST /cart.
type AddCartItemRequest struct {
	ProductID ID  `json:"productId" validate:"required"`
	Quantity  int `json:"quantity" validate:"min=1"`
	VariantID ID  `json:"variantId,omitempty"`
}

// UpdateCartItemRequest is the body of PUT /cart/{itemId}.
type UpdateCartItemRequest struct {
	Quantity int `json:"quantity" validate:"min=1"`
}
