package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/vyrodovalexey/cartsync/internal/model"
)

type addItemRequest struct {
	ProductID model.ID `json:"productId"`
	Quantity  int      `json:"quantity"`
}

type updateItemRequest struct {
	Quantity int `json:"quantity"`
}

// FetchCart returns the authenticated user's cart items.
func (c *Client) FetchCart(ctx context.Context) ([]model.CartItem, error) {
	raw, err := c.do(ctx, http.MethodGet, "/cart", nil)
	if err != nil {
		return nil, err
	}

	items, err := decodeCartItems(raw)
	if err != nil {
		return nil, fmt.Errorf("decoding cart: %w", err)
	}
	return items, nil
}

// AddItem creates a cart line or increments an existing one.
func (c *Client) AddItem(ctx context.Context, productID model.ID, quantity int) error {
	_, err := c.do(ctx, http.MethodPost, "/cart", addItemRequest{
		ProductID: productID,
		Quantity:  quantity,
	})
	return err
}

// UpdateItem sets a line's quantity. It returns the updated row when the
// server echoes one, nil otherwise.
func (c *Client) UpdateItem(ctx context.Context, itemID model.ID, quantity int) (*model.CartItem, error) {
	raw, err := c.do(ctx, http.MethodPut, "/cart/"+url.PathEscape(itemID.String()), updateItemRequest{
		Quantity: quantity,
	})
	if err != nil {
		return nil, err
	}

	item, err := decodeObject[model.CartItem](raw, dataOnly)
	if err != nil || item == nil || item.ID.IsZero() {
		// The update itself succeeded; an unusable echo is ignored.
		return nil, nil
	}
	if item.ProductID.IsZero() {
		item.ProductID = item.Product.ID
	}
	return item, nil
}

// RemoveItem deletes a cart line.
func (c *Client) RemoveItem(ctx context.Context, itemID model.ID) error {
	_, err := c.do(ctx, http.MethodDelete, "/cart/"+url.PathEscape(itemID.String()), nil)
	return err
}
