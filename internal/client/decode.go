package client

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/vyrodovalexey/cartsync/internal/model"
)

// maxEnvelopeDepth bounds how many wrapper objects are unwrapped.
const maxEnvelopeDepth = 4

// envelope is the union of the wrapper shapes the API has been seen to use.
// Field matching in encoding/json is case-insensitive, so "CartItems" and
// "Product" keys from older backends decode into the same fields.
type envelope struct {
	Data      json.RawMessage `json:"data"`
	Items     json.RawMessage `json:"items"`
	CartItems json.RawMessage `json:"cartItems"`
	Cart      json.RawMessage `json:"cart"`
	Products  json.RawMessage `json:"products"`
	Addresses json.RawMessage `json:"addresses"`
	Order     json.RawMessage `json:"order"`
	Error     string          `json:"error"`
}

// decodeCartItems accepts a bare array, {items}, {cartItems},
// {cart:{...}} and the {success,data} envelope.
func decodeCartItems(raw []byte) ([]model.CartItem, error) {
	return decodeList[model.CartItem](raw, func(e *envelope) json.RawMessage {
		switch {
		case len(e.Items) > 0:
			return e.Items
		case len(e.CartItems) > 0:
			return e.CartItems
		case len(e.Cart) > 0:
			return e.Cart
		default:
			return e.Data
		}
	})
}

func decodeProducts(raw []byte) ([]model.Product, error) {
	return decodeList[model.Product](raw, func(e *envelope) json.RawMessage {
		if len(e.Products) > 0 {
			return e.Products
		}
		if len(e.Items) > 0 {
			return e.Items
		}
		return e.Data
	})
}

func decodeAddresses(raw []byte) ([]model.Address, error) {
	return decodeList[model.Address](raw, func(e *envelope) json.RawMessage {
		if len(e.Addresses) > 0 {
			return e.Addresses
		}
		return e.Data
	})
}

// decodeList unwraps raw until it reaches a JSON array and decodes it. An
// empty body or a null yields an empty list.
func decodeList[T any](raw []byte, next func(*envelope) json.RawMessage) ([]T, error) {
	for depth := 0; depth <= maxEnvelopeDepth; depth++ {
		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
			return []T{}, nil
		}

		switch raw[0] {
		case '[':
			var out []T
			if err := json.Unmarshal(raw, &out); err != nil {
				return nil, fmt.Errorf("decoding list: %w", err)
			}
			return out, nil
		case '{':
			var env envelope
			if err := json.Unmarshal(raw, &env); err != nil {
				return nil, fmt.Errorf("decoding envelope: %w", err)
			}
			inner := next(&env)
			if len(inner) == 0 {
				return []T{}, nil
			}
			raw = inner
		default:
			return nil, fmt.Errorf("%w: %.32q", ErrUnexpectedBody, raw)
		}
	}

	return nil, fmt.Errorf("%w: nested too deeply", ErrUnexpectedBody)
}

// decodeObject unwraps the {success,data} envelope, or a named wrapper key
// picked by next, and decodes the object inside.
func decodeObject[T any](raw []byte, next func(*envelope) json.RawMessage) (*T, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if raw[0] != '{' {
		return nil, fmt.Errorf("%w: %.32q", ErrUnexpectedBody, raw)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err == nil {
		if inner := next(&env); len(bytes.TrimSpace(inner)) > 0 && bytes.TrimSpace(inner)[0] == '{' {
			raw = inner
		}
	}

	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decoding object: %w", err)
	}
	return &out, nil
}

func dataOnly(e *envelope) json.RawMessage {
	return e.Data
}
