package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/vyrodovalexey/cartsync/internal/localstore"
	"github.com/vyrodovalexey/cartsync/internal/model"
)

// GuestCartKey is the storage key holding the serialized guest cart.
const GuestCartKey = "cart"

// GuestPersistence stores the cart in local durable storage while no session
// exists. Every save overwrites the whole list.
type GuestPersistence struct {
	storage localstore.Storage
	key     string
	logger  *zap.Logger
}

// NewGuestPersistence creates a guest adapter writing under GuestCartKey.
func NewGuestPersistence(storage localstore.Storage, logger *zap.Logger) *GuestPersistence {
	return &GuestPersistence{
		storage: storage,
		key:     GuestCartKey,
		logger:  logger,
	}
}

// Load reads the guest cart. Missing or malformed data yields an empty cart.
func (g *GuestPersistence) Load(ctx context.Context) []model.CartItem {
	data, err := g.storage.Get(ctx, g.key)
	if err != nil {
		if !errors.Is(err, localstore.ErrNotFound) {
			g.logger.Warn("failed to read guest cart, starting empty", zap.Error(err))
		}
		return nil
	}

	var items []model.CartItem
	if err := json.Unmarshal(data, &items); err != nil {
		g.logger.Warn("malformed guest cart, starting empty",
			zap.Int("bytes", len(data)),
			zap.Error(err),
		)
		return nil
	}

	return items
}

// Save overwrites the stored guest cart with items.
func (g *GuestPersistence) Save(ctx context.Context, items []model.CartItem) error {
	if items == nil {
		items = []model.CartItem{}
	}

	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encoding guest cart: %w", err)
	}

	if err := g.storage.Set(ctx, g.key, data); err != nil {
		return fmt.Errorf("writing guest cart: %w", err)
	}
	return nil
}

// Clear removes the stored guest cart.
func (g *GuestPersistence) Clear(ctx context.Context) error {
	if err := g.storage.Delete(ctx, g.key); err != nil {
		return fmt.Errorf("clearing guest cart: %w", err)
	}
	return nil
}
