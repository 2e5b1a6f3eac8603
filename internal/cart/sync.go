package cart

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/vyrodovalexey/cartsync/internal/client"
	"github.com/vyrodovalexey/cartsync/internal/model"
)

// Remote is the server cart resource.
type Remote interface {
	// FetchCart returns the authenticated user's cart items.
	FetchCart(ctx context.Context) ([]model.CartItem, error)

	// AddItem creates or increments a cart line.
	AddItem(ctx context.Context, productID model.ID, quantity int) error

	// UpdateItem sets a line's quantity. The returned row may be nil when the
	// server does not echo it.
	UpdateItem(ctx context.Context, itemID model.ID, quantity int) (*model.CartItem, error)

	// RemoveItem deletes a line.
	RemoveItem(ctx context.Context, itemID model.ID) error
}

// ServerSync mirrors Store mutations to the server cart while authenticated
// and refreshes the Store from the server's state.
type ServerSync struct {
	remote Remote
	store  *Store
	logger *zap.Logger
}

// NewServerSync creates a ServerSync.
func NewServerSync(remote Remote, store *Store, logger *zap.Logger) *ServerSync {
	return &ServerSync{
		remote: remote,
		store:  store,
		logger: logger,
	}
}

// FetchRemoteCart replaces the Store's items with the server's.
func (s *ServerSync) FetchRemoteCart(ctx context.Context) error {
	items, err := s.remote.FetchCart(ctx)
	observeSync("fetch", err)
	if err != nil {
		s.logger.Warn("failed to fetch server cart", zap.Error(err))
		return networkFailure("fetch cart", err)
	}

	s.store.Replace(items)
	return nil
}

// AddItem creates the line on the server, then adopts the server's cart so
// the Store carries server ids and prices. A failed add is followed by a
// fetch as well, since the server may have applied it.
func (s *ServerSync) AddItem(ctx context.Context, productID model.ID, quantity int) error {
	if quantity < model.MinQuantity {
		return ErrInvalidQuantity
	}

	err := s.remote.AddItem(ctx, productID, quantity)
	observeSync("add", err)
	if err != nil {
		s.logger.Warn("failed to add item to server cart",
			zap.String("product_id", productID.String()),
			zap.Int("quantity", quantity),
			zap.Error(err),
		)
		if syncErr := s.FetchRemoteCart(ctx); syncErr != nil {
			return errors.Join(networkFailure("add item", err), syncErr)
		}
		return networkFailure("add item", err)
	}

	return s.FetchRemoteCart(ctx)
}

// UpdateQuantity applies the quantity optimistically, then confirms it with
// the server. On failure the Store is resynchronized from the server.
func (s *ServerSync) UpdateQuantity(ctx context.Context, itemID model.ID, quantity int) error {
	if _, err := s.store.SetQuantity(itemID, quantity); err != nil {
		return err
	}

	updated, err := s.remote.UpdateItem(ctx, itemID, quantity)
	observeSync("update", err)
	if err != nil {
		s.logger.Warn("failed to update server cart item, resyncing",
			zap.String("item_id", itemID.String()),
			zap.Int("quantity", quantity),
			zap.Error(err),
		)
		if syncErr := s.FetchRemoteCart(ctx); syncErr != nil {
			return errors.Join(networkFailure("update item", err), syncErr)
		}
		return networkFailure("update item", err)
	}

	if updated != nil && updated.ID == itemID {
		s.store.Upsert(*updated)
		return nil
	}
	// A fetch from a concurrent add may have replaced the optimistic value
	// while the request was in flight.
	if _, err := s.store.SetQuantity(itemID, quantity); err != nil && !errors.Is(err, ErrItemNotFound) {
		return err
	}
	return nil
}

// RemoveItem deletes the line on the server and then locally. A line the
// server no longer knows is removed locally as well. Other failures leave
// the Store unchanged.
func (s *ServerSync) RemoveItem(ctx context.Context, itemID model.ID) error {
	err := s.remote.RemoveItem(ctx, itemID)
	if err != nil && errors.Is(err, client.ErrNotFound) {
		s.logger.Debug("server cart item already gone", zap.String("item_id", itemID.String()))
		err = nil
	}
	observeSync("remove", err)
	if err != nil {
		s.logger.Warn("failed to remove server cart item",
			zap.String("item_id", itemID.String()),
			zap.Error(err),
		)
		return networkFailure("remove item", err)
	}

	s.store.Remove(itemID)
	return nil
}
