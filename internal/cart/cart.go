// Package cart implements the storefront cart reconciliation engine. It keeps
// a guest cart held in local durable storage and the authenticated server
// cart consistent across login, logout, optimistic updates and network
// failures, and exposes one view of items, totals and counts.
//
// Cart is the only entry point for presentation code:
//
//	c, _ := cart.New(cart.Options{Remote: apiClient, Storage: storage, Logger: logger})
//	_ = c.Start(ctx, tracker.Authenticated())
//	unsubscribe := c.Observe(tracker)
//	_ = c.AddToCart(ctx, product, 2, "")
//	fmt.Println(c.Count(), c.Total())
package cart

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vyrodovalexey/cartsync/internal/client"
	"github.com/vyrodovalexey/cartsync/internal/localstore"
	"github.com/vyrodovalexey/cartsync/internal/model"
)

// Configuration errors.
var (
	ErrNilRemote  = errors.New("cart: remote must not be nil")
	ErrNilStorage = errors.New("cart: storage must not be nil")
)

// SessionSignal is the credential-presence signal that drives session
// transitions.
type SessionSignal interface {
	Authenticated() bool
	Subscribe(fn func(ctx context.Context, authenticated bool)) func()
}

// Options configures a Cart.
type Options struct {
	Remote  Remote
	Storage localstore.Storage
	Logger  *zap.Logger

	// OnUnauthorized runs after an operation failed with
	// client.ErrUnauthorized, typically clearing the stored credential.
	OnUnauthorized func(ctx context.Context)
}

// Cart is the cart's public interface. It is safe for concurrent use.
type Cart struct {
	store   *Store
	guest   *GuestPersistence
	sync    *ServerSync
	session *SessionHandler
	logger  *zap.Logger

	// modeMu is held shared by mutations and exclusively by session
	// transitions, so no mutation interleaves with a migration.
	modeMu sync.RWMutex
	locks  *keyedMutex

	loading        atomic.Bool
	onUnauthorized func(ctx context.Context)

	transitionMu   sync.Mutex
	lastMigration  *MigrationReport
	lastTransition error
}

// New creates a Cart in the Guest state. Call Start to rehydrate it.
func New(opts Options) (*Cart, error) {
	if opts.Remote == nil {
		return nil, ErrNilRemote
	}
	if opts.Storage == nil {
		return nil, ErrNilStorage
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	store := NewStore()
	guest := NewGuestPersistence(opts.Storage, logger)
	serverSync := NewServerSync(opts.Remote, store, logger)

	c := &Cart{
		store:          store,
		guest:          guest,
		sync:           serverSync,
		session:        NewSessionHandler(store, guest, serverSync, opts.Remote, logger),
		logger:         logger,
		locks:          newKeyedMutex(),
		onUnauthorized: opts.OnUnauthorized,
	}
	c.loading.Store(true)

	return c, nil
}

// Start rehydrates the cart: from the server when authenticated, from guest
// storage otherwise. Loading reports true until Start returns.
func (c *Cart) Start(ctx context.Context, authenticated bool) error {
	err := c.start(ctx, authenticated)
	c.checkUnauthorized(ctx, err)
	return err
}

func (c *Cart) start(ctx context.Context, authenticated bool) error {
	c.modeMu.Lock()
	defer c.modeMu.Unlock()

	c.loading.Store(true)
	defer c.loading.Store(false)

	c.session.Resume(authenticated)
	if authenticated {
		return c.sync.FetchRemoteCart(ctx)
	}

	c.store.Replace(c.guest.Load(ctx))
	return nil
}

// Observe follows signal: every change of credential presence runs the
// matching session transition. The returned function stops observing.
func (c *Cart) Observe(signal SessionSignal) func() {
	return signal.Subscribe(func(ctx context.Context, authenticated bool) {
		if _, err := c.SessionChanged(ctx, authenticated); err != nil {
			c.logger.Warn("cart session transition reported errors",
				zap.Bool("authenticated", authenticated),
				zap.Error(err),
			)
		}
	})
}

// SessionChanged runs the transition for the observed credential presence.
// Logging in never fails the transition: the cart always ends Authenticated
// and the error reports migration or fetch failures.
func (c *Cart) SessionChanged(ctx context.Context, authenticated bool) (*MigrationReport, error) {
	c.modeMu.Lock()

	var (
		report *MigrationReport
		err    error
	)
	switch {
	case authenticated && c.session.State() == StateGuest:
		report, err = c.session.Login(ctx)
	case !authenticated && c.session.State() != StateGuest:
		err = c.session.Logout(ctx)
	}

	c.modeMu.Unlock()

	c.transitionMu.Lock()
	c.lastMigration = report
	c.lastTransition = err
	c.transitionMu.Unlock()

	return report, err
}

// LastTransition returns the outcome of the most recent session transition.
func (c *Cart) LastTransition() (*MigrationReport, error) {
	c.transitionMu.Lock()
	defer c.transitionMu.Unlock()
	return c.lastMigration, c.lastTransition
}

// AddToCart adds quantity units of product. Guest carts merge locally;
// authenticated carts add on the server and adopt its state. The variant is
// kept for guest carts only.
func (c *Cart) AddToCart(ctx context.Context, product model.Product, quantity int, variantID model.ID) error {
	err := c.addToCart(ctx, product, quantity, variantID)
	c.checkUnauthorized(ctx, err)
	return err
}

func (c *Cart) addToCart(ctx context.Context, product model.Product, quantity int, variantID model.ID) error {
	if quantity < model.MinQuantity {
		return ErrInvalidQuantity
	}
	if product.ID.IsZero() {
		return fmt.Errorf("add to cart: %w", model.ErrEmptyProductID)
	}

	c.modeMu.RLock()
	defer c.modeMu.RUnlock()

	if c.session.State() == StateAuthenticated {
		// The server keeps one line per product, so an add to an existing
		// line serializes with updates and removals of that line.
		key := productLockKey(product.ID, "")
		if item, ok := c.store.FindByProduct(product.ID); ok {
			key = itemLockKey(item.ID)
		}
		unlock := c.locks.Lock(key)
		defer unlock()

		return c.sync.AddItem(ctx, product.ID, quantity)
	}

	unlock := c.locks.Lock(productLockKey(product.ID, variantID))
	defer unlock()

	if _, err := c.store.Add(product, quantity, variantID); err != nil {
		return err
	}
	c.persistGuest(ctx)
	return nil
}

// RemoveFromCart removes a line. itemID identifies it; when empty, productID
// selects the line(s) instead. Removing an absent line is not an error.
func (c *Cart) RemoveFromCart(ctx context.Context, itemID, productID model.ID) error {
	err := c.removeFromCart(ctx, itemID, productID)
	c.checkUnauthorized(ctx, err)
	return err
}

func (c *Cart) removeFromCart(ctx context.Context, itemID, productID model.ID) error {
	c.modeMu.RLock()
	defer c.modeMu.RUnlock()

	if c.session.State() == StateAuthenticated {
		if itemID.IsZero() {
			item, ok := c.store.FindByProduct(productID)
			if !ok {
				return nil
			}
			itemID = item.ID
		}

		unlock := c.locks.Lock(itemLockKey(itemID))
		defer unlock()

		return c.sync.RemoveItem(ctx, itemID)
	}

	var changed bool
	if !itemID.IsZero() {
		changed = c.store.Remove(itemID)
	} else {
		changed = c.store.RemoveProduct(productID)
	}
	if changed {
		c.persistGuest(ctx)
	}
	return nil
}

// UpdateQuantity sets a line's quantity. Quantities below 1 fail with
// ErrInvalidQuantity without touching state or network. Authenticated
// updates are optimistic and resynchronized from the server on failure.
func (c *Cart) UpdateQuantity(ctx context.Context, itemID, productID model.ID, quantity int) error {
	err := c.updateQuantity(ctx, itemID, productID, quantity)
	c.checkUnauthorized(ctx, err)
	return err
}

func (c *Cart) updateQuantity(ctx context.Context, itemID, productID model.ID, quantity int) error {
	if quantity < model.MinQuantity {
		return ErrInvalidQuantity
	}

	c.modeMu.RLock()
	defer c.modeMu.RUnlock()

	if itemID.IsZero() {
		item, ok := c.store.FindByProduct(productID)
		if !ok {
			return ErrItemNotFound
		}
		itemID = item.ID
	}

	unlock := c.locks.Lock(itemLockKey(itemID))
	defer unlock()

	if c.session.State() == StateAuthenticated {
		return c.sync.UpdateQuantity(ctx, itemID, quantity)
	}

	if _, err := c.store.SetQuantity(itemID, quantity); err != nil {
		return err
	}
	c.persistGuest(ctx)
	return nil
}

// Refresh re-reads the authoritative cart: the server cart when
// authenticated, guest storage otherwise. It handles external events such
// as a completed order emptying the server cart.
func (c *Cart) Refresh(ctx context.Context) error {
	err := c.refresh(ctx)
	c.checkUnauthorized(ctx, err)
	return err
}

func (c *Cart) refresh(ctx context.Context) error {
	c.modeMu.RLock()
	defer c.modeMu.RUnlock()

	if c.session.State() == StateAuthenticated {
		return c.sync.FetchRemoteCart(ctx)
	}

	c.store.Replace(c.guest.Load(ctx))
	return nil
}

// Items returns the current line items.
func (c *Cart) Items() []model.CartItem {
	return c.store.Items()
}

// Loading reports whether initial rehydration is in progress.
func (c *Cart) Loading() bool {
	return c.loading.Load()
}

// Total returns the sum of price times quantity over current items.
func (c *Cart) Total() decimal.Decimal {
	return c.store.Aggregates().Total
}

// Count returns the sum of quantities over current items.
func (c *Cart) Count() int {
	return c.store.Aggregates().Count
}

// Aggregates returns count and total read together.
func (c *Cart) Aggregates() model.Aggregates {
	return c.store.Aggregates()
}

// Snapshot returns items and aggregates read together.
func (c *Cart) Snapshot() Snapshot {
	return c.store.Snapshot()
}

// State returns the session state.
func (c *Cart) State() State {
	return c.session.State()
}

// Subscribe registers fn to receive a snapshot after every change. fn must
// not call mutating Cart methods synchronously.
func (c *Cart) Subscribe(fn func(Snapshot)) func() {
	return c.store.Subscribe(fn)
}

// persistGuest writes the guest cart. The Store already holds the change, so
// a failed write is logged rather than failing the mutation.
func (c *Cart) persistGuest(ctx context.Context) {
	if err := c.guest.Save(ctx, c.store.Items()); err != nil {
		c.logger.Warn("failed to persist guest cart", zap.Error(err))
	}
}

// checkUnauthorized runs the OnUnauthorized hook after all cart locks have
// been released, so the hook may trigger a logout transition.
func (c *Cart) checkUnauthorized(ctx context.Context, err error) {
	if err == nil || c.onUnauthorized == nil {
		return
	}
	if errors.Is(err, client.ErrUnauthorized) {
		c.logger.Info("server rejected the credential, dropping session")
		c.onUnauthorized(ctx)
	}
}

func productLockKey(productID, variantID model.ID) string {
	return "product:" + productID.String() + ":" + variantID.String()
}

func itemLockKey(itemID model.ID) string {
	return "item:" + itemID.String()
}
