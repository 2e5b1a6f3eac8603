package cart

import (
	"context"
	"errors"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/vyrodovalexey/cartsync/internal/model"
)

// State is the session mode of the cart.
type State int32

// Session states.
const (
	StateGuest State = iota
	StateMigrating
	StateAuthenticated
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateGuest:
		return "guest"
	case StateMigrating:
		return "migrating"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// SessionHandler runs the Guest -> Migrating -> Authenticated state machine
// and the logout transition back to Guest. Callers serialize transitions.
type SessionHandler struct {
	state  atomic.Int32
	store  *Store
	guest  *GuestPersistence
	sync   *ServerSync
	remote Remote
	logger *zap.Logger
}

// NewSessionHandler creates a handler in the Guest state.
func NewSessionHandler(
	store *Store,
	guest *GuestPersistence,
	serverSync *ServerSync,
	remote Remote,
	logger *zap.Logger,
) *SessionHandler {
	return &SessionHandler{
		store:  store,
		guest:  guest,
		sync:   serverSync,
		remote: remote,
		logger: logger,
	}
}

// State returns the current state.
func (h *SessionHandler) State() State {
	return State(h.state.Load())
}

func (h *SessionHandler) setState(s State) {
	previous := State(h.state.Swap(int32(s)))
	if previous != s {
		h.logger.Info("cart session state changed",
			zap.String("from", previous.String()),
			zap.String("to", s.String()),
		)
	}
}

// Login moves a Guest cart to Authenticated. A non-empty guest cart is
// replayed against the server first; individual failures are collected and
// never stop the transition. The returned error joins a
// *PartialMigrationError with any failure of the final server fetch.
func (h *SessionHandler) Login(ctx context.Context) (*MigrationReport, error) {
	if h.State() != StateGuest {
		return nil, nil
	}

	guestItems := h.store.Items()
	if len(guestItems) == 0 {
		h.setState(StateAuthenticated)
		return nil, h.adoptServerCart(ctx)
	}

	h.setState(StateMigrating)
	report := h.migrate(ctx, guestItems)

	if err := h.guest.Clear(ctx); err != nil {
		h.logger.Warn("failed to clear guest cart after migration", zap.Error(err))
	}

	h.setState(StateAuthenticated)
	fetchErr := h.adoptServerCart(ctx)

	h.logger.Info("guest cart migration finished",
		zap.Int("attempted", report.Attempted),
		zap.Int("migrated", report.Migrated),
		zap.Int("failed", len(report.Failed)),
		zap.Int("variants_dropped", report.VariantsDropped),
	)

	return report, errors.Join(report.Err(), fetchErr)
}

// Logout empties the cart and guest storage and returns to Guest. The server
// cart is left untouched.
func (h *SessionHandler) Logout(ctx context.Context) error {
	if h.State() == StateGuest {
		return nil
	}

	h.store.Clear()
	h.setState(StateGuest)

	if err := h.guest.Clear(ctx); err != nil {
		h.logger.Warn("failed to clear guest storage on logout", zap.Error(err))
		return err
	}
	return nil
}

// Resume marks an already authenticated session, used at startup.
func (h *SessionHandler) Resume(authenticated bool) {
	if authenticated {
		h.setState(StateAuthenticated)
		return
	}
	h.setState(StateGuest)
}

func (h *SessionHandler) migrate(ctx context.Context, items []model.CartItem) *MigrationReport {
	report := &MigrationReport{Attempted: len(items)}

	for _, item := range items {
		if !item.VariantID.IsZero() {
			// The server cart has no variant field; the line migrates as the
			// base product.
			h.logger.Warn("dropping variant during guest cart migration",
				zap.String("product_id", item.ProductID.String()),
				zap.String("variant_id", item.VariantID.String()),
			)
		}

		err := h.remote.AddItem(ctx, item.ProductID, item.Quantity)
		if err != nil {
			migrationItemsTotal.WithLabelValues(resultFailure).Inc()
			h.logger.Warn("failed to migrate guest cart item",
				zap.String("product_id", item.ProductID.String()),
				zap.Int("quantity", item.Quantity),
				zap.Error(err),
			)
			report.Failed = append(report.Failed, MigrationFailure{
				Item: item,
				Err:  networkFailure("migrate item", err),
			})
			continue
		}

		migrationItemsTotal.WithLabelValues(resultSuccess).Inc()
		report.Migrated++
		if !item.VariantID.IsZero() {
			report.VariantsDropped++
		}
	}

	return report
}

// adoptServerCart fetches the server cart. On failure the Store is emptied
// because any rows left in it carry ids the server does not know.
func (h *SessionHandler) adoptServerCart(ctx context.Context) error {
	if err := h.sync.FetchRemoteCart(ctx); err != nil {
		h.store.Clear()
		return err
	}
	return nil
}
