// Package session tracks the presence of the bearer credential. The
// credential is persisted in local durable storage and its presence is the
// single signal that drives cart session transitions.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/vyrodovalexey/cartsync/internal/localstore"
)

// TokenKey is the storage key holding the bearer token.
const TokenKey = "token"

// ErrEmptyToken is returned by SetToken for an empty credential.
var ErrEmptyToken = errors.New("token cannot be empty")

// Listener is notified when credential presence changes.
type Listener func(ctx context.Context, authenticated bool)

// Tracker holds the current bearer token and notifies listeners whenever
// the credential appears or disappears.
type Tracker struct {
	storage localstore.Storage
	logger  *zap.Logger
	now     func() time.Time

	mu    sync.RWMutex
	token string

	// transitionMu orders presence changes with their notifications.
	transitionMu sync.Mutex
	listenerMu   sync.Mutex
	listeners    map[uint64]Listener
	nextID       uint64
}

// NewTracker creates a Tracker backed by storage. Call Load to restore a
// persisted credential.
func NewTracker(storage localstore.Storage, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		storage:   storage,
		logger:    logger,
		now:       time.Now,
		listeners: make(map[uint64]Listener),
	}
}

// Load restores the persisted token. An expired token is discarded. Load
// does not notify listeners; callers read Authenticated afterwards.
func (t *Tracker) Load(ctx context.Context) error {
	data, err := t.storage.Get(ctx, TokenKey)
	if err != nil {
		if errors.Is(err, localstore.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("reading token: %w", err)
	}

	token := string(data)
	if t.expired(token) {
		t.logger.Info("discarding expired session token")
		if err := t.storage.Delete(ctx, TokenKey); err != nil {
			return fmt.Errorf("deleting expired token: %w", err)
		}
		return nil
	}

	t.mu.Lock()
	t.token = token
	t.mu.Unlock()
	return nil
}

// Token returns the current bearer token, or an empty string. A token past
// its expiry is reported as absent.
func (t *Tracker) Token() string {
	t.mu.RLock()
	token := t.token
	t.mu.RUnlock()

	if token == "" || t.expired(token) {
		return ""
	}
	return token
}

// Authenticated reports whether a usable credential is present.
func (t *Tracker) Authenticated() bool {
	return t.Token() != ""
}

// SetToken stores a new credential and notifies listeners when the session
// goes from absent to present.
func (t *Tracker) SetToken(ctx context.Context, token string) error {
	if token == "" {
		return ErrEmptyToken
	}

	t.transitionMu.Lock()
	defer t.transitionMu.Unlock()

	if err := t.storage.Set(ctx, TokenKey, []byte(token)); err != nil {
		return fmt.Errorf("persisting token: %w", err)
	}

	was := t.Authenticated()
	t.mu.Lock()
	t.token = token
	t.mu.Unlock()

	if !was {
		t.notify(ctx, true)
	}
	return nil
}

// Clear drops the credential and notifies listeners when a session ended.
// The in-memory token is dropped even when storage fails.
func (t *Tracker) Clear(ctx context.Context) error {
	t.transitionMu.Lock()
	defer t.transitionMu.Unlock()

	was := t.Authenticated()
	t.mu.Lock()
	t.token = ""
	t.mu.Unlock()

	storageErr := t.storage.Delete(ctx, TokenKey)
	if storageErr != nil {
		t.logger.Warn("failed to delete stored token", zap.Error(storageErr))
		storageErr = fmt.Errorf("deleting token: %w", storageErr)
	}

	if was {
		t.notify(ctx, false)
	}
	return storageErr
}

// Subscribe registers fn for presence changes and returns a function that
// removes it.
func (t *Tracker) Subscribe(fn func(ctx context.Context, authenticated bool)) func() {
	t.listenerMu.Lock()
	id := t.nextID
	t.nextID++
	t.listeners[id] = fn
	t.listenerMu.Unlock()

	return func() {
		t.listenerMu.Lock()
		delete(t.listeners, id)
		t.listenerMu.Unlock()
	}
}

func (t *Tracker) notify(ctx context.Context, authenticated bool) {
	t.logger.Info("session credential changed", zap.Bool("authenticated", authenticated))

	t.listenerMu.Lock()
	listeners := make([]Listener, 0, len(t.listeners))
	for _, fn := range t.listeners {
		listeners = append(listeners, fn)
	}
	t.listenerMu.Unlock()

	for _, fn := range listeners {
		fn(ctx, authenticated)
	}
}

// expired reports whether token is a JWT whose exp claim has passed.
// Opaque tokens and JWTs without exp never expire client-side; the server
// remains the authority and answers 401.
func (t *Tracker) expired(token string) bool {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return false
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return !t.now().Before(claims.ExpiresAt.Time)
}
