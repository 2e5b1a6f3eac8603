package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/vyrodovalexey/cartsync/internal/cart"
	"github.com/vyrodovalexey/cartsync/internal/client"
	"github.com/vyrodovalexey/cartsync/internal/config"
	"github.com/vyrodovalexey/cartsync/internal/localstore"
	"github.com/vyrodovalexey/cartsync/internal/logging"
	"github.com/vyrodovalexey/cartsync/internal/session"
)

// errLoginRequired is returned by commands that need a session.
var errLoginRequired = errors.New("this command requires a session; run cartctl login first")

// env is the engine assembled for one command.
type env struct {
	cfg     *config.Config
	logger  *zap.Logger
	storage localstore.Storage
	tracker *session.Tracker
	api     *client.Client
	cart    *cart.Cart

	stopObserving func()
}

// openEnv loads configuration, opens local storage, restores the session and
// rehydrates the cart. A failed rehydration is returned alongside a usable
// env so commands can still report what they have.
func openEnv(ctx context.Context, flags *globalFlags) (*env, error) {
	cfg, err := config.Load(flags.configFile)
	if err != nil {
		return nil, err
	}

	level := "warn"
	if flags.verbose {
		level = "debug"
	}
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      logging.FormatConsole,
		OutputPaths: []string{"stderr"},
	})
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}

	storage, err := openStorage(ctx, cfg)
	if err != nil {
		return nil, err
	}

	tracker := session.NewTracker(storage, logger)
	if err := tracker.Load(ctx); err != nil {
		_ = storage.Close()
		return nil, fmt.Errorf("restoring session: %w", err)
	}

	api, err := client.New(cfg.APIBaseURL,
		client.WithTimeout(cfg.RequestTimeout),
		client.WithTokenSource(tracker),
		client.WithRateLimit(cfg.ClientRateLimit, cfg.ClientBurst),
		client.WithLogger(logger),
	)
	if err != nil {
		_ = storage.Close()
		return nil, fmt.Errorf("creating API client: %w", err)
	}

	c, err := cart.New(cart.Options{
		Remote:  api,
		Storage: storage,
		Logger:  logger,
		OnUnauthorized: func(ctx context.Context) {
			if err := tracker.Clear(ctx); err != nil {
				logger.Warn("failed to clear rejected session", zap.Error(err))
			}
		},
	})
	if err != nil {
		_ = storage.Close()
		return nil, err
	}

	e := &env{
		cfg:     cfg,
		logger:  logger,
		storage: storage,
		tracker: tracker,
		api:     api,
		cart:    c,
	}

	// Observe first so a credential rejected during Start ends the session.
	e.stopObserving = c.Observe(tracker)
	if err := c.Start(ctx, tracker.Authenticated()); err != nil {
		return e, fmt.Errorf("loading cart: %w", err)
	}
	return e, nil
}

// openStorage opens the configured local storage backend.
func openStorage(ctx context.Context, cfg *config.Config) (localstore.Storage, error) {
	switch cfg.StorageBackend {
	case config.StorageMemory:
		return localstore.NewMemoryStorage(), nil
	case config.StorageSQLite:
		s, err := localstore.OpenSQLiteStorage(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("opening local storage: %w", err)
		}
		return s, nil
	case config.StorageRedis:
		s, err := localstore.NewRedisStorage(ctx, localstore.RedisConfig{
			Addr:      cfg.RedisAddr,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: cfg.RedisPrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("opening local storage: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrInvalidStorageBackend, cfg.StorageBackend)
	}
}

func (e *env) Close() {
	if e.stopObserving != nil {
		e.stopObserving()
	}
	if err := e.storage.Close(); err != nil {
		e.logger.Warn("failed to close local storage", zap.Error(err))
	}
	_ = e.logger.Sync()
}

func (e *env) requireSession() error {
	if !e.tracker.Authenticated() {
		return errLoginRequired
	}
	return nil
}
