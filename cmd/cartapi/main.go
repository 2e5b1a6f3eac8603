// Package main is the entry point for the reference cart API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vyrodovalexey/cartsync/internal/auth"
	"github.com/vyrodovalexey/cartsync/internal/config"
	"github.com/vyrodovalexey/cartsync/internal/logging"
	"github.com/vyrodovalexey/cartsync/internal/model"
	"github.com/vyrodovalexey/cartsync/internal/server"
	"github.com/vyrodovalexey/cartsync/internal/store"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load(os.Getenv("APP_CONFIG_FILE"))
	if err == nil {
		err = cfg.ValidateServer()
	}
	if err != nil {
		// Use a basic logger for startup errors
		basicLogger, _ := zap.NewProduction()
		basicLogger.Error("failed to load configuration", zap.Error(err))
		return 1
	}

	logger, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		basicLogger, _ := zap.NewProduction()
		basicLogger.Error("failed to initialize logger", zap.Error(err))
		return 1
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info("configuration loaded",
		zap.Int("server_port", cfg.ServerPort),
		zap.String("log_level", cfg.LogLevel),
		zap.Duration("shutdown_timeout", cfg.ShutdownTimeout),
		zap.Bool("metrics_enabled", cfg.MetricsEnabled),
		zap.Duration("jwt_ttl", cfg.JWTTTL),
		zap.Float64("rate_limit_rps", cfg.RateLimitRPS),
		zap.String("catalog_file", cfg.CatalogFile),
	)

	srv, err := newServer(cfg, logger)
	if err != nil {
		logger.Error("failed to build server", zap.Error(err))
		return 1
	}

	ln, err := net.Listen("tcp", cfg.Address())
	if err != nil {
		logger.Error("failed to listen", zap.String("address", cfg.Address()), zap.Error(err))
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, srv, ln, cfg.ShutdownTimeout); err != nil {
		logger.Error("server error", zap.Error(err))
		return 1
	}

	logger.Info("server stopped")
	return 0
}

// newServer assembles the catalog, user directory and token service behind
// a server.
func newServer(cfg *config.Config, logger *zap.Logger) (*server.Server, error) {
	products, err := loadCatalog(cfg.CatalogFile)
	if err != nil {
		return nil, err
	}

	tokens, err := auth.NewTokenService(cfg.JWTSecret, cfg.JWTTTL)
	if err != nil {
		return nil, fmt.Errorf("creating token service: %w", err)
	}

	users, err := auth.NewUserDirectory(cfg.Users, otpLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("creating user directory: %w", err)
	}

	logger.Info("catalog loaded", zap.Int("products", len(products)))

	return server.New(cfg, logger, store.NewMemoryStore(products...), tokens, users), nil
}

func loadCatalog(path string) ([]model.Product, error) {
	if path == "" {
		return store.DefaultCatalog(), nil
	}

	products, err := store.LoadCatalog(path)
	if err != nil {
		return nil, fmt.Errorf("loading catalog: %w", err)
	}
	return products, nil
}

// otpLogger delivers verification codes to the log. The reference server
// has no mail transport.
func otpLogger(logger *zap.Logger) auth.OTPSender {
	return auth.OTPSenderFunc(func(_ context.Context, email, otp string) error {
		logger.Info("verification code issued",
			zap.String("email", email),
			zap.String("otp", otp),
		)
		return nil
	})
}

// serve runs srv on ln until ctx is done, then shuts it down within
// shutdownTimeout. A serve failure cancels the wait.
func serve(ctx context.Context, srv *server.Server, ln net.Listener, shutdownTimeout time.Duration) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.Serve(ln)
	})

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
