package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/florianilch/aemupload/internal/devserver"
)

// Dev server defaults
const (
	DefaultDevServerAddress         = "127.0.0.1:4502"
	DefaultDevServerShutdownTimeout = 5 * time.Second
)

// DevServerConfig configures the local emulation server.
type DevServerConfig struct {
	Address         string
	TokenLifetime   time.Duration
	ShutdownTimeout time.Duration
	ClientID        string
	ClientSecret    string
}

// RunDevServer starts the emulation server and blocks until ctx is canceled
// or the server fails. Uses errgroup for runtime error monitoring and shutdown
// function collection for coordinated cleanup.
func RunDevServer(ctx context.Context, cfg DevServerConfig) error {
	if cfg.Address == "" {
		cfg.Address = DefaultDevServerAddress
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultDevServerShutdownTimeout
	}

	srv := devserver.New(
		devserver.WithClientCredentials(cfg.ClientID, cfg.ClientSecret),
		devserver.WithTokenLifetime(cfg.TokenLifetime),
		devserver.WithLogger(slog.Default()),
	)

	g, gCtx := errgroup.WithContext(ctx)
	var shutdownFuncs []func(context.Context) error

	// Startup phase: Start services
	slog.InfoContext(gCtx, "starting dev server", "address", cfg.Address)
	errCh, err := srv.Start(gCtx, cfg.Address)
	if err != nil {
		return fmt.Errorf("dev server startup failed: %w", err)
	}
	shutdownFuncs = append(shutdownFuncs, srv.Shutdown)

	// Monitor runtime errors - errgroup cancels context on first error
	g.Go(func() error {
		select {
		case err := <-errCh:
			if err != nil {
				slog.ErrorContext(gCtx, "dev server runtime error", "error", err)
				return fmt.Errorf("dev server: %w", err)
			}
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	slog.InfoContext(gCtx, "dev server ready",
		"token_url", "http://"+cfg.Address+devserver.TokenPath,
		"base_url", "http://"+cfg.Address,
		"dam_root", devserver.DAMRoot,
	)

	runtimeErr := g.Wait()

	slog.InfoContext(gCtx, "shutting down dev server")

	// Shutdown phase: Stop all services
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	var errs []error
	if runtimeErr != nil {
		errs = append(errs, fmt.Errorf("runtime: %w", runtimeErr))
	}

	for i := len(shutdownFuncs) - 1; i >= 0; i-- {
		if err := shutdownFuncs[i](shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "service shutdown failed", "error", err)
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	slog.Info("dev server stopped")
	return nil
}
