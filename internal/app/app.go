// Package app wires the configured dependencies and runs the selected mode:
// a single trading session, buyer and seller side by side, the push
// listener on its own, a simulated population of traders, or a tail of the
// outcomes other processes publish.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/gflexbot/internal/config"
	"github.com/alanyoungcy/gflexbot/internal/session"
)

// Modes.
const (
	ModeTrade    = "trade"
	ModeDual     = "dual"
	ModeListen   = "listen"
	ModeSimulate = "simulate"
	ModeWatch    = "watch"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *session.Registry
	closers  []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "app")),
		registry: session.NewRegistry(),
	}
}

// Run wires the dependencies and blocks in the configured mode until it
// completes or ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("host", a.cfg.Market.Host),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	switch strings.ToLower(a.cfg.Mode) {
	case ModeTrade:
		err = a.TradeMode(ctx, deps)
	case ModeDual:
		err = a.DualMode(ctx, deps)
	case ModeListen:
		err = a.ListenMode(ctx, deps)
	case ModeSimulate:
		err = a.SimulateMode(ctx, deps)
	case ModeWatch:
		err = a.WatchMode(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		a.alertStopped(ctx, deps, err)
	}
	return err
}

// alertStopped tells every notification sender that the mode failed.
func (a *App) alertStopped(ctx context.Context, deps *Dependencies, err error) {
	if !deps.Notifier.Enabled() {
		return
	}
	nctx, cancel := sinkContext(ctx)
	defer cancel()
	msg := fmt.Sprintf("mode %s on %s: %v", a.cfg.Mode, a.cfg.Market.Host, err)
	if nerr := deps.Notifier.NotifyAll(nctx, "gflexbot stopped", msg); nerr != nil {
		a.logger.WarnContext(ctx, "stop alert failed", slog.String("error", nerr.Error()))
	}
}

// Sessions returns the session registry served by the status API.
func (a *App) Sessions() *session.Registry {
	return a.registry
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
