package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/gflexbot/internal/config"
	"github.com/alanyoungcy/gflexbot/internal/domain"
	"github.com/alanyoungcy/gflexbot/internal/order"
	"github.com/alanyoungcy/gflexbot/internal/session"
)

// roundTimeout bounds one simulation round.
const roundTimeout = 2 * time.Minute

// trader is one simulated account with its own credential and session.
type trader struct {
	sess        *session.Session
	probability float64
}

// SimulateMode drives a population of traders. Every round each trader
// orders with its configured probability; selected traders run one cycle
// each on a bounded worker pool.
func (a *App) SimulateMode(ctx context.Context, deps *Dependencies) error {
	sim := a.cfg.Simulation
	a.logger.InfoContext(ctx, "starting simulate mode",
		slog.Int("traders", len(sim.Traders)),
		slog.Int("workers", sim.Workers),
		slog.Duration("run_time", sim.RunTime.Duration),
		slog.Duration("round_interval", sim.SleepTime.Duration),
	)

	loc, err := a.cfg.Params.Location()
	if err != nil {
		return fmt.Errorf("simulate mode: timezone: %w", err)
	}
	traders := make([]trader, 0, len(sim.Traders))
	for i, tc := range sim.Traders {
		t, err := a.newTrader(deps, tc, loc)
		if err != nil {
			return fmt.Errorf("simulate mode: trader %d: %w", i, err)
		}
		traders = append(traders, t)
	}

	g, gctx := errgroup.WithContext(ctx)
	bg, stopBackground := context.WithCancel(gctx)
	defer stopBackground()

	g.Go(func() error {
		defer stopBackground()
		return a.simulate(gctx, traders, order.NewResolver(nil, loc))
	})
	if a.cfg.Server.Enabled {
		g.Go(background(bg, a.newServer(deps, nil).Run))
	}
	return g.Wait()
}

// simulate runs rounds until the run time elapses or ctx is cancelled.
func (a *App) simulate(ctx context.Context, traders []trader, picker *order.Resolver) error {
	sim := a.cfg.Simulation
	for _, t := range traders {
		t.sess.Begin(ctx)
	}
	defer func() {
		for _, t := range traders {
			t.sess.End(ctx)
		}
	}()

	start := time.Now()
	ticker := time.NewTicker(sim.SleepTime.Duration)
	defer ticker.Stop()

	for round := 1; ; round++ {
		if sim.RunTime.Duration > 0 && time.Since(start) > sim.RunTime.Duration {
			a.logger.InfoContext(ctx, "simulation finished", slog.Int("rounds", round-1))
			return nil
		}
		if err := a.simulateRound(ctx, round, traders, picker); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// simulateRound draws which traders order this round and runs their cycles
// with at most Workers in flight.
func (a *App) simulateRound(ctx context.Context, round int, traders []trader, picker *order.Resolver) error {
	roundCtx, cancel := context.WithTimeout(ctx, roundTimeout)
	defer cancel()

	var g errgroup.Group
	g.SetLimit(a.cfg.Simulation.Workers)
	selected := 0
	for _, t := range traders {
		if !picker.Chance(t.probability) {
			continue
		}
		selected++
		g.Go(func() error { return t.sess.Cycle(roundCtx) })
	}
	err := g.Wait()

	a.logger.DebugContext(ctx, "simulation round done",
		slog.Int("round", round),
		slog.Int("selected", selected),
	)
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, context.DeadlineExceeded):
		a.logger.WarnContext(ctx, "simulation round timed out", slog.Int("round", round))
		return nil
	default:
		return err
	}
}

func (a *App) newTrader(deps *Dependencies, tc config.TraderConfig, loc *time.Location) (trader, error) {
	side, err := domain.ParseSide(tc.Side)
	if err != nil {
		return trader{}, err
	}
	tokens, err := a.newTokenManager(deps, config.UserConfig{Username: tc.Username, Password: tc.Password})
	if err != nil {
		return trader{}, err
	}

	settings := domain.SideSettings{
		QuantityMin: tc.QuantityMin,
		QuantityMax: tc.QuantityMax,
		PriceMin:    tc.PriceMin,
		PriceMax:    tc.PriceMax,
	}
	if side == domain.SideSell {
		settings.Baseline = a.cfg.Seller.Settings().Baseline
	}

	sess := session.New(session.Config{
		Account:     tc.Username,
		Side:        side,
		Settings:    settings,
		Cooldown:    a.cfg.Params.Cooldown.Duration,
		CallTimeout: a.cfg.Market.RequestTimeout.Duration,
	}, tokens, a.orderClient(deps), order.NewResolver(nil, loc), a.logger)
	a.decorate(sess, deps, tc.Username, side)

	return trader{sess: sess, probability: tc.Probability}, nil
}
