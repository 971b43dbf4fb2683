package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/gflexbot/internal/auth"
	"github.com/alanyoungcy/gflexbot/internal/cache/redis"
	"github.com/alanyoungcy/gflexbot/internal/config"
	"github.com/alanyoungcy/gflexbot/internal/domain"
	"github.com/alanyoungcy/gflexbot/internal/feed"
	"github.com/alanyoungcy/gflexbot/internal/order"
	"github.com/alanyoungcy/gflexbot/internal/platform/glocalflex"
	"github.com/alanyoungcy/gflexbot/internal/secret"
	"github.com/alanyoungcy/gflexbot/internal/session"
)

// tradingSession is a session plus the lock that guards its account and
// side.
type tradingSession struct {
	*session.Session
	lockKey string
	release func()
}

// TradeMode runs one session on the configured side, with the push listener
// alongside when [listener] enabled is set.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	side, err := domain.ParseSide(a.cfg.Params.Side)
	if err != nil {
		return fmt.Errorf("trade mode: %w", err)
	}
	a.logger.InfoContext(ctx, "starting trade mode", slog.String("side", side.String()))

	ts, err := a.newTradingSession(ctx, deps, side)
	if err != nil {
		return fmt.Errorf("trade mode: %w", err)
	}
	defer ts.release()

	return a.runSessions(ctx, deps, side, ts)
}

// DualMode runs a buyer and a seller session concurrently. Each side has its
// own account, credential store and token manager.
func (a *App) DualMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting dual mode")

	buyer, err := a.newTradingSession(ctx, deps, domain.SideBuy)
	if err != nil {
		return fmt.Errorf("dual mode: buyer: %w", err)
	}
	defer buyer.release()

	seller, err := a.newTradingSession(ctx, deps, domain.SideSell)
	if err != nil {
		return fmt.Errorf("dual mode: seller: %w", err)
	}
	defer seller.release()

	return a.runSessions(ctx, deps, domain.SideBuy, buyer, seller)
}

// ListenMode follows the push channels until interrupted.
func (a *App) ListenMode(ctx context.Context, deps *Dependencies) error {
	side, err := domain.ParseSide(a.cfg.Params.Side)
	if err != nil {
		return fmt.Errorf("listen mode: %w", err)
	}
	a.logger.InfoContext(ctx, "starting listen mode", slog.Any("endpoints", a.cfg.Listener.Endpoints))

	listener, err := a.newListener(deps, side)
	if err != nil {
		return fmt.Errorf("listen mode: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return listener.Run(gctx) })
	if a.cfg.Server.Enabled {
		srv := a.newServer(deps, listener)
		g.Go(func() error { return srv.Run(gctx) })
	}
	return g.Wait()
}

// runSessions runs every session to completion. The listener and the status
// server, when enabled, run until the last session finishes. A lost session
// lock stops all sessions.
func (a *App) runSessions(ctx context.Context, deps *Dependencies, listenSide domain.Side, sessions ...*tradingSession) error {
	var (
		listener *feed.Listener
		counter  feedCounter
	)
	if a.cfg.Listener.Enabled {
		var err error
		if listener, err = a.newListener(deps, listenSide); err != nil {
			return err
		}
		counter = listener
	}

	g, gctx := errgroup.WithContext(ctx)
	bg, stopBackground := context.WithCancel(gctx)
	defer stopBackground()

	var work errgroup.Group
	for _, ts := range sessions {
		work.Go(func() error { return ts.Run(gctx) })
		if ts.lockKey != "" {
			g.Go(background(bg, func(ctx context.Context) error {
				return redis.KeepAlive(ctx, deps.Locks, ts.lockKey, a.cfg.Redis.LockTTL.Duration, a.logger)
			}))
		}
	}
	g.Go(func() error {
		defer stopBackground()
		return work.Wait()
	})

	if listener != nil {
		g.Go(background(bg, listener.Run))
	}
	if a.cfg.Server.Enabled {
		g.Go(background(bg, a.newServer(deps, counter).Run))
	}

	return g.Wait()
}

// background adapts a run-until-cancelled component so that being stopped
// through ctx is not reported as an error.
func background(ctx context.Context, run func(context.Context) error) func() error {
	return func() error {
		err := run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
}

// newTradingSession builds the session for side, acquiring the account lock
// first when session locks are enabled.
func (a *App) newTradingSession(ctx context.Context, deps *Dependencies, side domain.Side) (*tradingSession, error) {
	account := a.cfg.Account(side)
	tokens, err := a.newTokenManager(deps, account)
	if err != nil {
		return nil, err
	}
	loc, err := a.cfg.Params.Location()
	if err != nil {
		return nil, fmt.Errorf("timezone: %w", err)
	}
	overrides, err := a.cfg.Order.Overrides(loc)
	if err != nil {
		return nil, err
	}

	ts := &tradingSession{release: func() {}}
	if deps.Locks != nil {
		key := redis.SessionLockKey(a.cfg.Market.Host, account.Username, side)
		unlock, err := deps.Locks.Acquire(ctx, key, a.cfg.Redis.LockTTL.Duration)
		if err != nil {
			return nil, fmt.Errorf("%s session for %s: %w", side, account.Username, err)
		}
		ts.lockKey, ts.release = key, unlock
	}

	sess := session.New(session.Config{
		Account:       account.Username,
		Side:          side,
		Settings:      a.cfg.SideSettings(side),
		Overrides:     overrides,
		RunDuration:   a.cfg.Params.RunDuration(),
		RunOnce:       a.cfg.Params.RunOnce,
		CycleInterval: a.cfg.Params.CycleInterval(),
		Cooldown:      a.cfg.Params.Cooldown.Duration,
		CallTimeout:   a.cfg.Market.RequestTimeout.Duration,
	}, tokens, a.orderClient(deps), order.NewResolver(nil, loc), a.logger)
	a.decorate(sess, deps, account.Username, side)

	ts.Session = sess
	return ts, nil
}

// decorate attaches the observer and the submission limiter to sess and
// registers it for the status API.
func (a *App) decorate(sess *session.Session, deps *Dependencies, username string, side domain.Side) {
	sess.WithObserver(newObserver(deps, a.cfg.Market.Host, a.logger))
	if deps.RateLimiter != nil && a.cfg.Redis.RateLimitPerMinute > 0 {
		sess.WithThrottle(redis.PerMinute(
			deps.RateLimiter,
			redis.SubmissionLimitKey(username, side),
			a.cfg.Redis.RateLimitPerMinute,
		))
	}
	a.registry.Add(sess)
}

// newTokenManager gives account its own credential store and token manager.
func (a *App) newTokenManager(deps *Dependencies, account config.UserConfig) (*auth.Manager, error) {
	password, err := secret.Resolve(secret.Source{
		Password:      account.Password,
		EncryptedPath: account.EncryptedPasswordPath,
		KeyPassword:   account.KeyPassword,
	})
	if err != nil {
		return nil, fmt.Errorf("password for %s: %w", account.Username, err)
	}
	return auth.NewManager(auth.ManagerConfig{
		TokenURL:   glocalflex.EndpointURL(a.cfg.Market.Host, a.cfg.Market.AuthPath),
		ClientID:   a.cfg.Market.ClientID,
		Username:   account.Username,
		Password:   password,
		Margin:     a.cfg.Params.ExpiryMargin.Duration,
		HTTPClient: deps.HTTPClient,
	}, auth.NewStore(), a.logger), nil
}

func (a *App) orderClient(deps *Dependencies) *glocalflex.OrderClient {
	return glocalflex.NewOrderClient(
		glocalflex.EndpointURL(a.cfg.Market.Host, a.cfg.Market.OrderPath),
		deps.HTTPClient,
	)
}

// newListener builds the push listener with its own token manager. Every
// message is logged and, with the event bus enabled, republished.
func (a *App) newListener(deps *Dependencies, side domain.Side) (*feed.Listener, error) {
	tokens, err := a.newTokenManager(deps, a.cfg.Account(side))
	if err != nil {
		return nil, fmt.Errorf("listener: %w", err)
	}
	l := feed.NewListener(feed.Config{
		Host:       a.cfg.Market.Host,
		TLSVerify:  a.cfg.Market.SSLVerify,
		Endpoints:  a.cfg.Listener.Endpoints,
		MinBackoff: a.cfg.Listener.ReconnectMin.Duration,
		MaxBackoff: a.cfg.Listener.ReconnectMax.Duration,
	}, tokens, a.logger)

	l.OnMessage(feed.LogHandler(a.logger.With(slog.String("component", "feed"))))
	if deps.Bus != nil {
		l.OnMessage(a.relayHandler(deps.Bus))
	}
	return l, nil
}

// relayHandler republishes push messages on the event bus.
func (a *App) relayHandler(bus domain.EventBus) feed.Handler {
	return func(ctx context.Context, msg domain.MarketMessage) {
		if err := redis.PublishJSON(ctx, bus, redis.WSChannel(msg.Endpoint), msg); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.WarnContext(ctx, "relay market message failed",
				slog.String("endpoint", msg.Endpoint),
				slog.String("error", err.Error()),
			)
		}
	}
}
