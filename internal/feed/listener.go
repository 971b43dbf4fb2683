// Package feed keeps websocket push channels of the marketplace connected
// and relays every message to registered handlers.
package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/gflexbot/internal/domain"
	"github.com/alanyoungcy/gflexbot/internal/platform/glocalflex"
)

const (
	defaultMinBackoff = 2 * time.Second
	defaultMaxBackoff = 60 * time.Second
	connectTimeout    = 15 * time.Second
)

// TokenSource supplies the bearer token used for the handshake.
type TokenSource interface {
	RequestNewToken(ctx context.Context) bool
	RefreshToken(ctx context.Context) bool
	CheckExpiry() bool
	AccessToken() string
}

// Handler receives every message pushed on any endpoint.
type Handler func(ctx context.Context, msg domain.MarketMessage)

// Config selects the channels to follow.
type Config struct {
	Host       string
	TLSVerify  bool
	Endpoints  []string
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// Listener follows each configured endpoint on its own goroutine and
// reconnects with exponential backoff.
type Listener struct {
	cfg    Config
	tokens TokenSource
	logger *slog.Logger

	authMu   sync.Mutex
	handlers []Handler

	countMu sync.Mutex
	counts  map[string]int64

	sleep func(ctx context.Context, d time.Duration) error
}

// NewListener creates a Listener. The token source is shared by all
// endpoints.
func NewListener(cfg Config, tokens TokenSource, logger *slog.Logger) *Listener {
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = defaultMinBackoff
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = max(defaultMaxBackoff, cfg.MinBackoff)
	}
	return &Listener{
		cfg:    cfg,
		tokens: tokens,
		logger: logger.With(slog.String("component", "feed_listener")),
		counts: make(map[string]int64),
		sleep:  sleepContext,
	}
}

// OnMessage registers h. Register handlers before Run.
func (l *Listener) OnMessage(h Handler) {
	l.handlers = append(l.handlers, h)
}

// Received returns the number of messages seen per endpoint.
func (l *Listener) Received() map[string]int64 {
	l.countMu.Lock()
	defer l.countMu.Unlock()
	out := make(map[string]int64, len(l.counts))
	for k, v := range l.counts {
		out[k] = v
	}
	return out
}

// Run follows every endpoint until ctx is cancelled.
func (l *Listener) Run(ctx context.Context) error {
	if len(l.cfg.Endpoints) == 0 {
		l.logger.InfoContext(ctx, "no endpoints to follow, exiting")
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, ep := range l.cfg.Endpoints {
		g.Go(func() error { return l.follow(gctx, ep) })
	}
	return g.Wait()
}

// follow keeps one endpoint connected.
func (l *Listener) follow(ctx context.Context, endpoint string) error {
	log := l.logger.With(slog.String("endpoint", endpoint))
	backoff := l.cfg.MinBackoff

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		connected, err := l.session(ctx, endpoint, log)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			backoff = l.cfg.MinBackoff
		}
		log.WarnContext(ctx, "websocket disconnected, reconnecting",
			slog.String("error", errString(err)),
			slog.Duration("backoff", backoff),
		)
		if err := l.sleep(ctx, backoff); err != nil {
			return err
		}
		backoff = min(backoff*2, l.cfg.MaxBackoff)
	}
}

// session runs one connection. connected reports whether the handshake
// succeeded.
func (l *Listener) session(ctx context.Context, endpoint string, log *slog.Logger) (connected bool, err error) {
	token, err := l.token(ctx)
	if err != nil {
		return false, err
	}

	client := glocalflex.NewWSClient(l.cfg.Host, endpoint, l.cfg.TLSVerify)
	defer client.Close()
	client.OnMessage(func(msg domain.MarketMessage) { l.dispatch(ctx, msg) })

	connCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	err = client.Connect(connCtx, token)
	cancel()
	if err != nil {
		if errors.Is(err, domain.ErrUnauthorized) {
			l.invalidate(ctx)
		}
		return false, err
	}
	log.InfoContext(ctx, "websocket connected", slog.String("url", client.URL()))

	select {
	case <-ctx.Done():
		return true, ctx.Err()
	case <-client.Done():
		return true, client.Err()
	}
}

// token returns a usable bearer token, renewing it first when needed.
func (l *Listener) token(ctx context.Context) (string, error) {
	l.authMu.Lock()
	defer l.authMu.Unlock()

	if l.tokens.CheckExpiry() {
		if !l.tokens.RefreshToken(ctx) && !l.tokens.RequestNewToken(ctx) {
			return "", fmt.Errorf("feed: %w", domain.ErrAuthFailed)
		}
	}
	return l.tokens.AccessToken(), nil
}

// invalidate forces a password grant after the server refused the token.
func (l *Listener) invalidate(ctx context.Context) {
	l.authMu.Lock()
	defer l.authMu.Unlock()
	if !l.tokens.RequestNewToken(ctx) {
		l.logger.WarnContext(ctx, "re-authentication after websocket 401 failed")
	}
}

func (l *Listener) dispatch(ctx context.Context, msg domain.MarketMessage) {
	l.countMu.Lock()
	l.counts[msg.Endpoint]++
	l.countMu.Unlock()

	for _, h := range l.handlers {
		h(ctx, msg)
	}
}

// LogHandler writes every message to logger at info level.
func LogHandler(logger *slog.Logger) Handler {
	return func(ctx context.Context, msg domain.MarketMessage) {
		logger.InfoContext(ctx, "market message",
			slog.String("endpoint", msg.Endpoint),
			slog.Any("payload", msg.Payload),
		)
	}
}

func errString(err error) string {
	if err == nil {
		return "connection closed"
	}
	return err.Error()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
