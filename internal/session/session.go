// Package session runs the order submission loop of one trading account on
// one side of the market.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/gflexbot/internal/auth"
	"github.com/alanyoungcy/gflexbot/internal/domain"
	"github.com/alanyoungcy/gflexbot/internal/order"
	"github.com/alanyoungcy/gflexbot/internal/platform/glocalflex"
)

const (
	DefaultCooldown    = 5 * time.Second
	DefaultCallTimeout = 30 * time.Second
	maxLoggedBody      = 1024
)

// TokenManager is the credential contract the loop depends on.
type TokenManager interface {
	RequestNewToken(ctx context.Context) bool
	RefreshToken(ctx context.Context) bool
	CheckExpiry() bool
	AccessToken() string
	State() auth.State
}

// Submitter sends one order. Errors are transport failures only.
type Submitter interface {
	SubmitOrder(ctx context.Context, token string, req domain.OrderRequest) (glocalflex.Response, error)
}

// Throttle delays a submission until it may be sent.
type Throttle interface {
	Wait(ctx context.Context) error
}

// Observer receives session lifecycle events. Implementations must not block
// for long; they run on the loop goroutine.
type Observer interface {
	SessionStarted(ctx context.Context, st Stats)
	CycleCompleted(ctx context.Context, sub domain.Submission)
	AuthFailed(ctx context.Context, st Stats, attempt int)
	SessionFinished(ctx context.Context, st Stats)
}

// Config is fixed for the life of a session.
type Config struct {
	// ID defaults to a random UUID.
	ID        string
	Account   string
	Side      domain.Side
	Settings  domain.SideSettings
	Overrides domain.OrderOverrides
	// RunDuration of zero runs until interrupted; a negative value runs one cycle.
	RunDuration time.Duration
	RunOnce     bool
	// CycleInterval is multiplied by a drawn wait multiplier between cycles.
	CycleInterval time.Duration
	Cooldown      time.Duration
	CallTimeout   time.Duration
}

// Once reports whether the session sends exactly one cycle.
func (c Config) Once() bool {
	return c.RunOnce || c.RunDuration < 0
}

// Session is one sequential submission loop with its own credential.
type Session struct {
	cfg       Config
	tokens    TokenManager
	submitter Submitter
	resolver  *order.Resolver
	throttle  Throttle
	observer  Observer
	logger    *slog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	stats statsTracker
}

// New creates a Session.
func New(cfg Config, tokens TokenManager, submitter Submitter, resolver *order.Resolver, logger *slog.Logger) *Session {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	s := &Session{
		cfg:       cfg,
		tokens:    tokens,
		submitter: submitter,
		resolver:  resolver,
		observer:  nopObserver{},
		logger: logger.With(
			slog.String("component", "session"),
			slog.String("session_id", cfg.ID),
			slog.String("side", cfg.Side.String()),
		),
		now:   time.Now,
		sleep: sleepContext,
	}
	s.stats.s = Stats{SessionID: cfg.ID, Account: cfg.Account, Side: cfg.Side}
	return s
}

// WithThrottle installs a pre-submission throttle.
func (s *Session) WithThrottle(t Throttle) *Session {
	s.throttle = t
	return s
}

// WithObserver installs a lifecycle observer.
func (s *Session) WithObserver(o Observer) *Session {
	if o == nil {
		o = nopObserver{}
	}
	s.observer = o
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.cfg.ID }

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() Stats {
	st := s.stats.snapshot()
	st.CredentialState = s.tokens.State().String()
	return st
}

// Run executes cycles until the configured duration elapses, a single cycle
// completes in run-once mode, or ctx is cancelled. The duration is checked
// at the top of each cycle, so an in-flight cycle always completes. The
// returned error is non-nil only on cancellation.
func (s *Session) Run(ctx context.Context) error {
	start := s.Begin(ctx)
	err := s.loop(ctx, start)
	s.End(ctx)
	return err
}

// Begin stamps the start time and raises SessionStarted. Run calls it; a
// driver that calls Cycle directly calls Begin and End itself.
func (s *Session) Begin(ctx context.Context) time.Time {
	start := s.now()
	s.stats.update(func(st *Stats) { st.StartedAt = start })

	s.logger.InfoContext(ctx, "session started",
		slog.String("account", s.cfg.Account),
		slog.Duration("run_time", s.cfg.RunDuration),
		slog.Bool("run_once", s.cfg.Once()),
		slog.Duration("cycle_interval", s.cfg.CycleInterval),
	)
	s.observer.SessionStarted(ctx, s.Stats())
	return start
}

// End stamps the finish time and raises SessionFinished, even after an
// interrupt.
func (s *Session) End(ctx context.Context) {
	finished := s.now()
	s.stats.update(func(st *Stats) { st.FinishedAt = &finished })
	st := s.Stats()
	s.observer.SessionFinished(context.WithoutCancel(ctx), st)
	s.logger.InfoContext(ctx, "session finished",
		slog.Int("cycles", st.Cycles),
		slog.Int("accepted", st.Accepted),
		slog.Int("transport_failures", st.TransportFailures),
		slog.Duration("elapsed", finished.Sub(st.StartedAt)),
	)
}

func (s *Session) loop(ctx context.Context, start time.Time) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.cfg.RunDuration > 0 && s.now().Sub(start) > s.cfg.RunDuration {
			return nil
		}

		if err := s.Cycle(ctx); err != nil {
			return err
		}

		if s.cfg.Once() {
			return nil
		}

		mult := s.resolver.WaitMultiplier(s.cfg.Settings)
		if err := s.sleep(ctx, s.cfg.CycleInterval*time.Duration(mult)); err != nil {
			return err
		}
	}
}

// Cycle performs one submission cycle: renew the credential if needed,
// resolve and send an order, then act on the classified response. Transport
// failures are retried inside the cycle after a cooldown. The returned error
// is non-nil only on cancellation.
func (s *Session) Cycle(ctx context.Context) error {
	if err := s.ensureCredential(ctx); err != nil {
		return err
	}

	for {
		req, err := s.resolver.Resolve(s.cfg.Settings, s.cfg.Overrides, s.cfg.Side, s.now())
		if err != nil {
			s.logger.ErrorContext(ctx, "order resolution failed", slog.String("error", err.Error()))
			s.complete(ctx, domain.OrderRequest{Side: s.cfg.Side}, 0, outcomeInvalidOrder, nil)
			return nil
		}

		if s.throttle != nil {
			if err := s.throttle.Wait(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				s.logger.WarnContext(ctx, "throttle unavailable, submitting anyway", slog.String("error", err.Error()))
			}
		}

		callCtx, cancel := s.callContext(ctx)
		resp, err := s.submitter.SubmitOrder(callCtx, s.tokens.AccessToken(), req)
		cancel()
		if err != nil {
			s.stats.update(func(st *Stats) { st.TransportFailures++ })
			s.logger.ErrorContext(ctx, "marketplace unreachable, retrying after cooldown",
				slog.String("error", err.Error()),
				slog.Bool("transport", errors.Is(err, domain.ErrTransport)),
				slog.Duration("cooldown", s.cfg.Cooldown),
			)
			if err := s.sleep(ctx, s.cfg.Cooldown); err != nil {
				return err
			}
			continue
		}

		outcome := Classify(resp.StatusCode)
		s.logOutcome(ctx, outcome, resp, req)
		s.complete(ctx, req, resp.StatusCode, outcome.String(), resp.Body)

		if outcome.NeedsReauth() {
			return s.reauthenticate(ctx)
		}
		return nil
	}
}

// ensureCredential renews an expiring credential: refresh first, then fall
// back to password grants until one succeeds.
func (s *Session) ensureCredential(ctx context.Context) error {
	if !s.tokens.CheckExpiry() {
		return nil
	}
	callCtx, cancel := s.callContext(ctx)
	ok := s.tokens.RefreshToken(callCtx)
	cancel()
	if ok {
		return nil
	}
	return s.reauthenticate(ctx)
}

// reauthenticate retries password grants with a cooldown until one succeeds
// or ctx is cancelled.
func (s *Session) reauthenticate(ctx context.Context) error {
	for attempt := 1; ; attempt++ {
		callCtx, cancel := s.callContext(ctx)
		ok := s.tokens.RequestNewToken(callCtx)
		cancel()
		if ok {
			return nil
		}

		s.stats.update(func(st *Stats) { st.AuthFailures++ })
		s.logger.WarnContext(ctx, "authentication failed, retrying after cooldown",
			slog.Int("attempt", attempt),
			slog.Duration("cooldown", s.cfg.Cooldown),
		)
		s.observer.AuthFailed(ctx, s.Stats(), attempt)

		if err := s.sleep(ctx, s.cfg.Cooldown); err != nil {
			return err
		}
	}
}

// callContext bounds a network call without letting an interrupt abort it.
func (s *Session) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.cfg.CallTimeout)
}

func (s *Session) complete(ctx context.Context, req domain.OrderRequest, status int, outcome string, body []byte) {
	var cycle int
	s.stats.update(func(st *Stats) {
		st.Cycles++
		cycle = st.Cycles
		st.LastStatus = status
		st.LastOutcome = outcome
		if outcome == outcomeInvalidOrder {
			st.InvalidOrders++
			return
		}
		st.countOutcome(Classify(status))
	})

	s.observer.CycleCompleted(ctx, domain.Submission{
		ID:            uuid.NewString(),
		SessionID:     s.cfg.ID,
		Account:       s.cfg.Account,
		Side:          s.cfg.Side,
		Cycle:         cycle,
		StatusCode:    status,
		Outcome:       outcome,
		Power:         req.Power,
		Price:         req.Price,
		DeliveryStart: req.DeliveryStart,
		DeliveryEnd:   req.DeliveryEnd,
		ExpiryTime:    req.ExpiryTime,
		CountryCode:   req.CountryCode,
		LocationIDs:   req.LocationLabels(),
		ResponseBody:  truncate(body),
		CreatedAt:     s.now().UTC(),
	})
}

func (s *Session) logOutcome(ctx context.Context, outcome Outcome, resp glocalflex.Response, req domain.OrderRequest) {
	attrs := []any{
		slog.Int("status", resp.StatusCode),
		slog.String("outcome", outcome.String()),
	}

	switch outcome {
	case OutcomeAccepted:
		s.logger.InfoContext(ctx, "order accepted", append(attrs,
			slog.Float64("power", req.Power),
			slog.Float64("price", req.Price),
			slog.String("country", req.CountryCode),
			slog.Any("loc_ids", req.LocationLabels()),
			slog.String("delivery_start", order.FormatTimestamp(req.DeliveryStart)),
			slog.String("delivery_end", order.FormatTimestamp(req.DeliveryEnd)),
		)...)
	case OutcomeUnauthorized:
		s.logger.WarnContext(ctx, "order unauthorized, requesting new token", attrs...)
	case OutcomeRateLimited:
		s.logger.WarnContext(ctx, "too many requests", attrs...)
	case OutcomeRejected:
		s.logger.ErrorContext(ctx, "order rejected", append(attrs, slog.String("body", truncate(resp.Body)))...)
	default:
		s.logger.ErrorContext(ctx, "order request failed", append(attrs, slog.String("body", truncate(resp.Body)))...)
	}
}

func truncate(body []byte) string {
	if len(body) <= maxLoggedBody {
		return string(body)
	}
	return fmt.Sprintf("%s...(%d bytes)", body[:maxLoggedBody], len(body))
}

// sleepContext waits for d or until ctx is cancelled.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type nopObserver struct{}

func (nopObserver) SessionStarted(context.Context, Stats) {}
func (nopObserver) CycleCompleted(context.Context, domain.Submission) {}
func (nopObserver) AuthFailed(context.Context, Stats, int) {}
func (nopObserver) SessionFinished(context.Context, Stats) {}
