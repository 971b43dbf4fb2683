package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/gflexbot/internal/cache/redis"
	"github.com/alanyoungcy/gflexbot/internal/domain"
	"github.com/alanyoungcy/gflexbot/internal/notify"
	"github.com/alanyoungcy/gflexbot/internal/session"
)

const (
	sideEffectTimeout = 10 * time.Second
	// authAlertEvery limits auth_failed alerts during a long outage.
	authAlertEvery = 10
)

// observer fans session events out to the journal, the event bus, the audit
// log, notifications and the archive. Every sink is optional and a failing
// sink only logs a warning.
type observer struct {
	deps   *Dependencies
	host   string
	logger *slog.Logger
}

var _ session.Observer = (*observer)(nil)

func newObserver(deps *Dependencies, host string, logger *slog.Logger) *observer {
	return &observer{
		deps:   deps,
		host:   host,
		logger: logger.With(slog.String("component", "session_observer")),
	}
}

func (o *observer) SessionStarted(ctx context.Context, st session.Stats) {
	ctx, cancel := sinkContext(ctx)
	defer cancel()

	o.audit(ctx, "session.started", st, nil)
	o.notify(ctx, notify.EventSessionStarted,
		fmt.Sprintf("GLocalFlex %s session started", st.Side),
		fmt.Sprintf("account %s on %s (session %s)", st.Account, o.host, st.SessionID),
	)
}

func (o *observer) CycleCompleted(ctx context.Context, sub domain.Submission) {
	ctx, cancel := sinkContext(ctx)
	defer cancel()

	if o.deps.Submissions != nil {
		if err := o.deps.Submissions.Insert(ctx, sub); err != nil {
			o.warn(ctx, "journal insert failed", err, slog.Int("cycle", sub.Cycle))
		}
	}
	if o.deps.Bus != nil {
		if err := redis.PublishJSON(ctx, o.deps.Bus, redis.OrdersChannel(sub.Side), sub); err != nil {
			o.warn(ctx, "publish outcome failed", err, slog.Int("cycle", sub.Cycle))
		}
	}
	if sub.Outcome == session.OutcomeRejected.String() {
		o.notify(ctx, notify.EventOrderRejected,
			fmt.Sprintf("GLocalFlex %s order rejected", sub.Side),
			fmt.Sprintf("cycle %d: power=%g price=%.2f country=%q\n%s",
				sub.Cycle, sub.Power, sub.Price, sub.CountryCode, sub.ResponseBody),
		)
	}
}

func (o *observer) AuthFailed(ctx context.Context, st session.Stats, attempt int) {
	ctx, cancel := sinkContext(ctx)
	defer cancel()

	o.audit(ctx, "auth.failed", st, map[string]any{"attempt": attempt})
	if attempt == 1 || attempt%authAlertEvery == 0 {
		o.notify(ctx, notify.EventAuthFailed,
			fmt.Sprintf("GLocalFlex authentication failed for %s", st.Account),
			fmt.Sprintf("%s session %s, attempt %d", st.Side, st.SessionID, attempt),
		)
	}
}

func (o *observer) SessionFinished(ctx context.Context, st session.Stats) {
	ctx, cancel := sinkContext(ctx)
	defer cancel()

	o.audit(ctx, "session.finished", st, map[string]any{
		"cycles":             st.Cycles,
		"accepted":           st.Accepted,
		"rejected":           st.Rejected,
		"transport_failures": st.TransportFailures,
	})
	o.notify(ctx, notify.EventSessionFinished,
		fmt.Sprintf("GLocalFlex %s session finished", st.Side),
		fmt.Sprintf("account %s: %d cycles, %d accepted, %d rejected, %d rate limited",
			st.Account, st.Cycles, st.Accepted, st.Rejected, st.RateLimited),
	)

	if o.deps.Archiver != nil && st.Cycles > 0 {
		path, n, err := o.deps.Archiver.ArchiveSession(ctx, st.SessionID, st.Side)
		if err != nil {
			o.warn(ctx, "session archive failed", err)
			return
		}
		o.logger.InfoContext(ctx, "session archived",
			slog.String("session_id", st.SessionID),
			slog.String("path", path),
			slog.Int("records", n),
		)
	}
}

// sinkContext detaches from cancellation so events raised during shutdown
// still reach the sinks.
func sinkContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
}

func (o *observer) audit(ctx context.Context, event string, st session.Stats, extra map[string]any) {
	if o.deps.Audit == nil {
		return
	}
	detail := map[string]any{
		"session_id": st.SessionID,
		"account":    st.Account,
		"side":       st.Side,
		"host":       o.host,
	}
	for k, v := range extra {
		detail[k] = v
	}
	if err := o.deps.Audit.Log(ctx, event, detail); err != nil {
		o.warn(ctx, "audit log failed", err, slog.String("event", event))
	}
}

func (o *observer) notify(ctx context.Context, event, title, message string) {
	if !o.deps.Notifier.Enabled() {
		return
	}
	if err := o.deps.Notifier.Notify(ctx, event, title, message); err != nil {
		o.warn(ctx, "notification failed", err, slog.String("event", event))
	}
}

func (o *observer) warn(ctx context.Context, msg string, err error, attrs ...any) {
	o.logger.WarnContext(ctx, msg, append(attrs, slog.String("error", err.Error()))...)
}
