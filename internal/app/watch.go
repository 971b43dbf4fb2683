package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/alanyoungcy/gflexbot/internal/cache/redis"
	"github.com/alanyoungcy/gflexbot/internal/domain"
)

// WatchMode logs every cycle outcome published on the event bus by other
// gflexbot processes until ctx is cancelled.
func (a *App) WatchMode(ctx context.Context, deps *Dependencies) error {
	if deps.Bus == nil {
		return errors.New("watch mode: event bus not configured")
	}
	return a.watch(ctx, deps.Bus, redis.AllOrdersChannels)
}

func (a *App) watch(ctx context.Context, bus domain.EventBus, channel string) error {
	payloads, err := bus.Subscribe(ctx, channel)
	if err != nil {
		return err
	}
	a.logger.InfoContext(ctx, "watching order outcomes", slog.String("channel", channel))

	counts := make(map[string]int)
	for payload := range payloads {
		var sub domain.Submission
		if err := json.Unmarshal(payload, &sub); err != nil {
			a.logger.WarnContext(ctx, "undecodable outcome event", slog.String("error", err.Error()))
			continue
		}
		counts[sub.Outcome]++
		a.logger.InfoContext(ctx, "order outcome",
			slog.String("session_id", sub.SessionID),
			slog.String("account", sub.Account),
			slog.String("side", sub.Side.String()),
			slog.Int("cycle", sub.Cycle),
			slog.Int("status", sub.StatusCode),
			slog.String("outcome", sub.Outcome),
			slog.Float64("power", sub.Power),
			slog.Float64("price", sub.Price),
		)
	}

	a.logger.InfoContext(ctx, "watch stopped", slog.Any("outcomes", counts))
	return ctx.Err()
}
