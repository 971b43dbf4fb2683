package app

import (
	"github.com/alanyoungcy/gflexbot/internal/server"
	"github.com/alanyoungcy/gflexbot/internal/server/handler"
)

type feedCounter = handler.FeedCounter

// newServer builds the status API. feed may be nil when no listener runs.
func (a *App) newServer(deps *Dependencies, feed feedCounter) *server.Server {
	handlers := server.Handlers{
		Health:   handler.NewHealthHandler(deps.Checks, a.logger),
		Status:   handler.NewStatusHandler(a.cfg.Mode, a.cfg.Market.Host, feed),
		Sessions: handler.NewSessionHandler(a.registry, a.logger),
	}
	if deps.Submissions != nil && deps.Audit != nil {
		handlers.Submissions = handler.NewSubmissionHandler(deps.Submissions, deps.Audit, a.logger)
	}
	return server.NewServer(server.Config{
		Port:               a.cfg.Server.Port,
		CORSOrigins:        a.cfg.Server.CORSOrigins,
		APIKey:             a.cfg.Server.APIKey,
		Limiter:            deps.RateLimiter,
		RateLimitPerMinute: a.cfg.Server.RateLimitPerMinute,
	}, handlers, a.logger)
}
