package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	s3blob "github.com/alanyoungcy/gflexbot/internal/blob/s3"
	"github.com/alanyoungcy/gflexbot/internal/cache/redis"
	"github.com/alanyoungcy/gflexbot/internal/config"
	"github.com/alanyoungcy/gflexbot/internal/domain"
	"github.com/alanyoungcy/gflexbot/internal/notify"
	"github.com/alanyoungcy/gflexbot/internal/platform/glocalflex"
	"github.com/alanyoungcy/gflexbot/internal/server/handler"
	"github.com/alanyoungcy/gflexbot/internal/store/postgres"
)

// Dependencies bundles the marketplace HTTP client and every optional
// backing service. A nil field means the corresponding section is disabled.
type Dependencies struct {
	// HTTPClient is shared by the token and order endpoints.
	HTTPClient *http.Client

	// Stores
	Submissions domain.SubmissionStore
	Audit       domain.AuditStore

	// Caches
	RateLimiter domain.RateLimiter
	Locks       domain.LockManager
	Bus         domain.EventBus

	// Blob storage
	Archiver domain.SessionArchiver

	// Notifications
	Notifier *notify.Notifier

	// Checks are probed by GET /api/health.
	Checks map[string]handler.Check
}

// Wire constructs the enabled dependencies from cfg and returns them with a
// cleanup function that releases them in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		HTTPClient: glocalflex.NewHTTPClient(cfg.Market.RequestTimeout.Duration, cfg.Market.SSLVerify),
		Checks:     make(map[string]handler.Check),
	}
	closers = append(closers, deps.HTTPClient.CloseIdleConnections)

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.Submissions = postgres.NewSubmissionStore(pool)
		deps.Audit = postgres.NewAuditStore(pool)
		deps.Checks["postgres"] = pgClient.Ping
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		if cfg.Redis.SessionLock {
			deps.Locks = redis.NewLockManager(redisClient)
		}
		if cfg.Redis.PublishEvents || strings.EqualFold(cfg.Mode, ModeWatch) {
			deps.Bus = redis.NewEventBus(redisClient)
		}
		deps.Checks["redis"] = redisClient.Ping
	}

	// --- S3 session archive (needs the journal as its source) ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		if deps.Submissions != nil {
			deps.Archiver = s3blob.NewArchiver(
				s3blob.NewObjects(s3Client),
				deps.Submissions,
				deps.Audit,
				cfg.S3.Prefix,
			)
		}
		deps.Checks["s3"] = s3Client.Health
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	logger.InfoContext(ctx, "dependencies wired",
		slog.Bool("postgres", deps.Submissions != nil),
		slog.Bool("redis", deps.RateLimiter != nil),
		slog.Bool("session_lock", deps.Locks != nil),
		slog.Bool("event_bus", deps.Bus != nil),
		slog.Bool("archive", deps.Archiver != nil),
		slog.Bool("notify", deps.Notifier.Enabled()),
	)
	return deps, cleanup, nil
}
