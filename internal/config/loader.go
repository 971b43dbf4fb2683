package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads the TOML file at path over Defaults, applies GFLEX_* environment
// overrides and returns the result. An empty path skips the file. The
// returned Config has NOT been validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides overwrites fields whose GFLEX_* variable is set and
// non-empty. The short names GFLEX_URL, GFLEX_USER and GFLEX_PASSWORD are
// accepted alongside the sectioned ones.
func applyEnvOverrides(cfg *Config) {
	// ── Market ──
	setStr(&cfg.Market.Host, "GFLEX_URL")
	setStr(&cfg.Market.Host, "GFLEX_MARKET_HOST")
	setStr(&cfg.Market.ClientID, "GFLEX_MARKET_CLIENT_ID")
	setBool(&cfg.Market.SSLVerify, "GFLEX_MARKET_SSL_VERIFY")
	setStr(&cfg.Market.AuthPath, "GFLEX_MARKET_AUTH_PATH")
	setStr(&cfg.Market.OrderPath, "GFLEX_MARKET_ORDER_PATH")
	setDuration(&cfg.Market.RequestTimeout, "GFLEX_MARKET_REQUEST_TIMEOUT")

	// ── User ──
	setStr(&cfg.User.Username, "GFLEX_USER")
	setStr(&cfg.User.Username, "GFLEX_USER_USERNAME")
	setStr(&cfg.User.Password, "GFLEX_PASSWORD")
	setStr(&cfg.User.Password, "GFLEX_USER_PASSWORD")
	setStr(&cfg.User.EncryptedPasswordPath, "GFLEX_USER_ENCRYPTED_PASSWORD_PATH")
	setStr(&cfg.User.KeyPassword, "GFLEX_USER_KEY_PASSWORD")

	// ── Accounts ──
	setStr(&cfg.Accounts.Buyer.Username, "GFLEX_BUYER_USERNAME")
	setStr(&cfg.Accounts.Buyer.Password, "GFLEX_BUYER_PASSWORD")
	setStr(&cfg.Accounts.Seller.Username, "GFLEX_SELLER_USERNAME")
	setStr(&cfg.Accounts.Seller.Password, "GFLEX_SELLER_PASSWORD")

	// ── Params ──
	setStr(&cfg.Params.Side, "GFLEX_PARAMS_SIDE")
	setInt(&cfg.Params.RunTime, "GFLEX_PARAMS_RUN_TIME")
	setFloat64(&cfg.Params.SleepTime, "GFLEX_PARAMS_SLEEP_TIME")
	setStr(&cfg.Params.Timezone, "GFLEX_PARAMS_TIMEZONE")
	setBool(&cfg.Params.RunOnce, "GFLEX_PARAMS_RUN_ONCE")
	setBool(&cfg.Params.Test, "GFLEX_PARAMS_TEST")
	setDuration(&cfg.Params.ExpiryMargin, "GFLEX_PARAMS_EXPIRY_MARGIN")
	setDuration(&cfg.Params.Cooldown, "GFLEX_PARAMS_COOLDOWN")

	// ── Order ──
	setFloat64Ptr(&cfg.Order.Quantity, "GFLEX_ORDER_QUANTITY")
	setFloat64Ptr(&cfg.Order.Price, "GFLEX_ORDER_PRICE")
	setStr(&cfg.Order.DeliveryStart, "GFLEX_ORDER_DELIVERY_START")
	setStr(&cfg.Order.DeliveryEnd, "GFLEX_ORDER_DELIVERY_END")
	setStr(&cfg.Order.ExpiryTime, "GFLEX_ORDER_EXPIRY_TIME")
	setStringSlice(&cfg.Order.LocationIDs, "GFLEX_ORDER_LOCATION_IDS")
	setStrPtr(&cfg.Order.CountryCode, "GFLEX_ORDER_COUNTRY_CODE")

	// ── Listener ──
	setBool(&cfg.Listener.Enabled, "GFLEX_LISTENER_ENABLED")
	setStringSlice(&cfg.Listener.Endpoints, "GFLEX_LISTENER_ENDPOINTS")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "GFLEX_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "GFLEX_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "GFLEX_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "GFLEX_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "GFLEX_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "GFLEX_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "GFLEX_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "GFLEX_POSTGRES_SSL_MODE")
	setBool(&cfg.Postgres.RunMigrations, "GFLEX_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "GFLEX_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "GFLEX_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "GFLEX_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "GFLEX_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "GFLEX_REDIS_TLS_ENABLED")
	setInt(&cfg.Redis.RateLimitPerMinute, "GFLEX_REDIS_RATE_LIMIT_PER_MINUTE")
	setBool(&cfg.Redis.SessionLock, "GFLEX_REDIS_SESSION_LOCK")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "GFLEX_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "GFLEX_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "GFLEX_S3_REGION")
	setStr(&cfg.S3.Bucket, "GFLEX_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "GFLEX_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "GFLEX_S3_SECRET_KEY")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "GFLEX_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "GFLEX_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "GFLEX_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "GFLEX_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimitPerMinute, "GFLEX_SERVER_RATE_LIMIT_PER_MINUTE")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "GFLEX_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "GFLEX_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "GFLEX_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "GFLEX_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "GFLEX_MODE")
	setStr(&cfg.LogLevel, "GFLEX_LOG_LEVEL")
	setStr(&cfg.LogFile, "GFLEX_LOG_FILE")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setStrPtr(dst **string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		// An explicitly empty country code is meaningful.
		s := strings.TrimSpace(v)
		*dst = &s
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setFloat64Ptr(dst **float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = &f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = SplitList(v)
	}
}

// SplitList splits a comma-separated list, trimming spaces. Empty items are
// kept so "a,,b" carries an unset location in the middle.
func SplitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = strings.TrimSpace(p)
	}
	return out
}
