// Package config defines the configuration of gflexbot and the rules that
// make a configuration usable.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/gflexbot/internal/domain"
	"github.com/alanyoungcy/gflexbot/internal/order"
)

// Config is the root configuration. Fields come from a TOML file, then
// GFLEX_* environment variables, then command-line flags.
type Config struct {
	Mode     string `toml:"mode"`
	LogLevel string `toml:"log_level"`
	LogFile  string `toml:"log_file"`

	Market     MarketConfig     `toml:"market"`
	User       UserConfig       `toml:"user"`
	Accounts   AccountsConfig   `toml:"accounts"`
	Params     ParamsConfig     `toml:"params"`
	Buyer      SideConfig       `toml:"buyer"`
	Seller     SideConfig       `toml:"seller"`
	Order      OrderConfig      `toml:"order"`
	Listener   ListenerConfig   `toml:"listener"`
	Simulation SimulationConfig `toml:"simulation"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
}

// MarketConfig locates the marketplace endpoints.
type MarketConfig struct {
	Host           string   `toml:"host"`
	ClientID       string   `toml:"client_id"`
	SSLVerify      bool     `toml:"ssl_verify"`
	AuthPath       string   `toml:"auth_path"`
	OrderPath      string   `toml:"order_path"`
	RequestTimeout duration `toml:"request_timeout"`
}

// UserConfig holds one account's credentials. The password may instead be
// read from a file written by gflexkey.
type UserConfig struct {
	Username              string `toml:"username"`
	Password              string `toml:"password"`
	EncryptedPasswordPath string `toml:"encrypted_password_path"`
	KeyPassword           string `toml:"key_password"`
}

// Set reports whether a username is configured.
func (u UserConfig) Set() bool { return u.Username != "" }

// AccountsConfig holds per-side accounts for dual mode. Empty entries fall
// back to [user].
type AccountsConfig struct {
	Buyer  UserConfig `toml:"buyer"`
	Seller UserConfig `toml:"seller"`
}

// ParamsConfig controls the submission loop.
type ParamsConfig struct {
	Side string `toml:"side"`
	// RunTime in seconds. Zero runs until interrupted, negative sends one order.
	RunTime int `toml:"run_time"`
	// SleepTime in seconds is the base pacing interval.
	SleepTime    float64  `toml:"sleep_time"`
	Timezone     string   `toml:"timezone"`
	RunOnce      bool     `toml:"run_once"`
	Test         bool     `toml:"test"`
	ExpiryMargin duration `toml:"expiry_margin"`
	Cooldown     duration `toml:"cooldown"`
}

// RunDuration converts RunTime to a duration.
func (p ParamsConfig) RunDuration() time.Duration {
	return time.Duration(p.RunTime) * time.Second
}

// CycleInterval converts SleepTime to a duration.
func (p ParamsConfig) CycleInterval() time.Duration {
	return time.Duration(p.SleepTime * float64(time.Second))
}

// Location loads the configured timezone, UTC when unset.
func (p ParamsConfig) Location() (*time.Location, error) {
	if p.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(p.Timezone)
}

// SideConfig bounds the randomised order parameters of one side.
type SideConfig struct {
	QuantityMin       int             `toml:"quantity_min"`
	QuantityMax       int             `toml:"quantity_max"`
	PriceMin          float64         `toml:"price_min"`
	PriceMax          float64         `toml:"price_max"`
	WaitMultiplierMin int             `toml:"wait_multiplier_min"`
	WaitMultiplierMax int             `toml:"wait_multiplier_max"`
	Baseline          *BaselineConfig `toml:"baseline"`
}

// Settings converts the section to resolver settings.
func (s SideConfig) Settings() domain.SideSettings {
	out := domain.SideSettings{
		QuantityMin:       s.QuantityMin,
		QuantityMax:       s.QuantityMax,
		PriceMin:          s.PriceMin,
		PriceMax:          s.PriceMax,
		WaitMultiplierMin: s.WaitMultiplierMin,
		WaitMultiplierMax: s.WaitMultiplierMax,
	}
	if s.Baseline != nil {
		out.Baseline = s.Baseline.toDomain()
	}
	return out
}

// BaselineConfig is the metering payload attached to sell orders.
type BaselineConfig struct {
	MeteringID    string               `toml:"metering_id"`
	CreatedAt     string               `toml:"created_at"`
	ReadingStart  string               `toml:"reading_start"`
	ReadingEnd    string               `toml:"reading_end"`
	Resolution    int                  `toml:"resolution"`
	Direction     string               `toml:"direction"`
	Quality       string               `toml:"quality"`
	EnergyProduct string               `toml:"energy_product"`
	UnitMeasured  string               `toml:"unit_measured"`
	DataPoints    []map[string]float64 `toml:"data_points"`
}

func (b *BaselineConfig) toDomain() *domain.Baseline {
	points := make([]map[string]float64, len(b.DataPoints))
	for i, p := range b.DataPoints {
		m := make(map[string]float64, len(p))
		for k, v := range p {
			m[k] = v
		}
		points[i] = m
	}
	return &domain.Baseline{
		MeteringID:    b.MeteringID,
		CreatedAt:     b.CreatedAt,
		ReadingStart:  b.ReadingStart,
		ReadingEnd:    b.ReadingEnd,
		Resolution:    b.Resolution,
		Direction:     b.Direction,
		Quality:       b.Quality,
		EnergyProduct: b.EnergyProduct,
		UnitMeasured:  b.UnitMeasured,
		DataPoints:    points,
	}
}

func baselineFromDomain(b *domain.Baseline) *BaselineConfig {
	return &BaselineConfig{
		MeteringID:    b.MeteringID,
		CreatedAt:     b.CreatedAt,
		ReadingStart:  b.ReadingStart,
		ReadingEnd:    b.ReadingEnd,
		Resolution:    b.Resolution,
		Direction:     b.Direction,
		Quality:       b.Quality,
		EnergyProduct: b.EnergyProduct,
		UnitMeasured:  b.UnitMeasured,
		DataPoints:    b.DataPoints,
	}
}

// OrderConfig holds operator overrides. Times are strings in the formats
// accepted by order.ParseTimestamp, interpreted in params.timezone.
type OrderConfig struct {
	Quantity      *float64 `toml:"quantity"`
	Price         *float64 `toml:"price"`
	DeliveryStart string   `toml:"delivery_start"`
	DeliveryEnd   string   `toml:"delivery_end"`
	ExpiryTime    string   `toml:"expiry_time"`
	LocationIDs   []string `toml:"location_ids"`
	CountryCode   *string  `toml:"country_code"`
}

// Overrides parses the section into resolver overrides.
func (o OrderConfig) Overrides(loc *time.Location) (domain.OrderOverrides, error) {
	out := domain.OrderOverrides{
		Quantity:    o.Quantity,
		Price:       o.Price,
		CountryCode: o.CountryCode,
	}
	if o.LocationIDs != nil {
		out.LocationIDs = append([]string(nil), o.LocationIDs...)
	}
	var err error
	if out.DeliveryStart, err = parseOptionalTime("delivery_start", o.DeliveryStart, loc); err != nil {
		return domain.OrderOverrides{}, err
	}
	if out.DeliveryEnd, err = parseOptionalTime("delivery_end", o.DeliveryEnd, loc); err != nil {
		return domain.OrderOverrides{}, err
	}
	if out.ExpiryTime, err = parseOptionalTime("expiry_time", o.ExpiryTime, loc); err != nil {
		return domain.OrderOverrides{}, err
	}
	return out, nil
}

func parseOptionalTime(field, s string, loc *time.Location) (*time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	t, err := order.ParseTimestamp(s, loc)
	if err != nil {
		return nil, fmt.Errorf("config: order.%s: %w", field, err)
	}
	return &t, nil
}

// ListenerConfig controls the websocket push listener.
type ListenerConfig struct {
	// Enabled runs the listener next to trade and dual modes.
	Enabled      bool     `toml:"enabled"`
	Endpoints    []string `toml:"endpoints"`
	ReconnectMin duration `toml:"reconnect_min"`
	ReconnectMax duration `toml:"reconnect_max"`
}

// SimulationConfig describes a population of traders that order at random.
type SimulationConfig struct {
	RunTime   duration       `toml:"run_time"`
	SleepTime duration       `toml:"sleep_time"`
	Workers   int            `toml:"workers"`
	Traders   []TraderConfig `toml:"traders"`
}

// TraderConfig is one simulated account.
type TraderConfig struct {
	Username    string  `toml:"username"`
	Password    string  `toml:"password"`
	Side        string  `toml:"side"`
	QuantityMin int     `toml:"quantity_min"`
	QuantityMax int     `toml:"quantity_max"`
	PriceMin    float64 `toml:"price_min"`
	PriceMax    float64 `toml:"price_max"`
	// Probability in [0,1] of ordering in a round.
	Probability float64 `toml:"probability"`
}

// PostgresConfig holds the journal database connection.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds the redis connection and the features that use it.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`

	// RateLimitPerMinute caps submissions per account and side; 0 disables.
	RateLimitPerMinute int      `toml:"rate_limit_per_minute"`
	SessionLock        bool     `toml:"session_lock"`
	LockTTL            duration `toml:"lock_ttl"`
	PublishEvents      bool     `toml:"publish_events"`
}

// S3Config holds the session archive bucket.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ServerConfig holds the status API parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey protects everything except /api/health. Empty disables auth.
	APIKey string `toml:"api_key"`
	// RateLimitPerMinute caps requests per client IP when redis is enabled.
	RateLimitPerMinute int `toml:"rate_limit_per_minute"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration wraps time.Duration so TOML strings like "30s" decode.
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config with the stock marketplace endpoints and
// parameter ranges.
func Defaults() Config {
	return Config{
		Mode:     "trade",
		LogLevel: "info",
		Market: MarketConfig{
			Host:           "test.glocalflexmarket.com",
			ClientID:       "glocalflexmarket_public_api",
			SSLVerify:      true,
			AuthPath:       "/auth/oauth/v2/token",
			OrderPath:      "/api/v1/order/",
			RequestTimeout: duration{30 * time.Second},
		},
		Params: ParamsConfig{
			Side:         "buy",
			RunTime:      0,
			SleepTime:    1,
			Timezone:     "UTC",
			ExpiryMargin: duration{60 * time.Second},
			Cooldown:     duration{5 * time.Second},
		},
		Buyer: SideConfig{
			QuantityMin:       1000,
			QuantityMax:       2000,
			PriceMin:          0.5,
			PriceMax:          1.5,
			WaitMultiplierMin: 1,
			WaitMultiplierMax: 5,
		},
		Seller: SideConfig{
			QuantityMin:       100,
			QuantityMax:       10000,
			PriceMin:          0.1,
			PriceMax:          1.0,
			WaitMultiplierMin: 1,
			WaitMultiplierMax: 5,
			Baseline:          baselineFromDomain(order.DefaultBaseline()),
		},
		Listener: ListenerConfig{
			Endpoints:    []string{"/api/v1/ws/trade/"},
			ReconnectMin: duration{2 * time.Second},
			ReconnectMax: duration{60 * time.Second},
		},
		Simulation: SimulationConfig{
			RunTime:   duration{10 * time.Second},
			SleepTime: duration{10 * time.Millisecond},
			Workers:   8,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "gflexbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  5,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:          "localhost:6379",
			PoolSize:      10,
			MaxRetries:    3,
			SessionLock:   true,
			LockTTL:       duration{30 * time.Second},
			PublishEvents: true,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "gflexbot-sessions",
			Prefix:         "sessions",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Port: 8080,
		},
		Notify: NotifyConfig{
			Events: []string{"auth_failed", "session_started", "session_finished", "order_rejected"},
		},
	}
}

var validModes = map[string]bool{
	"trade":    true,
	"dual":     true,
	"listen":   true,
	"simulate": true,
	"watch":    true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// SideSettings returns the resolver settings for side.
func (c *Config) SideSettings(side domain.Side) domain.SideSettings {
	if side == domain.SideSell {
		return c.Seller.Settings()
	}
	return c.Buyer.Settings()
}

// Account returns the credentials used for side, preferring the per-side
// account over [user].
func (c *Config) Account(side domain.Side) UserConfig {
	switch side {
	case domain.SideBuy:
		if c.Accounts.Buyer.Set() {
			return c.Accounts.Buyer
		}
	case domain.SideSell:
		if c.Accounts.Seller.Set() {
			return c.Accounts.Seller
		}
	}
	return c.User
}

// Validate checks c and returns one error listing every problem found.
func (c *Config) Validate() error {
	var errs []string

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, dual, listen, simulate, watch)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Market
	if c.Market.Host == "" {
		errs = append(errs, "market: host must not be empty")
	}
	if c.Market.ClientID == "" {
		errs = append(errs, "market: client_id must not be empty")
	}
	if !strings.HasPrefix(c.Market.AuthPath, "/") {
		errs = append(errs, "market: auth_path must start with /")
	}
	if !strings.HasPrefix(c.Market.OrderPath, "/") {
		errs = append(errs, "market: order_path must start with /")
	}

	// Params
	if _, err := domain.ParseSide(c.Params.Side); err != nil && (mode == "trade" || mode == "listen") {
		errs = append(errs, "params: "+err.Error())
	}
	if c.Params.SleepTime < 0 {
		errs = append(errs, "params: sleep_time must be >= 0")
	}
	if c.Params.ExpiryMargin.Duration < 0 {
		errs = append(errs, "params: expiry_margin must be >= 0")
	}
	if c.Params.Cooldown.Duration <= 0 {
		errs = append(errs, "params: cooldown must be > 0")
	}
	loc, err := c.Params.Location()
	if err != nil {
		errs = append(errs, fmt.Sprintf("params: timezone %q: %v", c.Params.Timezone, err))
		loc = time.UTC
	}

	// Accounts
	switch mode {
	case "trade", "listen":
		errs = append(errs, checkUser("user", c.User)...)
	case "dual":
		errs = append(errs, checkUser("accounts.buyer", c.Account(domain.SideBuy))...)
		errs = append(errs, checkUser("accounts.seller", c.Account(domain.SideSell))...)
	}

	// Side ranges
	if err := c.Buyer.Settings().Validate(); err != nil {
		errs = append(errs, "buyer: "+err.Error())
	}
	if err := c.Seller.Settings().Validate(); err != nil {
		errs = append(errs, "seller: "+err.Error())
	}

	// Order overrides
	ov, err := c.Order.Overrides(loc)
	if err != nil {
		errs = append(errs, err.Error())
	}
	if ov.CountryCode != nil && !order.ValidCountry(*ov.CountryCode) {
		errs = append(errs, fmt.Sprintf("order: country_code %q is not one of %s", *ov.CountryCode, strings.Join(order.CountryCodes, ", ")))
	}
	if ov.Quantity != nil && *ov.Quantity <= 0 {
		errs = append(errs, "order: quantity must be > 0")
	}
	if ov.Price != nil && *ov.Price < 0 {
		errs = append(errs, "order: price must be >= 0")
	}
	if ov.DeliveryStart != nil && ov.DeliveryEnd != nil && !ov.DeliveryStart.Before(*ov.DeliveryEnd) {
		errs = append(errs, "order: delivery_start must be before delivery_end")
	}
	if (mode == "trade" || mode == "dual") && !c.Params.Test {
		for _, m := range ov.Missing() {
			errs = append(errs, fmt.Sprintf("order: %s is required unless params.test is set", m))
		}
	}

	// Listener
	if mode == "listen" || c.Listener.Enabled {
		if len(c.Listener.Endpoints) == 0 {
			errs = append(errs, "listener: at least one endpoint is required")
		}
		for _, ep := range c.Listener.Endpoints {
			if !strings.HasPrefix(ep, "/") {
				errs = append(errs, fmt.Sprintf("listener: endpoint %q must start with /", ep))
			}
		}
		if c.Listener.ReconnectMin.Duration <= 0 || c.Listener.ReconnectMax.Duration < c.Listener.ReconnectMin.Duration {
			errs = append(errs, "listener: need 0 < reconnect_min <= reconnect_max")
		}
	}

	if mode == "watch" && !c.Redis.Enabled {
		errs = append(errs, "redis: watch mode needs redis.enabled")
	}

	// Simulation
	if mode == "simulate" {
		if len(c.Simulation.Traders) == 0 {
			errs = append(errs, "simulation: at least one trader is required")
		}
		if c.Simulation.Workers < 1 {
			errs = append(errs, "simulation: workers must be >= 1")
		}
		if c.Simulation.SleepTime.Duration <= 0 {
			errs = append(errs, "simulation: sleep_time must be > 0")
		}
		for i, t := range c.Simulation.Traders {
			errs = append(errs, checkTrader(i, t)...)
		}
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
		if c.Redis.RateLimitPerMinute < 0 {
			errs = append(errs, "redis: rate_limit_per_minute must be >= 0")
		}
		if c.Redis.SessionLock && c.Redis.LockTTL.Duration < time.Second {
			errs = append(errs, "redis: lock_ttl must be at least 1s")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if !c.Postgres.Enabled {
			errs = append(errs, "s3: archiving requires postgres.enabled")
		}
	}

	// Server
	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.RateLimitPerMinute < 0 {
		errs = append(errs, fmt.Sprintf("server: rate_limit_per_minute must be >= 0, got %d", c.Server.RateLimitPerMinute))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func checkUser(section string, u UserConfig) []string {
	var errs []string
	if u.Username == "" {
		errs = append(errs, section+": username must be set")
	}
	if u.Password == "" && u.EncryptedPasswordPath == "" {
		errs = append(errs, section+": either password or encrypted_password_path must be set")
	}
	if u.EncryptedPasswordPath != "" && u.KeyPassword == "" {
		errs = append(errs, section+": key_password is required when encrypted_password_path is set")
	}
	return errs
}

func checkTrader(i int, t TraderConfig) []string {
	var errs []string
	prefix := fmt.Sprintf("simulation.traders[%d]", i)
	if t.Username == "" || t.Password == "" {
		errs = append(errs, prefix+": username and password must be set")
	}
	if _, err := domain.ParseSide(t.Side); err != nil {
		errs = append(errs, prefix+": "+err.Error())
	}
	if t.QuantityMin > t.QuantityMax {
		errs = append(errs, prefix+": quantity_min > quantity_max")
	}
	if t.PriceMin > t.PriceMax {
		errs = append(errs, prefix+": price_min > price_max")
	}
	if t.Probability < 0 || t.Probability > 1 {
		errs = append(errs, prefix+": probability must be within [0, 1]")
	}
	return errs
}
