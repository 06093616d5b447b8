// Package config defines the top-level configuration for the order-flow
// monitor and provides validation helpers.
package config

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by ORDERFLOW_* environment variables.
type Config struct {
	Bybit       BybitConfig       `toml:"bybit"`
	Trading     TradingConfig     `toml:"trading"`
	Validation  ValidationConfig  `toml:"validation"`
	Metrics     MetricsConfig     `toml:"metrics"`
	Monitor     MonitorConfig     `toml:"monitor"`
	Performance PerformanceConfig `toml:"performance"`
	Redis       RedisConfig       `toml:"redis"`
	Postgres    PostgresConfig    `toml:"postgres"`
	S3          S3Config          `toml:"s3"`
	Kafka       KafkaConfig       `toml:"kafka"`
	Archive     ArchiveConfig     `toml:"archive"`
	Server      ServerConfig      `toml:"server"`
	Notify      NotifyConfig      `toml:"notify"`
	Mode        string            `toml:"mode"`
	LogLevel    string            `toml:"log_level"`
}

// BybitConfig holds the websocket endpoint and optional API credentials.
type BybitConfig struct {
	// WSURL overrides the endpoint derived from Testnet.
	WSURL     string `toml:"ws_url"`
	Testnet   bool   `toml:"testnet"`
	APIKey    string `toml:"api_key"`
	APISecret string `toml:"api_secret"`
	// SecretFile is an encrypted api_secret, used when APISecret is empty.
	SecretFile        string   `toml:"secret_file"`
	SecretPassword    string   `toml:"secret_password"`
	PingPeriod        duration `toml:"ping_period"`
	ReconnectDelay    duration `toml:"reconnect_delay"`
	MaxReconnectDelay duration `toml:"max_reconnect_delay"`
}

// TradingConfig selects the instrument and the order book topic depth.
type TradingConfig struct {
	Symbol string `toml:"symbol"`
	Depth  int    `toml:"depth"`
}

// ValidationConfig holds the adaptive validator thresholds.
type ValidationConfig struct {
	Enabled                bool     `toml:"enabled"`
	MaxSpreadMultiplier    float64  `toml:"max_spread_multiplier"`
	MinLiquidityMultiplier float64  `toml:"min_liquidity_multiplier"`
	MaxDataAge             duration `toml:"max_data_age"`
	MinDepthLevels         int      `toml:"min_depth_levels"`
}

// MetricsConfig holds the flow-metrics parameters.
type MetricsConfig struct {
	DepthLevels    []int      `toml:"depth_levels"`
	WhaleThreshold float64    `toml:"whale_threshold"`
	MinWhaleSize   float64    `toml:"min_whale_size"`
	WhaleMaxAge    duration   `toml:"whale_max_age"`
	DeltaWindows   []duration `toml:"delta_windows"`
	CycleInterval  duration   `toml:"cycle_interval"`
}

// MonitorConfig holds the summary cadence and the alert thresholds.
type MonitorConfig struct {
	SummaryInterval       duration `toml:"summary_interval"`
	NotifySummaryInterval duration `toml:"notify_summary_interval"`
	LiquidityDepth        int      `toml:"liquidity_depth"`
	MaxSpreadPct          float64  `toml:"max_spread_pct"`
	MaxLatency            duration `toml:"max_latency"`
	MinLiquidity          float64  `toml:"min_liquidity"`
	SinkTimeout           duration `toml:"sink_timeout"`
}

// PerformanceConfig holds the slow-update warning thresholds.
type PerformanceConfig struct {
	SlowSnapshot duration `toml:"slow_snapshot"`
	SlowDelta    duration `toml:"slow_delta"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled      bool     `toml:"enabled"`
	Addr         string   `toml:"addr"`
	Password     string   `toml:"password"`
	DB           int      `toml:"db"`
	PoolSize     int      `toml:"pool_size"`
	MaxRetries   int      `toml:"max_retries"`
	TLSEnabled   bool     `toml:"tls_enabled"`
	KeyPrefix    string   `toml:"key_prefix"`
	MirrorDepth  int      `toml:"mirror_depth"`
	BookTTL      duration `toml:"book_ttl"`
	StreamMaxLen int64    `toml:"stream_max_len"`
}

// PostgresConfig holds the validation history database parameters.
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

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// KafkaConfig holds the stats producer parameters.
type KafkaConfig struct {
	Enabled      bool     `toml:"enabled"`
	Brokers      []string `toml:"brokers"`
	Topic        string   `toml:"topic"`
	BatchSize    int      `toml:"batch_size"`
	BatchTimeout duration `toml:"batch_timeout"`
	RequireAll   bool     `toml:"require_all"`
}

// ArchiveConfig holds the S3 stats archive parameters.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	Prefix        string   `toml:"prefix"`
	FlushInterval duration `toml:"flush_interval"`
	// Cron, when set, replaces FlushInterval ("*/15 * * * *").
	Cron     string `toml:"cron"`
	MaxBatch int    `toml:"max_batch"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	// RateLimit is requests per client per RateWindow; zero disables it.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
	// MaxDataAge marks /api/health degraded once the book is older.
	MaxDataAge duration `toml:"max_data_age"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	StartupCooldown   duration `toml:"startup_cooldown"`
	// ThrottleLimit notifications per key per ThrottleWindow.
	ThrottleLimit  int      `toml:"throttle_limit"`
	ThrottleWindow duration `toml:"throttle_window"`
}

// Durations flattens MetricsConfig.DeltaWindows.
func (m MetricsConfig) Durations() []time.Duration {
	out := make([]time.Duration, len(m.DeltaWindows))
	for i, d := range m.DeltaWindows {
		out[i] = d.Duration
	}
	return out
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Bybit: BybitConfig{
			PingPeriod:        duration{20 * time.Second},
			ReconnectDelay:    duration{5 * time.Second},
			MaxReconnectDelay: duration{60 * time.Second},
		},
		Trading: TradingConfig{
			Symbol: "BTCUSDT",
			Depth:  50,
		},
		Validation: ValidationConfig{
			Enabled:                true,
			MaxSpreadMultiplier:    3.0,
			MinLiquidityMultiplier: 0.25,
			MaxDataAge:             duration{5 * time.Second},
			MinDepthLevels:         5,
		},
		Metrics: MetricsConfig{
			DepthLevels:    []int{5, 10, 20},
			WhaleThreshold: 3.0,
			MinWhaleSize:   0.5,
			WhaleMaxAge:    duration{time.Minute},
			DeltaWindows:   []duration{{time.Second}, {5 * time.Second}, {30 * time.Second}},
			CycleInterval:  duration{time.Second},
		},
		Monitor: MonitorConfig{
			SummaryInterval: duration{5 * time.Second},
			LiquidityDepth:  10,
			MaxSpreadPct:    0.001,
			MaxLatency:      duration{time.Second},
			MinLiquidity:    10,
			SinkTimeout:     duration{2 * time.Second},
		},
		Performance: PerformanceConfig{
			SlowSnapshot: duration{100 * time.Microsecond},
			SlowDelta:    duration{50 * time.Microsecond},
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			KeyPrefix:    "orderflow:",
			MirrorDepth:  50,
			BookTTL:      duration{time.Minute},
			StreamMaxLen: 10000,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  4,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "orderflow-data",
			ForcePathStyle: true,
		},
		Kafka: KafkaConfig{
			Brokers:      []string{"localhost:9092"},
			Topic:        "orderflow.book-stats",
			BatchSize:    100,
			BatchTimeout: duration{time.Second},
		},
		Archive: ArchiveConfig{
			Prefix:        "archive/stats",
			FlushInterval: duration{5 * time.Minute},
			MaxBatch:      1000,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateWindow:  duration{time.Minute},
			MaxDataAge:  duration{5 * time.Second},
		},
		Notify: NotifyConfig{
			Events:          []string{"startup", "shutdown", "validation", "alert", "error"},
			StartupCooldown: duration{10 * time.Minute},
			ThrottleLimit:   3,
			ThrottleWindow:  duration{time.Minute},
		},
		Mode:     "monitor",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"monitor": true,
	"full":    true,
	"tail":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// WSURL returns the configured endpoint, or the public linear stream for the
// selected network.
func (c *Config) WSURL(mainnet, testnet string) string {
	switch {
	case c.Bybit.WSURL != "":
		return c.Bybit.WSURL
	case c.Bybit.Testnet:
		return testnet
	default:
		return mainnet
	}
}

// NeedsRedis reports whether the selected mode or features use Redis.
func (c *Config) NeedsRedis() bool {
	switch strings.ToLower(c.Mode) {
	case "full", "tail":
		return true
	}
	return c.Redis.Enabled
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: monitor, full, tail)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Bybit credentials are used together or not at all.
	hasSecret := c.Bybit.APISecret != "" || c.Bybit.SecretFile != ""
	if (c.Bybit.APIKey == "") != !hasSecret {
		errs = append(errs, "bybit: api_key and api_secret (or secret_file) must be set together")
	}
	if c.Bybit.APISecret == "" && c.Bybit.SecretFile != "" && c.Bybit.SecretPassword == "" {
		errs = append(errs, "bybit: secret_password is required with secret_file")
	}

	if strings.TrimSpace(c.Trading.Symbol) == "" {
		errs = append(errs, "trading: symbol must not be empty")
	}
	if !slices.Contains([]int{1, 50, 200, 500, 1000}, c.Trading.Depth) {
		errs = append(errs, fmt.Sprintf("trading: depth must be one of 1, 50, 200, 500, 1000, got %d", c.Trading.Depth))
	}

	if c.Validation.Enabled {
		if c.Validation.MaxSpreadMultiplier <= 0 {
			errs = append(errs, "validation: max_spread_multiplier must be > 0")
		}
		if c.Validation.MinLiquidityMultiplier < 0 {
			errs = append(errs, "validation: min_liquidity_multiplier must be >= 0")
		}
		if c.Validation.MaxDataAge.Duration <= 0 {
			errs = append(errs, "validation: max_data_age must be > 0")
		}
		if c.Validation.MinDepthLevels < 1 {
			errs = append(errs, "validation: min_depth_levels must be >= 1")
		}
	}

	if len(c.Metrics.DepthLevels) == 0 {
		errs = append(errs, "metrics: depth_levels must not be empty")
	}
	for _, d := range c.Metrics.DepthLevels {
		if d < 1 {
			errs = append(errs, fmt.Sprintf("metrics: depth level %d must be >= 1", d))
		}
	}
	if c.Metrics.WhaleThreshold <= 0 {
		errs = append(errs, "metrics: whale_threshold must be > 0")
	}
	for _, w := range c.Metrics.DeltaWindows {
		if w.Duration <= 0 {
			errs = append(errs, "metrics: delta_windows must be positive")
			break
		}
	}
	if c.Metrics.CycleInterval.Duration <= 0 {
		errs = append(errs, "metrics: cycle_interval must be > 0")
	}

	if c.Monitor.SummaryInterval.Duration <= 0 {
		errs = append(errs, "monitor: summary_interval must be > 0")
	}
	if c.Monitor.LiquidityDepth < 1 {
		errs = append(errs, "monitor: liquidity_depth must be >= 1")
	}

	if c.NeedsRedis() {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	if c.Archive.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
		if c.Archive.Cron == "" && c.Archive.FlushInterval.Duration <= 0 {
			errs = append(errs, "archive: flush_interval or cron must be set")
		}
	}

	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			errs = append(errs, "kafka: brokers must not be empty")
		}
		if c.Kafka.Topic == "" {
			errs = append(errs, "kafka: topic must not be empty")
		}
	}

	if mode == "tail" && !c.Server.Enabled {
		errs = append(errs, "server: must be enabled for mode tail")
	}
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
	}

	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
