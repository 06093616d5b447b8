package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies ORDERFLOW_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known ORDERFLOW_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Bybit ──
	setStr(&cfg.Bybit.WSURL, "ORDERFLOW_BYBIT_WS_URL")
	setBool(&cfg.Bybit.Testnet, "ORDERFLOW_BYBIT_TESTNET")
	setStr(&cfg.Bybit.APIKey, "ORDERFLOW_BYBIT_API_KEY")
	setStr(&cfg.Bybit.APISecret, "ORDERFLOW_BYBIT_API_SECRET")
	setStr(&cfg.Bybit.SecretFile, "ORDERFLOW_BYBIT_SECRET_FILE")
	setStr(&cfg.Bybit.SecretPassword, "ORDERFLOW_BYBIT_SECRET_PASSWORD")

	// ── Trading ──
	setStr(&cfg.Trading.Symbol, "ORDERFLOW_TRADING_SYMBOL")
	setInt(&cfg.Trading.Depth, "ORDERFLOW_TRADING_DEPTH")

	// ── Validation ──
	setBool(&cfg.Validation.Enabled, "ORDERFLOW_VALIDATION_ENABLED")
	setFloat64(&cfg.Validation.MaxSpreadMultiplier, "ORDERFLOW_VALIDATION_MAX_SPREAD_MULTIPLIER")
	setFloat64(&cfg.Validation.MinLiquidityMultiplier, "ORDERFLOW_VALIDATION_MIN_LIQUIDITY_MULTIPLIER")
	setDuration(&cfg.Validation.MaxDataAge, "ORDERFLOW_VALIDATION_MAX_DATA_AGE")
	setInt(&cfg.Validation.MinDepthLevels, "ORDERFLOW_VALIDATION_MIN_DEPTH_LEVELS")

	// ── Metrics ──
	setIntSlice(&cfg.Metrics.DepthLevels, "ORDERFLOW_METRICS_DEPTH_LEVELS")
	setFloat64(&cfg.Metrics.WhaleThreshold, "ORDERFLOW_METRICS_WHALE_THRESHOLD")
	setFloat64(&cfg.Metrics.MinWhaleSize, "ORDERFLOW_METRICS_MIN_WHALE_SIZE")
	setDuration(&cfg.Metrics.CycleInterval, "ORDERFLOW_METRICS_CYCLE_INTERVAL")

	// ── Monitor ──
	setDuration(&cfg.Monitor.SummaryInterval, "ORDERFLOW_MONITOR_SUMMARY_INTERVAL")
	setDuration(&cfg.Monitor.NotifySummaryInterval, "ORDERFLOW_MONITOR_NOTIFY_SUMMARY_INTERVAL")
	setFloat64(&cfg.Monitor.MaxSpreadPct, "ORDERFLOW_MONITOR_MAX_SPREAD_PCT")
	setDuration(&cfg.Monitor.MaxLatency, "ORDERFLOW_MONITOR_MAX_LATENCY")
	setFloat64(&cfg.Monitor.MinLiquidity, "ORDERFLOW_MONITOR_MIN_LIQUIDITY")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "ORDERFLOW_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "ORDERFLOW_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ORDERFLOW_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ORDERFLOW_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ORDERFLOW_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "ORDERFLOW_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "ORDERFLOW_REDIS_TLS_ENABLED")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "ORDERFLOW_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "ORDERFLOW_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "ORDERFLOW_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "ORDERFLOW_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "ORDERFLOW_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "ORDERFLOW_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "ORDERFLOW_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "ORDERFLOW_POSTGRES_SSL_MODE")
	setBool(&cfg.Postgres.RunMigrations, "ORDERFLOW_POSTGRES_RUN_MIGRATIONS")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "ORDERFLOW_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ORDERFLOW_S3_REGION")
	setStr(&cfg.S3.Bucket, "ORDERFLOW_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "ORDERFLOW_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ORDERFLOW_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "ORDERFLOW_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "ORDERFLOW_S3_FORCE_PATH_STYLE")

	// ── Kafka ──
	setBool(&cfg.Kafka.Enabled, "ORDERFLOW_KAFKA_ENABLED")
	setStringSlice(&cfg.Kafka.Brokers, "ORDERFLOW_KAFKA_BROKERS")
	setStr(&cfg.Kafka.Topic, "ORDERFLOW_KAFKA_TOPIC")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "ORDERFLOW_ARCHIVE_ENABLED")
	setStr(&cfg.Archive.Prefix, "ORDERFLOW_ARCHIVE_PREFIX")
	setDuration(&cfg.Archive.FlushInterval, "ORDERFLOW_ARCHIVE_FLUSH_INTERVAL")
	setStr(&cfg.Archive.Cron, "ORDERFLOW_ARCHIVE_CRON")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "ORDERFLOW_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "ORDERFLOW_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "ORDERFLOW_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "ORDERFLOW_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "ORDERFLOW_SERVER_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "ORDERFLOW_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "ORDERFLOW_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "ORDERFLOW_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "ORDERFLOW_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "ORDERFLOW_MODE")
	setStr(&cfg.LogLevel, "ORDERFLOW_LOG_LEVEL")
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
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}

// setIntSlice leaves dst untouched unless every element parses.
func setIntSlice(dst *[]int, key string) {
	var parts []string
	setStringSlice(&parts, key)
	if len(parts) == 0 {
		return
	}
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return
		}
		out = append(out, n)
	}
	*dst = out
}
