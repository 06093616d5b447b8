package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/alanyoungcy/orderflowbot/internal/blob/s3"
	"github.com/alanyoungcy/orderflowbot/internal/cache/redis"
	"github.com/alanyoungcy/orderflowbot/internal/config"
	"github.com/alanyoungcy/orderflowbot/internal/crypto"
	"github.com/alanyoungcy/orderflowbot/internal/domain"
	"github.com/alanyoungcy/orderflowbot/internal/notify"
	"github.com/alanyoungcy/orderflowbot/internal/platform/bybit"
	"github.com/alanyoungcy/orderflowbot/internal/store/postgres"
	kafkastream "github.com/alanyoungcy/orderflowbot/internal/stream/kafka"
	"github.com/alanyoungcy/orderflowbot/internal/telemetry"
)

// Dependencies bundles everything the modes need. It is constructed by Wire
// and torn down by the returned cleanup function. Fields backed by Redis,
// Postgres, S3 or Kafka are nil when not configured.
type Dependencies struct {
	Metrics *telemetry.Metrics

	// Redis
	BookCache domain.BookCache
	SignalBus *redis.SignalBus

	// Always set; Redis-backed when Redis is wired, in-process otherwise.
	Cooldown domain.CooldownGate
	Limiter  domain.RateLimiter

	// Blob storage
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader

	Producer *kafkastream.Producer

	Validations *postgres.ValidationStore

	// Notifications
	Notifier    *notify.Notifier
	Throttle    *notify.Throttle
	StartupGate *notify.StartupGate
}

// needsS3 returns true when the stats archive is active.
func needsS3(cfg *config.Config) bool {
	return strings.EqualFold(cfg.Mode, "full") && cfg.Archive.Enabled
}

// needsPostgres returns true when validation history is recorded.
func needsPostgres(cfg *config.Config) bool {
	return strings.EqualFold(cfg.Mode, "full") && cfg.Postgres.Enabled
}

// needsKafka returns true when the stats producer is active.
func needsKafka(cfg *config.Config) bool {
	return strings.EqualFold(cfg.Mode, "full") && cfg.Kafka.Enabled
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{Metrics: telemetry.New()}

	// --- Redis ---
	if cfg.NeedsRedis() {
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

		deps.BookCache = redis.NewBookCache(redisClient, cfg.Redis.KeyPrefix, cfg.Redis.BookTTL.Duration)
		deps.SignalBus = redis.NewSignalBus(redisClient, cfg.Redis.StreamMaxLen)
		deps.Cooldown = redis.NewCooldownGate(redisClient, cfg.Redis.KeyPrefix)
		deps.Limiter = redis.NewRateLimiter(redisClient, cfg.Redis.KeyPrefix)
	} else {
		deps.Cooldown = notify.NewMemoryGate()
		deps.Limiter = notify.NewMemoryLimiter()
	}

	// --- PostgreSQL ---
	if needsPostgres(cfg) {
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
			applied, err := pgClient.RunMigrations(ctx)
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
			if len(applied) > 0 {
				logger.Info("postgres migrations applied", slog.Any("files", applied))
			}
		}
		deps.Validations = postgres.NewValidationStore(pgClient)
	}

	// --- S3 blob storage ---
	if needsS3(cfg) {
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
		closers = append(closers, func() { _ = s3Client.Close() })
		if err := s3Client.Health(ctx); err != nil {
			// The archiver retries each flush, so an unreachable bucket only warns.
			logger.Warn("s3 bucket not reachable", slog.String("error", err.Error()))
		}

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
	}

	// --- Kafka ---
	if needsKafka(cfg) {
		producer, err := kafkastream.NewProducer(kafkastream.ProducerConfig{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			BatchSize:    cfg.Kafka.BatchSize,
			BatchTimeout: cfg.Kafka.BatchTimeout.Duration,
			RequireAll:   cfg.Kafka.RequireAll,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: kafka: %w", err)
		}
		closers = append(closers, func() {
			if err := producer.Close(); err != nil {
				logger.Warn("kafka producer close failed", slog.String("error", err.Error()))
			}
		})
		deps.Producer = producer
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
	if cfg.Notify.ThrottleLimit > 0 {
		deps.Throttle = notify.NewThrottle(deps.Limiter, cfg.Notify.ThrottleLimit, cfg.Notify.ThrottleWindow.Duration)
	}
	deps.StartupGate = notify.NewStartupGate(deps.Cooldown, cfg.Notify.StartupCooldown.Duration, logger)

	return deps, cleanup, nil
}

// bybitAuth resolves the API credentials, unsealing secret_file when no
// plaintext secret is configured. Public streams need none.
func bybitAuth(cfg config.BybitConfig) (bybit.Auth, error) {
	if cfg.APIKey == "" {
		return bybit.Auth{}, nil
	}
	secret, err := crypto.LoadSecret(crypto.SecretConfig{
		Raw:           cfg.APISecret,
		EncryptedPath: cfg.SecretFile,
		Password:      cfg.SecretPassword,
	})
	if errors.Is(err, crypto.ErrNoSecret) {
		return bybit.Auth{}, errors.New("wire: bybit api_key set without a secret")
	}
	if err != nil {
		return bybit.Auth{}, fmt.Errorf("wire: bybit secret: %w", err)
	}
	return bybit.Auth{Key: cfg.APIKey, Secret: secret}, nil
}
