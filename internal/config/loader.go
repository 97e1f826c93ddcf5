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
// built-in defaults, applies AUCTION_* environment variable overrides, and
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

// applyEnvOverrides reads well-known AUCTION_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Storage ──
	setStr(&cfg.Storage.Driver, "AUCTION_STORAGE_DRIVER")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "AUCTION_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "AUCTION_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "AUCTION_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "AUCTION_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "AUCTION_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "AUCTION_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "AUCTION_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "AUCTION_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "AUCTION_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "AUCTION_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "AUCTION_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "AUCTION_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "AUCTION_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "AUCTION_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "AUCTION_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "AUCTION_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "AUCTION_REDIS_KEY_PREFIX")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "AUCTION_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "AUCTION_S3_REGION")
	setStr(&cfg.S3.Bucket, "AUCTION_S3_BUCKET")
	setStr(&cfg.S3.Prefix, "AUCTION_S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "AUCTION_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "AUCTION_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "AUCTION_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "AUCTION_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "AUCTION_ARCHIVE_ENABLED")
	setStr(&cfg.Archive.Cron, "AUCTION_ARCHIVE_CRON")
	setDuration(&cfg.Archive.Grace, "AUCTION_ARCHIVE_GRACE")
	setInt(&cfg.Archive.BatchSize, "AUCTION_ARCHIVE_BATCH_SIZE")

	// ── Scheduler ──
	setDuration(&cfg.Scheduler.SweepInterval, "AUCTION_SCHEDULER_SWEEP_INTERVAL")
	setDuration(&cfg.Scheduler.SweepLockTTL, "AUCTION_SCHEDULER_SWEEP_LOCK_TTL")
	setDuration(&cfg.Scheduler.FireTimeout, "AUCTION_SCHEDULER_FIRE_TIMEOUT")

	// ── Notify ──
	setInt(&cfg.Notify.QueueSize, "AUCTION_NOTIFY_QUEUE_SIZE")
	setInt(&cfg.Notify.Workers, "AUCTION_NOTIFY_WORKERS")
	setDuration(&cfg.Notify.JobTimeout, "AUCTION_NOTIFY_JOB_TIMEOUT")
	setDuration(&cfg.Notify.ImmediateTimeout, "AUCTION_NOTIFY_IMMEDIATE_TIMEOUT")
	setInt(&cfg.Notify.OutbidQueueLen, "AUCTION_NOTIFY_OUTBID_QUEUE_LEN")
	setDuration(&cfg.Notify.OutbidTTL, "AUCTION_NOTIFY_OUTBID_TTL")
	setDuration(&cfg.Notify.StatusCacheTTL, "AUCTION_NOTIFY_STATUS_CACHE_TTL")

	// ── Push ──
	setBool(&cfg.Push.Enabled, "AUCTION_PUSH_ENABLED")
	setStr(&cfg.Push.Subscriber, "AUCTION_PUSH_SUBSCRIBER")
	setStr(&cfg.Push.VAPIDPublicKey, "AUCTION_PUSH_VAPID_PUBLIC_KEY")
	setStr(&cfg.Push.VAPIDPrivateKey, "AUCTION_PUSH_VAPID_PRIVATE_KEY")
	setStr(&cfg.Push.VAPIDPrivateKeyFile, "AUCTION_PUSH_VAPID_PRIVATE_KEY_FILE")
	setStr(&cfg.Push.KeyPassword, "AUCTION_PUSH_KEY_PASSWORD")
	setDuration(&cfg.Push.TTL, "AUCTION_PUSH_TTL")
	setStr(&cfg.Push.ItemURLTemplate, "AUCTION_PUSH_ITEM_URL_TEMPLATE")

	// ── Realtime ──
	setStr(&cfg.Realtime.Mode, "AUCTION_REALTIME_MODE")
	setStr(&cfg.Realtime.HubURL, "AUCTION_REALTIME_HUB_URL")
	setStr(&cfg.Realtime.TopicBase, "AUCTION_REALTIME_TOPIC_BASE")
	setStr(&cfg.Realtime.PublisherKey, "AUCTION_REALTIME_PUBLISHER_KEY")
	setStr(&cfg.Realtime.PublisherKeyFile, "AUCTION_REALTIME_PUBLISHER_KEY_FILE")
	setStr(&cfg.Realtime.SubscriberKey, "AUCTION_REALTIME_SUBSCRIBER_KEY")
	setStr(&cfg.Realtime.SubscriberKeyFile, "AUCTION_REALTIME_SUBSCRIBER_KEY_FILE")
	setStr(&cfg.Realtime.KeyPassword, "AUCTION_REALTIME_KEY_PASSWORD")
	setDuration(&cfg.Realtime.PublisherTTL, "AUCTION_REALTIME_PUBLISHER_TTL")
	setDuration(&cfg.Realtime.SubscriberTTL, "AUCTION_REALTIME_SUBSCRIBER_TTL")
	setStr(&cfg.Realtime.BusChannel, "AUCTION_REALTIME_BUS_CHANNEL")

	// ── NATS ──
	setBool(&cfg.NATS.Enabled, "AUCTION_NATS_ENABLED")
	setStr(&cfg.NATS.URL, "AUCTION_NATS_URL")
	setStr(&cfg.NATS.Stream, "AUCTION_NATS_STREAM")
	setStr(&cfg.NATS.SubjectPrefix, "AUCTION_NATS_SUBJECT_PREFIX")
	setDuration(&cfg.NATS.MaxAge, "AUCTION_NATS_MAX_AGE")

	// ── Server ──
	setInt(&cfg.Server.Port, "AUCTION_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "AUCTION_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.AdminAPIKey, "AUCTION_SERVER_ADMIN_API_KEY")
	setStr(&cfg.Server.IdentitySecret, "AUCTION_SERVER_IDENTITY_SECRET")
	setInt(&cfg.Server.BidRateLimit, "AUCTION_SERVER_BID_RATE_LIMIT")
	setDuration(&cfg.Server.BidRateWindow, "AUCTION_SERVER_BID_RATE_WINDOW")
	setDuration(&cfg.Server.ReadTimeout, "AUCTION_SERVER_READ_TIMEOUT")
	setDuration(&cfg.Server.WriteTimeout, "AUCTION_SERVER_WRITE_TIMEOUT")

	// ── Top-level ──
	setStr(&cfg.Mode, "AUCTION_MODE")
	setStr(&cfg.LogLevel, "AUCTION_LOG_LEVEL")
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
