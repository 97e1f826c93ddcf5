// Package config defines the top-level configuration for the auction service
// and provides validation helpers.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by AUCTION_* environment variables.
type Config struct {
	Storage   StorageConfig   `toml:"storage"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Archive   ArchiveConfig   `toml:"archive"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Notify    NotifyConfig    `toml:"notify"`
	Push      PushConfig      `toml:"push"`
	Realtime  RealtimeConfig  `toml:"realtime"`
	NATS      NATSConfig      `toml:"nats"`
	Server    ServerConfig    `toml:"server"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// StorageConfig selects the item store implementation.
type StorageConfig struct {
	// Driver is "postgres" or "memory". The memory driver keeps all state in
	// the process and suits a single instance only.
	Driver string `toml:"driver"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
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

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`
}

// S3Config holds object storage credentials for the ledger archive.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls cold-storage archival of ended auctions.
type ArchiveConfig struct {
	Enabled   bool     `toml:"enabled"`
	Cron      string   `toml:"cron"`
	Grace     duration `toml:"grace"`
	BatchSize int      `toml:"batch_size"`
	// PartSizeMB is the multipart upload part size.
	PartSizeMB int `toml:"part_size_mb"`
}

// SchedulerConfig controls lifecycle timers and the sweeper.
type SchedulerConfig struct {
	SweepInterval duration `toml:"sweep_interval"`
	SweepLockTTL  duration `toml:"sweep_lock_ttl"`
	// FireTimeout bounds one timer callback's store round-trip.
	FireTimeout duration `toml:"fire_timeout"`
}

// NotifyConfig controls the outbid fan-out.
type NotifyConfig struct {
	// QueueSize and Workers size the background push pool.
	QueueSize  int      `toml:"queue_size"`
	Workers    int      `toml:"workers"`
	JobTimeout duration `toml:"job_timeout"`
	// ImmediateTimeout bounds the post-commit poll and realtime deliveries.
	ImmediateTimeout duration `toml:"immediate_timeout"`
	OutbidQueueLen   int      `toml:"outbid_queue_len"`
	OutbidTTL        duration `toml:"outbid_ttl"`
	StatusCacheTTL   duration `toml:"status_cache_ttl"`
}

// PushConfig holds the Web Push (VAPID) identity.
type PushConfig struct {
	Enabled             bool     `toml:"enabled"`
	Subscriber          string   `toml:"subscriber"`
	VAPIDPublicKey      string   `toml:"vapid_public_key"`
	VAPIDPrivateKey     string   `toml:"vapid_private_key"`
	VAPIDPrivateKeyFile string   `toml:"vapid_private_key_file"`
	KeyPassword         string   `toml:"key_password"`
	TTL                 duration `toml:"ttl"`
	// ItemURLTemplate links notifications to the item page; "{id}" is
	// replaced with the item ID.
	ItemURLTemplate string `toml:"item_url_template"`
}

// RealtimeConfig selects and configures the pub/sub hub.
type RealtimeConfig struct {
	// Mode is "builtin" (WebSocket hub fed over Redis), "mercure" (external
	// hub over HTTP) or "none".
	Mode              string   `toml:"mode"`
	HubURL            string   `toml:"hub_url"`
	TopicBase         string   `toml:"topic_base"`
	PublisherKey      string   `toml:"publisher_key"`
	PublisherKeyFile  string   `toml:"publisher_key_file"`
	SubscriberKey     string   `toml:"subscriber_key"`
	SubscriberKeyFile string   `toml:"subscriber_key_file"`
	KeyPassword       string   `toml:"key_password"`
	PublisherTTL      duration `toml:"publisher_ttl"`
	SubscriberTTL     duration `toml:"subscriber_ttl"`
	BusChannel        string   `toml:"bus_channel"`
}

// NATSConfig controls the JetStream relay of committed bids.
type NATSConfig struct {
	Enabled       bool     `toml:"enabled"`
	URL           string   `toml:"url"`
	Stream        string   `toml:"stream"`
	SubjectPrefix string   `toml:"subject_prefix"`
	MaxAge        duration `toml:"max_age"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// AdminAPIKey guards /api/admin routes. Empty disables them.
	AdminAPIKey string `toml:"admin_api_key"`
	// IdentitySecret, when set, requires X-Bidder-ID to carry an HMAC
	// signature from the trusted front end.
	IdentitySecret string   `toml:"identity_secret"`
	BidRateLimit   int      `toml:"bid_rate_limit"`
	BidRateWindow  duration `toml:"bid_rate_window"`
	ReadTimeout    duration `toml:"read_timeout"`
	WriteTimeout   duration `toml:"write_timeout"`
}

// duration wraps time.Duration so it can be decoded from a TOML string such as
// "30s" or "5m".
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

// Defaults returns a Config populated with sensible default values.
func Defaults() Config {
	return Config{
		Storage: StorageConfig{Driver: "postgres"},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "auction",
			User:          "auction",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   10,
			MaxRetries: 3,
			KeyPrefix:  "auction",
		},
		S3: S3Config{
			Region:         "us-east-1",
			UseSSL:         true,
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Cron:       "15 * * * *",
			Grace:      duration{24 * time.Hour},
			BatchSize:  100,
			PartSizeMB: 8,
		},
		Scheduler: SchedulerConfig{
			SweepInterval: duration{time.Minute},
			SweepLockTTL:  duration{time.Minute},
			FireTimeout:   duration{10 * time.Second},
		},
		Notify: NotifyConfig{
			QueueSize:        1024,
			Workers:          4,
			JobTimeout:       duration{15 * time.Second},
			ImmediateTimeout: duration{3 * time.Second},
			OutbidQueueLen:   20,
			OutbidTTL:        duration{30 * time.Minute},
			StatusCacheTTL:   duration{3 * time.Second},
		},
		Push: PushConfig{
			TTL: duration{30 * time.Minute},
		},
		Realtime: RealtimeConfig{
			Mode:          "builtin",
			TopicBase:     "https://auction.local/",
			PublisherTTL:  duration{60 * time.Second},
			SubscriberTTL: duration{time.Hour},
			BusChannel:    "realtime:updates",
		},
		NATS: NATSConfig{
			URL:           "nats://localhost:4222",
			Stream:        "BID_EVENTS",
			SubjectPrefix: "bid.events",
			MaxAge:        duration{24 * time.Hour},
		},
		Server: ServerConfig{
			Port:          8080,
			BidRateLimit:  20,
			BidRateWindow: duration{10 * time.Second},
			ReadTimeout:   duration{15 * time.Second},
			WriteTimeout:  duration{30 * time.Second},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"server":    true,
	"scheduler": true,
	"full":      true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// ServesHTTP reports whether the mode runs the HTTP API.
func (c *Config) ServesHTTP() bool {
	m := strings.ToLower(c.Mode)
	return m == "server" || m == "full"
}

// RunsBackground reports whether the mode runs the sweeper and archiver.
func (c *Config) RunsBackground() bool {
	m := strings.ToLower(c.Mode)
	return m == "scheduler" || m == "full"
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, scheduler, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Storage
	switch strings.ToLower(c.Storage.Driver) {
	case "postgres":
		if c.Postgres.DSN == "" {
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
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	case "memory":
		if strings.ToLower(c.Mode) == "scheduler" {
			errs = append(errs, "storage: the memory driver cannot be shared with a separate scheduler process; use mode full")
		}
	default:
		errs = append(errs, fmt.Sprintf("storage: unknown driver %q (valid: postgres, memory)", c.Storage.Driver))
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// Archive
	if c.Archive.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty when archive is enabled")
		}
		if n := len(strings.Fields(c.Archive.Cron)); n != 5 {
			errs = append(errs, fmt.Sprintf("archive: cron must have 5 fields, got %d", n))
		}
		if c.Archive.Grace.Duration < 0 {
			errs = append(errs, "archive: grace must not be negative")
		}
	}

	// Scheduler
	if c.Scheduler.SweepInterval.Duration <= 0 {
		errs = append(errs, "scheduler: sweep_interval must be > 0")
	}

	// Notify
	if c.Notify.QueueSize < 1 {
		errs = append(errs, "notify: queue_size must be >= 1")
	}
	if c.Notify.Workers < 1 {
		errs = append(errs, "notify: workers must be >= 1")
	}

	// Push
	if c.Push.Enabled {
		if c.Push.Subscriber == "" {
			errs = append(errs, "push: subscriber must be set (mailto: or https: contact)")
		}
		if c.Push.VAPIDPublicKey == "" {
			errs = append(errs, "push: vapid_public_key must be set")
		}
		if c.Push.VAPIDPrivateKey == "" && c.Push.VAPIDPrivateKeyFile == "" {
			errs = append(errs, "push: vapid_private_key or vapid_private_key_file must be set")
		}
		if c.Push.VAPIDPrivateKey == "" && c.Push.VAPIDPrivateKeyFile != "" && c.Push.KeyPassword == "" {
			errs = append(errs, "push: key_password is required with vapid_private_key_file")
		}
	}

	// Realtime
	switch strings.ToLower(c.Realtime.Mode) {
	case "none":
	case "builtin", "mercure":
		if c.Realtime.TopicBase == "" {
			errs = append(errs, "realtime: topic_base must not be empty")
		}
		if c.Realtime.PublisherKey == "" && c.Realtime.PublisherKeyFile == "" {
			errs = append(errs, "realtime: publisher_key or publisher_key_file must be set")
		}
		if c.Realtime.SubscriberKey == "" && c.Realtime.SubscriberKeyFile == "" {
			errs = append(errs, "realtime: subscriber_key or subscriber_key_file must be set")
		}
		if strings.ToLower(c.Realtime.Mode) == "mercure" {
			if u, err := url.Parse(c.Realtime.HubURL); err != nil || u.Scheme == "" || u.Host == "" {
				errs = append(errs, fmt.Sprintf("realtime: hub_url %q is not an absolute URL", c.Realtime.HubURL))
			}
		}
	default:
		errs = append(errs, fmt.Sprintf("realtime: unknown mode %q (valid: builtin, mercure, none)", c.Realtime.Mode))
	}

	// NATS
	if c.NATS.Enabled && c.NATS.URL == "" {
		errs = append(errs, "nats: url must not be empty when enabled")
	}

	// Server
	if c.ServesHTTP() {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.BidRateLimit < 0 {
			errs = append(errs, "server: bid_rate_limit must be >= 0")
		}
		if c.Server.BidRateLimit > 0 && c.Server.BidRateWindow.Duration <= 0 {
			errs = append(errs, "server: bid_rate_window must be > 0 when bid_rate_limit is set")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
