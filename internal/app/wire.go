package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	s3blob "github.com/alanyoungcy/silentauction/internal/blob/s3"
	"github.com/alanyoungcy/silentauction/internal/cache/redis"
	"github.com/alanyoungcy/silentauction/internal/clock"
	"github.com/alanyoungcy/silentauction/internal/config"
	"github.com/alanyoungcy/silentauction/internal/crypto"
	"github.com/alanyoungcy/silentauction/internal/domain"
	"github.com/alanyoungcy/silentauction/internal/events"
	"github.com/alanyoungcy/silentauction/internal/fanout"
	"github.com/alanyoungcy/silentauction/internal/push"
	"github.com/alanyoungcy/silentauction/internal/realtime"
	"github.com/alanyoungcy/silentauction/internal/server/handler"
	"github.com/alanyoungcy/silentauction/internal/store/memory"
	"github.com/alanyoungcy/silentauction/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application modes
// need to operate. It is constructed by Wire and torn down by the returned
// cleanup function. Optional collaborators are nil when not configured.
type Dependencies struct {
	Clock clock.Clock

	// Stores
	ItemStore   domain.ItemStore
	BidStore    domain.BidStore
	LedgerStore domain.LedgerStore
	PushStore   domain.PushSubscriptionStore
	AuditStore  domain.AuditStore

	// Caches
	OutbidQueue domain.OutbidQueue
	StatusCache domain.StatusCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader

	// Realtime
	Topics    realtime.Topics
	Issuer    *realtime.Issuer
	Publisher fanout.Publisher
	Hub       *realtime.Hub

	// Notifications
	PushSender *push.Sender
	Relay      *events.Relay

	// Identity verifies signed X-Bidder-ID headers.
	Identity *crypto.IdentitySigner

	// Checks feed the health endpoint.
	Checks map[string]handler.Check
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
	fail := func(what string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", what, err)
	}

	deps := &Dependencies{
		Clock:  clock.Real(),
		Checks: make(map[string]handler.Check),
	}

	// --- Item store ---
	switch strings.ToLower(cfg.Storage.Driver) {
	case "memory":
		logger.WarnContext(ctx, "using in-memory store; state is lost on restart and not shared between instances")
		db := memory.NewDB()
		deps.ItemStore = memory.NewItemStore(db)
		deps.BidStore = memory.NewBidStore(db)
		deps.LedgerStore = memory.NewLedgerStore(db)
		deps.PushStore = memory.NewPushSubscriptionStore(db)
		deps.AuditStore = memory.NewAuditStore(db)
	default:
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
			return fail("postgres", err)
		}
		closers = append(closers, pgClient.Close)

		// Run migrations if enabled.
		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail("postgres migrations", err)
			}
		}

		pool := pgClient.Pool()
		deps.ItemStore = postgres.NewItemStore(pool)
		deps.BidStore = postgres.NewBidStore(pool)
		deps.LedgerStore = postgres.NewLedgerStore(pool)
		deps.PushStore = postgres.NewPushSubscriptionStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.Checks["postgres"] = pgClient.Ping
	}

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
		KeyPrefix:  cfg.Redis.KeyPrefix,
	})
	if err != nil {
		return fail("redis", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })
	deps.Checks["redis"] = redisClient.Ping

	deps.OutbidQueue = redis.NewOutbidQueue(redisClient, cfg.Notify.OutbidQueueLen, cfg.Notify.OutbidTTL.Duration)
	deps.StatusCache = redis.NewStatusCache(redisClient, cfg.Notify.StatusCacheTTL.Duration)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	// --- S3 blob storage (only when archiving) ---
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			Prefix:         cfg.S3.Prefix,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail("s3", err)
		}
		deps.BlobWriter = s3blob.NewWriter(s3Client, int64(cfg.Archive.PartSizeMB)<<20)
		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.Checks["s3"] = s3Client.Health
	}

	// --- Realtime hub ---
	mode := strings.ToLower(cfg.Realtime.Mode)
	if mode != "none" {
		pubKey, err := crypto.LoadSecret(crypto.SecretSource{
			Raw:      cfg.Realtime.PublisherKey,
			File:     cfg.Realtime.PublisherKeyFile,
			Password: cfg.Realtime.KeyPassword,
		})
		if err != nil {
			return fail("realtime publisher key", err)
		}
		subKey, err := crypto.LoadSecret(crypto.SecretSource{
			Raw:      cfg.Realtime.SubscriberKey,
			File:     cfg.Realtime.SubscriberKeyFile,
			Password: cfg.Realtime.KeyPassword,
		})
		if err != nil {
			return fail("realtime subscriber key", err)
		}

		deps.Topics = realtime.Topics{Base: cfg.Realtime.TopicBase}
		deps.Issuer, err = realtime.NewIssuer(realtime.IssuerConfig{
			PublisherKey:  pubKey,
			SubscriberKey: subKey,
			PublisherTTL:  cfg.Realtime.PublisherTTL.Duration,
			SubscriberTTL: cfg.Realtime.SubscriberTTL.Duration,
		}, deps.Topics, deps.Clock)
		if err != nil {
			return fail("realtime tokens", err)
		}

		switch mode {
		case "mercure":
			deps.Publisher = realtime.NewMercurePublisher(cfg.Realtime.HubURL, deps.Issuer, nil)
		default:
			deps.Publisher = realtime.NewBusPublisher(deps.SignalBus, cfg.Realtime.BusChannel)
			deps.Hub = realtime.NewHub(deps.SignalBus, deps.Issuer, realtime.HubConfig{
				Channel:        cfg.Realtime.BusChannel,
				AllowedOrigins: cfg.Server.CORSOrigins,
			}, logger)
		}
	}

	// --- Web Push ---
	if cfg.Push.Enabled {
		privKey, err := crypto.LoadSecret(crypto.SecretSource{
			Raw:      cfg.Push.VAPIDPrivateKey,
			File:     cfg.Push.VAPIDPrivateKeyFile,
			Password: cfg.Push.KeyPassword,
		})
		if err != nil {
			return fail("vapid key", err)
		}
		deps.PushSender, err = push.NewSender(push.Config{
			Subscriber:      cfg.Push.Subscriber,
			VAPIDPublicKey:  cfg.Push.VAPIDPublicKey,
			VAPIDPrivateKey: string(privKey),
			TTL:             cfg.Push.TTL.Duration,
		}, nil)
		if err != nil {
			return fail("push", err)
		}
	}

	// --- NATS relay ---
	if cfg.NATS.Enabled {
		nc, err := nats.Connect(cfg.NATS.URL,
			nats.Name("auctiond"),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
		)
		if err != nil {
			return fail("nats", err)
		}
		closers = append(closers, nc.Close)

		deps.Relay, err = events.NewRelay(ctx, nc, events.Config{
			Stream:        cfg.NATS.Stream,
			SubjectPrefix: cfg.NATS.SubjectPrefix,
			MaxAge:        cfg.NATS.MaxAge.Duration,
		}, logger)
		if err != nil {
			return fail("nats relay", err)
		}
		deps.Checks["nats"] = func(context.Context) error {
			if !nc.IsConnected() {
				return fmt.Errorf("nats: %s", nc.Status())
			}
			return nil
		}
	}

	// --- Bidder identity ---
	if cfg.Server.IdentitySecret != "" {
		deps.Identity = crypto.NewIdentitySigner([]byte(cfg.Server.IdentitySecret), 0)
	}

	return deps, cleanup, nil
}

// itemURLFunc expands the configured item link template.
func itemURLFunc(template string) func(string) string {
	return func(itemID string) string {
		if template == "" {
			return ""
		}
		return strings.ReplaceAll(template, "{id}", url.PathEscape(itemID))
	}
}
