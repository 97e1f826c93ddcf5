package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/silentauction/internal/archive"
	"github.com/alanyoungcy/silentauction/internal/fanout"
	"github.com/alanyoungcy/silentauction/internal/ledger"
	"github.com/alanyoungcy/silentauction/internal/scheduler"
	"github.com/alanyoungcy/silentauction/internal/server"
	"github.com/alanyoungcy/silentauction/internal/server/handler"
	"github.com/alanyoungcy/silentauction/internal/service"
)

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 10 * time.Second

// ServerMode serves the HTTP API. It also keeps lifecycle timers for items
// saved through this instance; the sweeper runs elsewhere.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	sched, err := a.startTimers(ctx, deps)
	if err != nil {
		return fmt.Errorf("server mode: %w", err)
	}
	defer sched.Close()

	a.startHTTPServer(ctx, g, deps, sched)
	return g.Wait()
}

// SchedulerMode runs the lifecycle timers, the sweeper and the archiver
// without serving HTTP.
func (a *App) SchedulerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting scheduler mode")

	g, ctx := errgroup.WithContext(ctx)
	sched, err := a.startTimers(ctx, deps)
	if err != nil {
		return fmt.Errorf("scheduler mode: %w", err)
	}
	defer sched.Close()

	a.startBackground(ctx, g, deps)
	return g.Wait()
}

// FullMode runs every subsystem in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	sched, err := a.startTimers(ctx, deps)
	if err != nil {
		return fmt.Errorf("full mode: %w", err)
	}
	defer sched.Close()

	a.startBackground(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps, sched)
	return g.Wait()
}

// startTimers creates the transition scheduler and rearms it from the store.
func (a *App) startTimers(ctx context.Context, deps *Dependencies) (*scheduler.Scheduler, error) {
	sched := scheduler.New(deps.ItemStore, deps.AuditStore, deps.Clock, a.cfg.Scheduler.FireTimeout.Duration, a.logger)
	if _, err := sched.Rearm(ctx); err != nil {
		sched.Close()
		return nil, err
	}
	return sched, nil
}

// startBackground adds the sweeper and, when enabled, the archiver to g.
func (a *App) startBackground(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	sweeper := scheduler.NewSweeper(
		deps.ItemStore,
		deps.AuditStore,
		deps.LockManager,
		deps.Clock,
		a.cfg.Scheduler.SweepLockTTL.Duration,
		a.logger,
	)
	g.Go(func() error {
		return sweeper.RunLoop(ctx, a.cfg.Scheduler.SweepInterval.Duration)
	})

	if deps.BlobWriter == nil {
		a.logger.InfoContext(ctx, "archive disabled")
		return
	}
	archiver := archive.NewArchiver(
		deps.ItemStore,
		deps.BidStore,
		deps.BlobWriter,
		deps.BlobReader,
		deps.AuditStore,
		deps.LockManager,
		deps.Clock,
		archive.Config{
			Grace:     a.cfg.Archive.Grace.Duration,
			BatchSize: a.cfg.Archive.BatchSize,
		},
		a.logger,
	)
	g.Go(func() error {
		return archiver.RunCron(ctx, a.cfg.Archive.Cron)
	})
}

// newDispatcher assembles the notification fan-out. Only the poll channel,
// a single Redis write, runs inline after commit. Realtime, push and the
// NATS relay make network calls to other services and are deferred to the
// worker queue once the response is flushed.
func (a *App) newDispatcher(deps *Dependencies) (*fanout.Dispatcher, *fanout.Queue) {
	immediate := []fanout.Channel{fanout.NewPollChannel(deps.OutbidQueue)}

	var deferred []fanout.Channel
	if deps.Publisher != nil {
		deferred = append(deferred, fanout.NewRealtimeChannel(deps.Publisher, deps.Topics))
	}
	if deps.PushSender != nil {
		deferred = append(deferred, fanout.NewPushChannel(deps.PushStore, deps.PushSender, itemURLFunc(a.cfg.Push.ItemURLTemplate), a.logger))
	}
	if deps.Relay != nil {
		deferred = append(deferred, deps.Relay)
	}

	var queue *fanout.Queue
	if len(deferred) > 0 {
		queue = fanout.NewQueue(a.cfg.Notify.QueueSize, a.cfg.Notify.Workers, a.cfg.Notify.JobTimeout.Duration, a.logger)
	}
	return fanout.NewDispatcher(deps.BidStore, immediate, deferred, queue, a.logger), queue
}

// startHTTPServer adds the HTTP server, the delivery workers and the built-in
// hub to g. The server is shut down gracefully when the context is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, sched *scheduler.Scheduler) {
	dispatcher, queue := a.newDispatcher(deps)
	if queue != nil {
		g.Go(func() error {
			return queue.Run(ctx)
		})
	}

	bidSvc := service.NewBidService(
		ledger.New(deps.LedgerStore, deps.AuditStore, deps.Clock, a.logger),
		dispatcher,
		a.cfg.Notify.ImmediateTimeout.Duration,
		a.logger,
	)
	itemSvc := service.NewItemService(deps.ItemStore, sched, deps.AuditStore, a.logger)
	statusSvc := service.NewStatusService(deps.ItemStore, deps.BidStore, deps.StatusCache, deps.OutbidQueue, deps.Clock, a.logger)
	pushSvc := service.NewPushService(deps.PushStore, deps.Clock, a.logger)

	handlers := server.Handlers{
		Health: handler.NewHealthHandler(a.cfg.Mode, deps.Checks, a.logger),
		Items:  handler.NewItemHandler(itemSvc, deps.Clock, a.logger),
		Bids:   handler.NewBidHandler(bidSvc, a.logger),
		Poll:   handler.NewPollHandler(statusSvc, a.logger),
		Audit:  handler.NewAuditHandler(deps.AuditStore, a.logger),
	}

	publicKey := ""
	if deps.PushSender != nil {
		publicKey = deps.PushSender.PublicKey()
	}
	handlers.Push = handler.NewPushHandler(pushSvc, publicKey, a.logger)

	if deps.Issuer != nil {
		hubURL := a.cfg.Realtime.HubURL
		if hubURL == "" && deps.Hub != nil {
			hubURL = "/ws"
		}
		handlers.Realtime = handler.NewRealtimeHandler(deps.Issuer, deps.Topics, hubURL, a.logger)
	}
	if deps.Hub != nil {
		handlers.Hub = deps.Hub.HandleWS
		g.Go(func() error {
			return deps.Hub.Run(ctx)
		})
	}

	srv := server.NewServer(server.Config{
		Port:          a.cfg.Server.Port,
		CORSOrigins:   a.cfg.Server.CORSOrigins,
		AdminAPIKey:   a.cfg.Server.AdminAPIKey,
		BidRateLimit:  a.cfg.Server.BidRateLimit,
		BidRateWindow: a.cfg.Server.BidRateWindow.Duration,
		ReadTimeout:   a.cfg.Server.ReadTimeout.Duration,
		WriteTimeout:  a.cfg.Server.WriteTimeout.Duration,
	}, handlers, server.Deps{
		Limiter: deps.RateLimiter,
		Signer:  deps.Identity,
		Now:     deps.Clock.Now,
	}, a.logger)

	g.Go(func() error {
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		a.logger.Info("HTTP server stopped", slog.Int("port", a.cfg.Server.Port))
		return nil
	})
}
