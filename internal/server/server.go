package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/silentauction/internal/crypto"
	"github.com/alanyoungcy/silentauction/internal/domain"
	"github.com/alanyoungcy/silentauction/internal/server/handler"
	"github.com/alanyoungcy/silentauction/internal/server/middleware"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// AdminAPIKey guards /api/admin routes. If empty, they answer 403.
	AdminAPIKey   string
	BidRateLimit  int
	BidRateWindow time.Duration
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
// Realtime, Push and Audit are optional.
type Handlers struct {
	Health   *handler.HealthHandler
	Items    *handler.ItemHandler
	Bids     *handler.BidHandler
	Poll     *handler.PollHandler
	Push     *handler.PushHandler
	Realtime *handler.RealtimeHandler
	Audit    *handler.AuditHandler
	// Hub serves the built-in WebSocket hub at /ws when set.
	Hub http.HandlerFunc
}

// Deps are the cross-cutting collaborators of the middleware chain. Both are
// optional: a nil Limiter disables bid rate limiting and a nil Signer trusts
// X-Bidder-ID as sent.
type Deps struct {
	Limiter domain.RateLimiter
	Signer  *crypto.IdentitySigner
	Now     func() time.Time
}

// Server is the HTTP + WebSocket API server for the auction.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	handler    http.Handler
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (logging, CORS, bidder identity, admin auth, bid
// rate limiting) and attaches the WebSocket hub.
func NewServer(cfg Config, handlers Handlers, deps Deps, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "http"))
	mux := http.NewServeMux()

	admin := middleware.Auth(cfg.AdminAPIKey)
	bidLimit := middleware.RateLimit(deps.Limiter, "bids", cfg.BidRateLimit, cfg.BidRateWindow, logger)

	// --- Register routes ---

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Items.
	mux.HandleFunc("GET /api/items/{id}", handlers.Items.GetItem)
	mux.Handle("PUT /api/admin/items/{id}", admin(http.HandlerFunc(handlers.Items.SaveItem)))
	mux.Handle("DELETE /api/admin/items/{id}", admin(http.HandlerFunc(handlers.Items.DeleteItem)))

	// Bids.
	mux.Handle("POST /api/items/{id}/bids", bidLimit(http.HandlerFunc(handlers.Bids.PlaceBid)))
	mux.Handle("DELETE /api/admin/bids/{id}", admin(http.HandlerFunc(handlers.Bids.DeleteBid)))

	// Polling fallback.
	mux.HandleFunc("GET /api/bids/status", handlers.Poll.PollStatus)
	mux.HandleFunc("POST /api/bids/outbid/consume", handlers.Poll.ConsumeOutbidEvents)

	// Push endpoints.
	if handlers.Push != nil {
		mux.HandleFunc("GET /api/push/public-key", handlers.Push.PublicKey)
		mux.HandleFunc("POST /api/push/subscriptions", handlers.Push.Register)
		mux.HandleFunc("DELETE /api/push/subscriptions", handlers.Push.Unregister)
	}

	// Realtime.
	if handlers.Realtime != nil {
		mux.HandleFunc("GET /api/realtime/token", handlers.Realtime.SubscriberToken)
	}
	if handlers.Hub != nil {
		mux.HandleFunc("GET /ws", handlers.Hub)
	}

	// Audit trail.
	if handlers.Audit != nil {
		mux.Handle("GET /api/admin/audit", admin(http.HandlerFunc(handlers.Audit.ListEntries)))
	}

	// Build the middleware chain.
	var h http.Handler = mux

	// Resolve the bidder identity for every route.
	h = middleware.Bidder(deps.Signer, deps.Now)(h)

	// Apply request logging middleware.
	h = middleware.Logging(logger)(h)

	// Apply CORS middleware.
	h = middleware.CORS(cfg.CORSOrigins)(h)

	readTimeout, writeTimeout := cfg.ReadTimeout, cfg.WriteTimeout
	if readTimeout <= 0 {
		readTimeout = 15 * time.Second
	}
	if writeTimeout <= 0 {
		writeTimeout = 30 * time.Second
	}
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		handler:    h,
		logger:     logger,
	}
}

// Handler returns the root handler including middleware.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
