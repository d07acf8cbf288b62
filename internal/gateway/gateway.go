// ABOUTME: Gateway orchestrator wiring store, auth, presence, hub, and HTTP server
// ABOUTME: Manages router setup, lifecycle, and health endpoints

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/creatorconnect/chat-gateway/internal/auth"
	"github.com/creatorconnect/chat-gateway/internal/blob"
	"github.com/creatorconnect/chat-gateway/internal/chat"
	"github.com/creatorconnect/chat-gateway/internal/config"
	"github.com/creatorconnect/chat-gateway/internal/presence"
	"github.com/creatorconnect/chat-gateway/internal/store"
)

// Gateway orchestrates the chat-gateway server components: the SQLite
// store, the auth gate, the presence registry, the event hub, the
// conversation service, and the HTTP server carrying both the REST API
// and the websocket endpoint.
type Gateway struct {
	config     *config.Config
	store      *store.SQLiteStore
	gate       *auth.Gate
	verifier   *auth.JWTVerifier
	registry   *presence.Registry
	hub        *chat.Hub
	chat       *chat.Service
	blobs      *blob.LocalStore
	httpServer *http.Server
	logger     *slog.Logger
}

// initStore creates the store based on config and environment.
func initStore(cfg *config.Config, logger *slog.Logger) (*store.SQLiteStore, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("CHAT_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	s, err := initStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return nil, fmt.Errorf("creating JWT verifier: %w", err)
	}

	blobs, err := blob.NewLocalStore(cfg.Uploads.Dir, cfg.Uploads.BaseURL, cfg.Uploads.MaxBytes(), logger)
	if err != nil {
		return nil, err
	}

	hub := chat.NewHub(cfg.Session.SendBuffer, logger)
	gw := &Gateway{
		config:   cfg,
		store:    s,
		gate:     auth.NewGate(verifier, s),
		verifier: verifier,
		registry: presence.NewRegistry(logger),
		hub:      hub,
		chat:     chat.NewService(s, hub, logger),
		blobs:    blobs,
		logger:   logger.With("component", "gateway"),
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// router builds the HTTP routing table.
func (g *Gateway) router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(g.logger))
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	// Health endpoints - no auth required
	r.Get("/health", g.handleHealth)
	r.Get("/health/ready", g.handleReady)

	// Live sessions authenticate inside the handler, before upgrading
	r.Get("/ws", g.handleSession)

	r.Route("/api", func(api chi.Router) {
		api.Use(auth.Middleware(g.gate))
		api.Get("/users/online", g.handleOnlineUsers)
		api.Route("/messages", func(m chi.Router) {
			m.Post("/", g.handleSendMessage)
			m.Get("/conversations/all", g.handleConversations)
			m.Get("/{userID}", g.handleHistory)
			m.Put("/read/{userID}", g.handleMarkRead)
		})
	})

	// Locally stored attachments
	uploads := http.StripPrefix(g.config.Uploads.BaseURL+"/", http.FileServer(http.Dir(g.blobs.Dir())))
	r.Get(g.config.Uploads.BaseURL+"/*", uploads.ServeHTTP)

	return r
}

// requestLogger logs one line per request through slog.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	logger = logger.With("component", "http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()))
		})
	}
}

// corsMiddleware allows browser clients on other origins to reach the
// API and the websocket handshake.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Run starts the gateway server and blocks until the context is
// canceled. Returns nil on graceful shutdown, or an error if the server
// fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is
// already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// Shutdown gracefully stops the HTTP server and releases resources.
// Closing the hub closes every session's delivery channel, which ends
// the write loops and lets in-flight sessions unwind.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	if err := g.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}

	g.hub.Close()

	if err := g.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if the store is reachable.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := g.store.Ping(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d users online)", len(g.registry.Online()))
}
