// ABOUTME: Gateway wires the HTTP API and websocket endpoint into one server
// ABOUTME: Owns the chi router, the listener lifecycle, and graceful shutdown

package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/plazared/dm-gateway/internal/auth"
	"github.com/plazared/dm-gateway/internal/dispatch"
	"github.com/plazared/dm-gateway/internal/registry"
	"github.com/plazared/dm-gateway/internal/store"
)

// Options tunes the optional parts of the HTTP surface.
type Options struct {
	MetricsEnabled bool
	MetricsPath    string
}

// Gateway is the messaging edge: REST endpoints for the durable operations
// and a websocket endpoint for the live channel.
type Gateway struct {
	store      store.Store
	registry   *registry.Registry
	dispatcher *dispatch.Dispatcher
	verifier   auth.TokenVerifier
	opts       Options
	logger     *slog.Logger
	validate   *validator.Validate
	upgrader   websocket.Upgrader

	httpServer *http.Server
}

// New creates a gateway. Pass nil logger for default.
func New(st store.Store, reg *registry.Registry, disp *dispatch.Dispatcher, verifier auth.TokenVerifier, opts Options, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MetricsPath == "" {
		opts.MetricsPath = "/metrics"
	}
	return &Gateway{
		store:      st,
		registry:   reg,
		dispatcher: disp,
		verifier:   verifier,
		opts:       opts,
		logger:     logger.With("component", "gateway"),
		validate:   validator.New(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Origin policy belongs to the fronting proxy.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Router builds the full route tree.
func (g *Gateway) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", g.handleHealthz)
	if g.opts.MetricsEnabled {
		r.Handle(g.opts.MetricsPath, promhttp.Handler())
	}

	r.Get("/ws", g.handleWebsocket)

	r.Route("/api", func(r chi.Router) {
		r.Use(auth.HTTPAuthMiddleware(g.verifier))

		r.Post("/conversations", g.handleCreateConversation)
		r.Get("/conversations", g.handleListConversations)
		r.Get("/conversations/{conversationID}/messages", g.handleListMessages)
		r.Post("/conversations/{conversationID}/messages", g.handleSendMessage)
		r.Post("/conversations/{conversationID}/read", g.handleMarkConversationRead)
		r.Post("/messages/{messageID}/read", g.handleMarkMessageRead)
		r.Get("/unread-count", g.handleUnreadCount)
	})

	return r
}

// Start begins serving on addr and blocks until the listener fails or
// Shutdown is called.
func (g *Gateway) Start(addr string) error {
	g.httpServer = &http.Server{
		Addr:              addr,
		Handler:           g.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.logger.Info("gateway listening", "addr", addr)
	if err := g.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, then drains every live connection.
func (g *Gateway) Shutdown(ctx context.Context) error {
	var err error
	if g.httpServer != nil {
		err = g.httpServer.Shutdown(ctx)
	}
	g.registry.Drain()
	return err
}
