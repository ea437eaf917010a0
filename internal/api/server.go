// =============================================================================
// HTTP API SERVER - ADMIN AND TELEMETRY SURFACE
// =============================================================================
//
// WHAT IS THIS?
// The broker's HTTP surface. It carries the pull-based telemetry endpoint
// and a small read-only admin API:
//
//   GET /health      Liveness check
//   GET /stats       Broker summary (node, uptime, topics, consumers)
//   GET /consumers   Current per-consumer snapshot as JSON
//   GET /metrics     Prometheus exposition (scrape-driven collection)
//
// WHY CHI?
// stdlib-compatible router with URL params and middleware, nothing more.
// The scrape path must stay cheap: /metrics takes a registry snapshot under
// a read lock and never blocks dispatch goroutines.
//
// =============================================================================

package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"topicbus/internal/broker"
	"topicbus/internal/metrics"
)

// Server is the HTTP API server.
type Server struct {
	broker     *broker.Broker
	metrics    *metrics.Registry
	httpServer *http.Server
	router     *chi.Mux
	logger     *slog.Logger
}

// ServerConfig holds API server settings.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultServerConfig returns sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:         ":8080",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// NewServer creates the API server.
func NewServer(b *broker.Broker, m *metrics.Registry, config ServerConfig) *Server {
	r := chi.NewRouter()

	s := &Server{
		broker:  b,
		metrics: m,
		router:  r,
		logger:  slog.Default().With("component", "api"),
	}

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	s.registerRoutes()

	s.httpServer = &http.Server{
		Addr:         config.Addr,
		Handler:      r,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}
	return s
}

func (s *Server) registerRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/stats", s.handleStats)
	s.router.Get("/consumers", s.handleConsumers)
	s.router.Method(http.MethodGet, "/metrics", s.metrics.Handler())
}

// Handler exposes the router for httptest-based tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins listening for HTTP requests (non-blocking).
func (s *Server) Start() error {
	s.logger.Info("starting HTTP API server", "addr", s.httpServer.Addr)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", "error", err)
		}
	}()
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("shutting down HTTP API server")
	return s.httpServer.Shutdown(ctx)
}

// =============================================================================
// HANDLERS
// =============================================================================

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	stats := s.broker.Stats()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"node":      stats.Name,
		"uptime":    stats.Uptime.String(),
		"topics":    stats.TopicCount,
		"consumers": s.metrics.Consumer.Len(),
	})
}

// consumerView is the JSON shape of one snapshot entry.
type consumerView struct {
	Topic            string   `json:"topic"`
	Subscription     string   `json:"subscription"`
	SubscriptionType string   `json:"subscription_type"`
	ConsumerName     string   `json:"consumer_name"`
	ConsumerID       uint64   `json:"consumer_id"`
	ConnectedSince   int64    `json:"connected_since"`
	ClientAddress    string   `json:"client_address"`
	ClientVersion    string   `json:"client_version"`
	Metadata         []string `json:"metadata,omitempty"`

	MsgOut           int64 `json:"messages_out"`
	BytesOut         int64 `json:"bytes_out"`
	MsgAcked         int64 `json:"messages_acked"`
	MsgUnacked       int64 `json:"messages_unacked"`
	MsgRedelivered   int64 `json:"messages_redelivered"`
	AvailablePermits int64 `json:"available_permits"`
	Blocked          bool  `json:"blocked"`
}

func (s *Server) handleConsumers(w http.ResponseWriter, _ *http.Request) {
	snapshot := s.metrics.Consumer.Snapshot()
	views := make([]consumerView, 0, len(snapshot))
	for _, entry := range snapshot {
		a, st := entry.Attributes, entry.Stats
		views = append(views, consumerView{
			Topic:            a.Topic,
			Subscription:     a.Subscription,
			SubscriptionType: a.SubscriptionType,
			ConsumerName:     a.ConsumerName,
			ConsumerID:       a.ConsumerID,
			ConnectedSince:   a.ConnectedSince,
			ClientAddress:    a.ClientAddress,
			ClientVersion:    a.ClientVersion,
			Metadata:         a.Metadata,
			MsgOut:           st.MsgOut,
			BytesOut:         st.BytesOut,
			MsgAcked:         st.MsgAcked,
			MsgUnacked:       st.MsgUnacked,
			MsgRedelivered:   st.MsgRedelivered,
			AvailablePermits: st.AvailablePermits,
			Blocked:          st.Blocked,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"consumers": views,
		"count":     len(views),
	})
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
		)
	})
}
