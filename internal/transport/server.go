package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/collabtodo/collabd/internal/auth"
	"github.com/collabtodo/collabd/internal/events"
	"github.com/collabtodo/collabd/internal/metrics"
	"github.com/collabtodo/collabd/internal/pubsub"
	"github.com/collabtodo/collabd/internal/writebehind"
)

// Server owns C11's HTTP surface (spec.md §4.12) and the WebSocket upgrade
// endpoint that feeds C4/C9/C10. Grounded on the teacher's
// internal/server.Server, with the price-feed-specific metrics/NATS
// subscription wiring replaced by C5's pub/sub listener and a
// Prometheus-native /metrics route.
type Server struct {
	httpServer *http.Server
	hub        *Hub
	bus        *pubsub.Bus
	writer     *writebehind.Worker
	jwt        *auth.JWTManager
	metrics    *metrics.Metrics
	collector  *metrics.Collector
	logger     zerolog.Logger
	requireAuth bool
	startedAt   time.Time
}

type Config struct {
	Addr        string
	RequireAuth bool
	CORSOrigins []string
}

func NewServer(cfg Config, hub *Hub, bus *pubsub.Bus, writer *writebehind.Worker, jwt *auth.JWTManager, m *metrics.Metrics, collector *metrics.Collector, logger zerolog.Logger) *Server {
	s := &Server{
		hub:         hub,
		bus:         bus,
		writer:      writer,
		jwt:         jwt,
		metrics:     m,
		collector:   collector,
		logger:      logger,
		requireAuth: cfg.RequireAuth,
		startedAt:   time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/cache", s.handleCache)
	mux.HandleFunc("/cache/flush", s.handleCacheFlush)
	mux.HandleFunc("/rooms", s.handleRooms)
	mux.HandleFunc("/auth/token", s.handleGenerateToken)

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      corsMiddleware(cfg.CORSOrigins, mux),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	return s
}

// handleWebSocket authenticates (spec.md §4.9), upgrades, and registers
// the connection before handing it off to its own read/write pumps.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID := ""
	if s.requireAuth {
		claims, err := s.jwt.WebSocketAuth(r)
		if err != nil {
			s.logger.Warn().Err(err).Msg("websocket auth failed")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		userID = claims.UserID
	} else if token, err := auth.ExtractTokenFromQuery(r); err == nil {
		if claims, verr := s.jwt.Verify(token); verr == nil {
			userID = claims.UserID
		}
	}
	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	if s.hub.atCapacity() {
		http.Error(w, "server at capacity", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := newClient(conn, userID, s.hub, s.logger)
	s.hub.Register(c)
	go c.writePump()
	go c.readPump()

	connected := events.ConnectedEvent{Type: events.KindConnected, SessionID: c.ID(), ServerTime: time.Now()}
	c.Send(mustJSON(connected))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":      "healthy",
		"uptime":      time.Since(s.startedAt).String(),
		"connections": s.hub.Count(),
		"bus": map[string]interface{}{
			"connected": s.bus.IsConnected(),
		},
		"writer":     s.writer.Stats(),
		"goroutines": runtime.NumGoroutine(),
		"resources":  s.collector.Snapshot(),
	}
	writeJSON(w, health)
}

// handleReady fails readiness while the bus is disconnected, so a load
// balancer stops routing new connections to a node that can't fan out
// mutations (spec.md §4.6 "listener loop" availability note).
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.bus.IsConnected() {
		http.Error(w, "bus disconnected", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleCache(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.hub.l1.Summarize())
}

// handleCacheFlush clears this node's L1 cache. L2 entries in the shared
// store are not touched.
func (s *Server) handleCacheFlush(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.hub.l1.FlushAll()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRooms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.hub.Rooms())
}

func (s *Server) handleGenerateToken(w http.ResponseWriter, r *http.Request) {
	if s.requireAuth {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	token, err := s.jwt.GenerateTestToken()
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]string{"token": token})
}

func corsMiddleware(origins []string, next http.Handler) http.Handler {
	allowed := "*"
	if len(origins) > 0 {
		allowed = origins[0]
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", allowed)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// Serve blocks until the HTTP listener is closed by Shutdown.
func (s *Server) Serve() error {
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("http server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown stops accepting new HTTP connections (spec.md §4.7/§9's
// shutdown ordering: transport first, so no new event can reach a worker
// that is about to drain and exit).
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
