package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/chatproxy/internal/observability"
	"github.com/harun/chatproxy/pkg/chat"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Server is the HTTP and websocket front of the chat service.
type Server struct {
	addr      string
	chat      *chat.Service
	server    *http.Server
	handler   http.Handler
	upgrader  websocket.Upgrader
	clients   *ClientRegistry
	limiters  *RateLimiterSet
	validator *RequestValidator
	logger    zerolog.Logger

	isShuttingDown bool
	shutdownMu     sync.RWMutex
	inFlightReqs   sync.WaitGroup
}

// Config holds server configuration
type Config struct {
	Host           string
	Port           int
	Chat           *chat.Service
	AllowedOrigins []string // empty allows every origin

	// RateLimit disables per-client limiting when nil.
	RateLimit *RateLimitConfig

	Logger *zerolog.Logger
}

// RateLimitConfig bounds requests per client address.
type RateLimitConfig struct {
	RequestsPerWindow int
	Window            time.Duration
	MaxConcurrent     int
}

// NewServer creates a new Gateway Server
func NewServer(cfg Config) (*Server, error) {
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.Chat == nil {
		return nil, fmt.Errorf("chat service is required")
	}

	validator, err := NewRequestValidator()
	if err != nil {
		return nil, err
	}

	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	observability.EnsureRegistered()

	s := &Server{
		addr:      net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.Port)),
		chat:      cfg.Chat,
		clients:   NewClientRegistry(),
		validator: validator,
		logger:    logger.With().Str("component", "gateway").Logger(),
		upgrader: websocket.Upgrader{
			CheckOrigin: originChecker(cfg.AllowedOrigins),
		},
	}
	if rl := cfg.RateLimit; rl != nil {
		s.limiters = NewRateLimiterSet(rl.RequestsPerWindow, rl.Window, rl.MaxConcurrent)
	}

	s.handler = s.routes()
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s, nil
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("POST /chat", s.instrument("/chat", s.limit(s.handleChat)))
	mux.Handle("GET /chat/session/{id}", s.instrument("/chat/session", http.HandlerFunc(s.handleSessionStatus)))
	mux.Handle("GET /chat/ws", s.instrument("/chat/ws", http.HandlerFunc(s.handleWebSocket)))
	mux.Handle("GET /metrics", observability.MetricsHandler())
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return mux
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.addr
}

// ListenAndServe blocks until the server stops. A graceful Shutdown makes it
// return nil.
func (s *Server) ListenAndServe() error {
	s.logger.Info().Str("addr", s.addr).Msg("Starting Gateway Server")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("gateway server error: %w", err)
	}
	return nil
}

// Serve accepts connections on l until the server stops.
func (s *Server) Serve(l net.Listener) error {
	s.logger.Info().Str("addr", l.Addr().String()).Msg("Starting Gateway Server")
	if err := s.server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("gateway server error: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests, waits for in-flight turns until ctx
// ends, then closes websocket clients and the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	// no enter can Add once the flag is set under the write lock
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down Gateway Server")

	done := make(chan struct{})
	go func() {
		s.inFlightReqs.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("All in-flight requests completed")
	case <-ctx.Done():
		s.logger.Warn().Msg("Shutdown timeout reached, forcing close")
	}

	for _, client := range s.clients.GetAll() {
		client.Conn.Close()
	}

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info().Msg("Gateway Server stopped")
	return nil
}

// GetConnectedClients returns information about all connected clients
func (s *Server) GetConnectedClients() []ClientInfo {
	return s.clients.GetConnectedClients()
}

// enter registers an in-flight turn unless shutdown has begun. Callers must
// call inFlightReqs.Done when enter returns true.
func (s *Server) enter() bool {
	s.shutdownMu.RLock()
	defer s.shutdownMu.RUnlock()

	if s.isShuttingDown {
		return false
	}
	s.inFlightReqs.Add(1)
	return true
}

// maxFrameBytes bounds a request body or websocket frame: the message limit
// plus room for the JSON envelope.
func (s *Server) maxFrameBytes() int64 {
	return int64(s.chat.MaxMessageBytes()) + 4096
}

func (s *Server) shuttingDown() bool {
	s.shutdownMu.RLock()
	defer s.shutdownMu.RUnlock()
	return s.isShuttingDown
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(allowed, origin)
	}
}
