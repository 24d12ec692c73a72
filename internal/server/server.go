package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/mamori/internal/auth"
	"github.com/ashita-ai/mamori/internal/ratelimit"
)

// Server is the mamori HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a Server.
// Optional fields (nil-safe): MockData, JWTMgr, Limiter, MCPServer,
// MetricsHandler. A nil JWTMgr disables authentication.
type ServerConfig struct {
	// Required dependencies.
	Agent   AgentRunner
	Actions ActionService
	Store   Store
	Logger  *slog.Logger

	// Optional dependencies (nil = disabled).
	MockData        MockData
	JWTMgr          *auth.JWTManager
	OperatorKeyHash string
	Limiter         ratelimit.Limiter
	MCPServer       *mcpserver.MCPServer
	MetricsHandler  http.Handler

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		Agent:               cfg.Agent,
		Actions:             cfg.Actions,
		Store:               cfg.Store,
		MockData:            cfg.MockData,
		JWTMgr:              cfg.JWTMgr,
		OperatorKeyHash:     cfg.OperatorKeyHash,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	limiter := cfg.Limiter
	if limiter == nil {
		limiter = ratelimit.NoopLimiter{}
	}
	rl := ratelimit.Middleware(limiter, ratelimit.IPKeyFunc, RequestIDFromContext, cfg.Logger)

	readRole := requireRole(auth.RoleViewer)
	writeRole := requireRole(auth.RoleOperator)

	mux := http.NewServeMux()

	// Auth endpoint (no auth required, rate limited by IP).
	mux.Handle("POST /auth/token", rl(http.HandlerFunc(h.HandleAuthToken)))

	// Agent loop.
	mux.Handle("POST /agent/run", rl(writeRole(http.HandlerFunc(h.HandleRun))))
	mux.Handle("GET /agent/run", rl(readRole(http.HandlerFunc(h.HandleStatus))))

	// Action review.
	mux.Handle("GET /agent/actions", rl(readRole(http.HandlerFunc(h.HandleListActions))))
	mux.Handle("POST /agent/actions", rl(writeRole(http.HandlerFunc(h.HandleDecideAction))))
	mux.Handle("POST /agent/actions/{id}/rollback", rl(writeRole(http.HandlerFunc(h.HandleRollback))))

	// Demonstration data.
	mux.Handle("POST /agent/mock-data", rl(writeRole(http.HandlerFunc(h.HandleMockData))))

	// MCP StreamableHTTP transport (auth required, viewer+). Tools that
	// mutate state check the operator role themselves.
	if cfg.MCPServer != nil {
		mux.Handle("/mcp", rl(readRole(mcpserver.NewStreamableHTTPServer(cfg.MCPServer))))
	}

	// Prometheus scrape endpoint (no auth, no rate limit).
	if cfg.MetricsHandler != nil {
		mux.Handle("GET /metrics", cfg.MetricsHandler)
	}

	// Health (no auth, no rate limit).
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → auth → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = authMiddleware(cfg.JWTMgr, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(newHTTPMetrics(), handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           handler,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      cfg.WriteTimeout,
		},
		handler: handler,
		logger:  cfg.Logger,
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
