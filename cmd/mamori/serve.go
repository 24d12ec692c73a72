package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/ashita-ai/mamori/internal/auth"
	"github.com/ashita-ai/mamori/internal/mcp"
	"github.com/ashita-ai/mamori/internal/ratelimit"
	"github.com/ashita-ai/mamori/internal/server"
	"github.com/ashita-ai/mamori/internal/telemetry"
)

// shutdownPhase bounds each shutdown step so an early phase cannot steal
// budget from a later one.
const shutdownPhase = 10 * time.Second

func newServeCmd() *cobra.Command {
	var loop bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the MCP endpoint and optionally the agent loop",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), loop, cmd.Flags().Changed("loop"))
		},
	}
	cmd.Flags().BoolVar(&loop, "loop", false, "start the continuous agent loop (overrides MAMORI_LOOP_ENABLED)")
	return cmd
}

func serve(ctx context.Context, loop, loopSet bool) error {
	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	cfg, logger := a.cfg, a.logger

	logger.Info("mamori starting", "version", version, "port", cfg.Port)

	// Initialize OpenTelemetry.
	providers, err := telemetry.Init(ctx, telemetry.Config{
		Endpoint:        cfg.OTELEndpoint,
		Insecure:        cfg.OTELInsecure,
		ServiceName:     cfg.ServiceName,
		Version:         version,
		MetricsExporter: cfg.MetricsExporter,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}

	var jwtMgr *auth.JWTManager
	if cfg.AuthDisabled {
		logger.Warn("auth: disabled, every request acts as admin")
	} else {
		jwtMgr, err = auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration, logger)
		if err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}

	var limiter ratelimit.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = ratelimit.NewMemoryLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		logger.Info("rate limiting: memory (in-process token bucket)",
			"rps", cfg.RateLimitRPS, "burst", cfg.RateLimitBurst)
	} else {
		limiter = ratelimit.NoopLimiter{}
		logger.Info("rate limiting: disabled")
	}
	defer func() { _ = limiter.Close() }()

	mcpSrv := mcp.New(a.agent, a.actor, a.db, logger, version)

	srv := server.New(server.ServerConfig{
		Agent:               a.agent,
		Actions:             a.actor,
		Store:               a.db,
		MockData:            a.mock,
		JWTMgr:              jwtMgr,
		OperatorKeyHash:     cfg.OperatorKeyHash,
		Limiter:             limiter,
		MCPServer:           mcpSrv.MCPServer(),
		MetricsHandler:      providers.MetricsHandler,
		Logger:              logger,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	if (loopSet && loop) || (!loopSet && cfg.LoopEnabled) {
		if err := a.agent.Start(ctx, cfg.LoopInterval); err != nil {
			return fmt.Errorf("agent loop: %w", err)
		}
	}

	// Start HTTP server in background.
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or server error.
	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	// Order: (1) stop accepting requests and drain in-flight ones, (2) stop
	// the loop and wait for a running cycle, (3) flush telemetry. The pool
	// closes last via the deferred Close.
	logger.Info("mamori shutting down")

	httpCtx, httpCancel := context.WithTimeout(context.Background(), shutdownPhase)
	if err := srv.Shutdown(httpCtx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}
	httpCancel()

	a.agent.Stop()

	otelCtx, otelCancel := context.WithTimeout(context.Background(), shutdownPhase)
	if err := providers.Shutdown(otelCtx); err != nil {
		logger.Error("telemetry shutdown error", "error", err)
	}
	otelCancel()

	slog.Info("mamori stopped")
	return serveErr
}
