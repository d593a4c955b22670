package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/siripipe-io/siripipe/internal/api/middleware"
	"github.com/siripipe-io/siripipe/internal/ingest"
)

// StatsProvider exposes pipeline counters to the health endpoint. The
// orchestrator implements it.
type StatsProvider interface {
	Stats() ingest.Stats
}

// Server is the HTTP monitoring server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	config     *ServerConfig
	stats      StatsProvider
	startTime  time.Time
}

// NewServer creates the monitoring server with its middleware stack.
// A nil stats provider makes the health endpoint report counters as zero.
func NewServer(cfg *ServerConfig, stats StatsProvider, logger *slog.Logger) *Server {
	server := &Server{
		logger: logger,
		config: cfg,
		stats:  stats,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", server.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)
	}

	// Middleware executes in the order listed: recovery catches panics in
	// everything downstream, rate limiting blocks before any logging.
	handler := middleware.Apply(mux,
		middleware.WithRecovery(logger),
		middleware.WithRateLimit(limiter, logger),
		middleware.WithRequestLogger(logger),
	)

	server.httpServer = &http.Server{
		Addr:         cfg.Address(),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return server
}

// Start runs the server until the context is canceled, then shuts it down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	if err := s.config.Validate(); err != nil {
		return fmt.Errorf("invalid server configuration: %w", err)
	}

	s.startTime = time.Now()

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("Starting monitoring server",
			slog.String("address", s.config.Address()),
			slog.Duration("read_timeout", s.config.ReadTimeout),
			slog.Duration("write_timeout", s.config.WriteTimeout),
		)

		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- fmt.Errorf("server failed to start: %w", err)
		}
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-ctx.Done():
		return s.shutdown()
	}
}

// shutdown gracefully shuts down the server.
func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Shutting down monitoring server",
		slog.Duration("shutdown_timeout", s.config.ShutdownTimeout))

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.logger.Info("Monitoring server shutdown completed")

	return nil
}
