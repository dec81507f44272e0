package ndiscd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func (m *Director) metricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorLog: zap.NewStdLog(m.log.Desugar()),
	}))
	if m.logLevel != nil {
		// GET reports the level, PUT {"level":"debug"} changes it.
		mux.Handle("/log/level", m.logLevel)
	}
	return mux
}

// runMetricsServer serves "/metrics" until the specified context is
// canceled.
func (m *Director) runMetricsServer(ctx context.Context) error {
	listener, err := net.Listen("tcp", m.cfg.Metrics.Endpoint)
	if err != nil {
		return fmt.Errorf("failed to initialize metrics listener: %w", err)
	}

	server := &http.Server{
		Handler:           m.metricsHandler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		m.log.Infow("shutting down metrics server", zap.Stringer("addr", listener.Addr()))
		if err := server.Shutdown(shutdownCtx); err != nil {
			m.log.Warnw("failed to shut down metrics server", zap.Error(err))
		}
	}()

	m.log.Infow("exposing metrics", zap.Stringer("addr", listener.Addr()))
	if err := server.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to serve: %w", err)
	}

	return nil
}
