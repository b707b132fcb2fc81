// Package ops serves the operational endpoints: Prometheus metrics and a
// health check.
package ops

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/okian/scaleconnect/pkg/logger"
	"github.com/okian/scaleconnect/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout       = 10 * time.Second
	writeTimeout      = 10 * time.Second
	idleTimeout       = 60 * time.Second
	readHeaderTimeout = 5 * time.Second
)

// HealthFunc reports the state shown by /healthz.
type HealthFunc func() map[string]any

// Register attaches /metrics and /healthz to mux.
func Register(mux *http.ServeMux, health HealthFunc) {
	metricsHandler := promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{})

	mux.HandleFunc("/metrics", MetricsMiddleware(metricsHandler.ServeHTTP, "metrics"))
	mux.HandleFunc("/healthz", MetricsMiddleware(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		status := map[string]any{"status": "ok"}
		if health != nil {
			status = health()
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_ = json.NewEncoder(w).Encode(status)
	}, "healthz"))
}

// Server is the ops HTTP server.
type Server struct {
	srv    *http.Server
	logger logger.Logger
}

// NewServer creates a server for addr.
func NewServer(addr string, health HealthFunc, l logger.Logger) *Server {
	mux := http.NewServeMux()
	Register(mux, health)

	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadTimeout:       readTimeout,
			WriteTimeout:      writeTimeout,
			IdleTimeout:       idleTimeout,
			ReadHeaderTimeout: readHeaderTimeout,
		},
		logger: l,
	}
}

// Start serves in the background until Shutdown.
func (s *Server) Start(ctx context.Context) {
	go func() {
		s.logger.Info(ctx, "starting ops server", logger.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error(ctx, "ops server failed", logger.Error(err))
		}
	}()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
