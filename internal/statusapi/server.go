package statusapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StatusProvider is satisfied by the quoting engine: the three fields an
// operator needs without touching any executor-exclusive state.
type StatusProvider interface {
	Position() int32
	LastReqID() uint64
	ShuttingDown() bool
}

type statusResponse struct {
	Position     int32  `json:"position"`
	LastRequestID uint64 `json:"last_request_id"`
	ShuttingDown  bool   `json:"shutting_down"`
}

// Server is the ambient HTTP surface: liveness, Prometheus metrics, and a
// JSON status snapshot. Grounded on the teacher's internal/api.Server
// shape (mux + http.Server with fixed timeouts, Start/Stop) with the
// dashboard's SSE hub and multi-market snapshot feed dropped — there is
// exactly one instrument here, so there is nothing left to hub out to
// multiple browser clients.
type Server struct {
	provider StatusProvider
	server   *http.Server
	logger   *slog.Logger
}

// NewServer builds the status server. /metrics serves metrics' own
// registry (see NewMetrics), not the global default one.
func NewServer(port int, provider StatusProvider, metrics *Metrics, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		provider: provider,
		logger:   logger.With("component", "status_api"),
	}

	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/status", s.handleStatus)
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.registry, promhttp.HandlerOpts{}))

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start blocks until the server stops or errors.
func (s *Server) Start() error {
	s.logger.Info("status server starting", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("status server: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Position:      s.provider.Position(),
		LastRequestID: s.provider.LastReqID(),
		ShuttingDown:  s.provider.ShuttingDown(),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("encode status response", "error", err)
	}
}
