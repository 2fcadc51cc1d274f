package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"signalpush/internal/domain"
)

const maxDeliveryRows = 500

// DeliveryLister returns recent ledger rows, newest first.
type DeliveryLister interface {
	Recent(ctx context.Context, limit int) ([]domain.DeliveryRecord, error)
}

// ServerConfig configures the HTTP endpoint. Deliveries and Degraded are optional.
type ServerConfig struct {
	Listen     string
	Metrics    *Metrics
	Deliveries DeliveryLister
	Degraded   func() bool
	Logger     *zap.Logger
}

// Server exposes /metrics, /healthz and /deliveries.
type Server struct {
	cfg     ServerConfig
	started time.Time
	server  *http.Server
}

func NewServer(cfg ServerConfig) *Server {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	s := &Server{cfg: cfg, started: time.Now()}
	s.server = &http.Server{
		Addr:              cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", s.cfg.Metrics.Handler())
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /deliveries", s.handleDeliveries)
	return mux
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(shutdownCtx)
	}()

	s.cfg.Logger.Info("metrics server started", zap.String("addr", s.cfg.Listen))
	if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(rw http.ResponseWriter, r *http.Request) {
	degraded := s.cfg.Degraded != nil && s.cfg.Degraded()
	writeJSON(rw, http.StatusOK, map[string]any{
		"status":   "ok",
		"degraded": degraded,
		"uptime":   time.Since(s.started).Round(time.Second).String(),
		"time":     time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleDeliveries(rw http.ResponseWriter, r *http.Request) {
	if s.cfg.Deliveries == nil {
		writeJSON(rw, http.StatusServiceUnavailable, map[string]string{"error": "delivery ledger not available"})
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(rw, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxDeliveryRows)
	}

	rows, err := s.cfg.Deliveries.Recent(r.Context(), limit)
	if err != nil {
		s.cfg.Logger.Error("list deliveries failed", zap.Error(err))
		writeJSON(rw, http.StatusInternalServerError, map[string]string{"error": "ledger query failed"})
		return
	}
	if rows == nil {
		rows = []domain.DeliveryRecord{}
	}
	writeJSON(rw, http.StatusOK, rows)
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json; charset=utf-8")
	rw.WriteHeader(status)
	json.NewEncoder(rw).Encode(v)
}
