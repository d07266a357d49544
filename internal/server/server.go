// Package server exposes the docqa query flow over HTTP: a JSON ask
// endpoint, liveness and readiness probes, and Prometheus metrics.
// The server is started by the `docqa serve` CLI command.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/54b3r/docqa-go/internal/logging"
	"github.com/54b3r/docqa-go/internal/pipeline"
	"github.com/54b3r/docqa-go/internal/rag"
	"github.com/54b3r/docqa-go/internal/synth"
)

// New constructs a Server around engine.
func New(engine asker, cfg *Config) (*Server, error) {
	if engine == nil {
		return nil, fmt.Errorf("server: engine must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.AskTimeout == 0 {
		cfg.AskTimeout = 2 * time.Minute
	}
	if cfg.WriteTimeout == 0 {
		// Must outlast a full ask, including map_reduce synthesis.
		cfg.WriteTimeout = cfg.AskTimeout + 10*time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.MaxBodyBytes == 0 {
		cfg.MaxBodyBytes = 64 << 10
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}
	if cfg.MetricsRegistry == nil {
		cfg.MetricsRegistry = prometheus.DefaultRegisterer
	}
	if cfg.MetricsGatherer == nil {
		cfg.MetricsGatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		asker:   engine,
		cfg:     cfg,
		log:     cfg.Logger,
		pingers: cfg.Pingers,
		metrics: newServerMetrics(cfg.MetricsRegistry),
	}

	throttle, stop := newAskThrottle(cfg.RateLimit, cfg.RateBurst, s.metrics.askThrottledTotal, s.log)
	s.stopRL = stop

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.routes(throttle),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s, nil
}

// routes builds the mux. Only /api/ask is rate limited; probes and metrics
// must stay reachable for orchestrators.
func (s *Server) routes(throttle *askThrottle) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("POST /api/ask", s.instrument("ask", throttle.wrap(http.HandlerFunc(s.handleAsk))))
	mux.Handle("GET /api/health", s.instrument("health", http.HandlerFunc(s.handleHealth)))
	mux.Handle("GET /api/ready", s.instrument("ready", http.HandlerFunc(s.handleReady)))
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.cfg.MetricsGatherer, promhttp.HandlerOpts{}))
	return requestLogger(s.log, mux)
}

// Handler returns the fully wired HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Addr returns the listen address.
func (s *Server) Addr() string { return s.httpServer.Addr }

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	defer s.stopRL()
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("docqa server listening", slog.String("addr", "http://"+s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		s.log.Info("shutting down", slog.Duration("timeout", s.cfg.ShutdownTimeout))
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// handleAsk handles POST /api/ask.
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	var req askRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.metrics.askRequestsTotal.WithLabelValues("bad_request").Inc()
		writeError(w, log, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.AskTimeout)
	defer cancel()
	ctx = logging.WithLogger(ctx, log.With(slog.String("session_id", req.SessionID)))

	s.metrics.askInFlight.Inc()
	start := time.Now()
	ans, err := s.asker.Ask(ctx, pipeline.Query{
		Question:  req.Question,
		History:   req.History,
		SessionID: req.SessionID,
	})
	elapsed := time.Since(start)
	s.metrics.askInFlight.Dec()

	if err != nil {
		status, msg := statusFor(err)
		s.metrics.observeAsk(outcomeFor(status), elapsed)
		writeError(w, log, status, msg, err)
		return
	}
	s.metrics.observeAsk("ok", elapsed)

	resp := askResponse{
		Answer:    ans.Text,
		Sources:   make([]sourceJSON, len(ans.Sources)),
		Prompted:  ans.Prompted,
		SessionID: req.SessionID,
	}
	for i, src := range ans.Sources {
		resp.Sources[i] = sourceJSON{Source: src, Label: src.Label()}
	}
	writeJSON(w, log, http.StatusOK, resp)
}

// statusFor maps a query flow error to an HTTP status and a client-safe
// message.
func statusFor(err error) (int, string) {
	var embErr *rag.EmbeddingError
	var synErr *synth.SynthesisError
	switch {
	case errors.Is(err, rag.ErrIndexNotFound), errors.Is(err, rag.ErrIndexCorrupt):
		return http.StatusServiceUnavailable, "no index available; run ingest"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "request timed out"
	case errors.As(err, &embErr):
		return http.StatusBadGateway, "embedding service failed"
	case errors.As(err, &synErr):
		return http.StatusBadGateway, "answer generation failed"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func outcomeFor(status int) string {
	switch status {
	case http.StatusGatewayTimeout:
		return "timeout"
	case http.StatusServiceUnavailable:
		return "unavailable"
	default:
		return "error"
	}
}

func writeJSON(w http.ResponseWriter, log *slog.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("response encode error", slog.Any("error", err))
	}
}

func writeError(w http.ResponseWriter, log *slog.Logger, status int, msg string, err error) {
	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	log.Log(context.Background(), level, msg, slog.Int("status", status), slog.Any("error", err))
	writeJSON(w, log, status, errorResponse{Error: msg, Detail: err.Error()})
}
