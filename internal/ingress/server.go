package ingress

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/intentbridge/relay/internal/chains"
	"github.com/intentbridge/relay/internal/config"
	"github.com/intentbridge/relay/internal/event"
	"github.com/intentbridge/relay/internal/metrics"
	"github.com/intentbridge/relay/internal/normalize"
	"github.com/intentbridge/relay/internal/queue"
	"github.com/intentbridge/relay/internal/signer"
)

// Queue is the enqueue/introspection surface the ingress needs.
type Queue interface {
	Enqueue(ctx context.Context, raw *event.RawEvent) (bool, error)
	Stats(ctx context.Context) (queue.Stats, error)
	Health(ctx context.Context) error
}

const enqueueTimeout = 10 * time.Second

// Server accepts provider webhook deliveries, authenticates them, and
// acknowledges before enqueue completes. The provider's retry policy keys off
// response latency and status, so nothing slow or failable sits between
// authentication and the acknowledgement.
type Server struct {
	cfg      config.ServerConfig
	queue    Queue
	registry *chains.Registry
	logger   *slog.Logger
	metrics  *metrics.Metrics
	nowFunc  func() time.Time
}

// New builds the ingress server.
func New(cfg config.ServerConfig, q Queue, registry *chains.Registry, logger *slog.Logger, mtr *metrics.Metrics) *Server {
	return &Server{
		cfg:      cfg,
		queue:    q,
		registry: registry,
		logger:   logger,
		metrics:  mtr,
		nowFunc:  time.Now,
	}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/webhook", s.handleWebhook)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/queue/stats", s.handleStats)
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

// Serve starts the HTTP listener.
func (s *Server) Serve(addr string) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 3 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("ingress server error", "error", err)
		}
	}()
	return srv
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	if !signer.VerifySecret(r.Header.Get(s.cfg.SecretHeader), s.cfg.WebhookSecret) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	// Past authentication the provider must see a 2xx wherever feasible;
	// a 5xx would trigger its redelivery storm for our own defect.
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("webhook handler panic", "panic", rec)
			s.metrics.Errors()
			writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
		}
	}()

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.UseNumber()
	var raw event.RawEvent
	if err := dec.Decode(&raw); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed payload"})
		return
	}
	if err := raw.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	// Fast pre-filter; normalization re-checks authoritatively.
	if !normalize.SupportedEntity(raw.Entity) {
		s.metrics.WebhooksIgnored()
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored", "reason": "unsupported entity"})
		return
	}
	if _, ok := s.registry.Classify(&raw); !ok {
		s.metrics.WebhooksIgnored()
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored", "reason": "unsupported chain"})
		return
	}

	s.metrics.WebhooksReceived()
	writeJSON(w, http.StatusOK, map[string]string{
		"status":          "accepted",
		"idempotency_key": raw.ID,
	})

	// The acknowledgement is already on the wire; enqueue failures are an
	// operational concern, not the provider's.
	go s.enqueue(&raw)
}

func (s *Server) enqueue(raw *event.RawEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), enqueueTimeout)
	defer cancel()

	enqueued, err := s.queue.Enqueue(ctx, raw)
	if err != nil {
		s.logger.Error("enqueue failed", "event_id", raw.ID, "error", err)
		s.metrics.Errors()
		return
	}
	if !enqueued {
		s.logger.Debug("duplicate delivery suppressed", "event_id", raw.ID)
		s.metrics.JobsDeduplicated()
		return
	}
	s.metrics.JobsEnqueued()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := s.queue.Health(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":    "unhealthy",
			"timestamp": s.nowFunc().UTC().Format(time.RFC3339),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": s.nowFunc().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	stats, err := s.queue.Stats(ctx)
	if err != nil {
		s.logger.Error("queue stats failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "queue unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
