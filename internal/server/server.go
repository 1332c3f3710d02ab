// HTTP surface for the review service.
//
// DESIGN: Main request flow:
//   - handleReview():      Aggregate code, build prompt, stream the review
//   - handleAnalyzeRepo(): README-based repository analysis stream
//   - handleHealth():      Liveness plus cache and metrics snapshot
//   - handleStats():       Full operational metrics, loopback only
//
// Middleware applies security headers, CORS for /api routes, per-IP rate
// limiting, and a request body size cap.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/codesage/codesage/internal/cache"
	"github.com/codesage/codesage/internal/config"
	"github.com/codesage/codesage/internal/fetch"
	"github.com/codesage/codesage/internal/monitoring"
	"github.com/codesage/codesage/internal/relay"
)

// Version is the service version reported by the health endpoint.
const Version = "0.1.0"

// Server wires the relay pipeline to HTTP handlers.
type Server struct {
	cfg           *config.Config
	orchestrator  *relay.Orchestrator
	fetcher       *fetch.Fetcher
	contentCache  *cache.Cache[string, string]
	responseCache *cache.Cache[string, string]
	metrics       *monitoring.MetricsCollector
	tracker       *monitoring.Tracker
	store         *monitoring.EventStore
	limiter       *ipLimiter
}

// Deps carries the constructed dependencies for a Server.
type Deps struct {
	Orchestrator  *relay.Orchestrator
	Fetcher       *fetch.Fetcher
	ContentCache  *cache.Cache[string, string]
	ResponseCache *cache.Cache[string, string]
	Metrics       *monitoring.MetricsCollector
	Tracker       *monitoring.Tracker
	Store         *monitoring.EventStore
}

// New builds a Server. Store and Tracker may be nil; the corresponding sinks
// are skipped.
func New(cfg *config.Config, deps Deps) *Server {
	s := &Server{
		cfg:           cfg,
		orchestrator:  deps.Orchestrator,
		fetcher:       deps.Fetcher,
		contentCache:  deps.ContentCache,
		responseCache: deps.ResponseCache,
		metrics:       deps.Metrics,
		tracker:       deps.Tracker,
		store:         deps.Store,
		limiter:       newIPLimiter(cfg.Server.RateLimitPerMinute, config.MaxRateLimitBuckets),
	}
	if s.metrics == nil {
		s.metrics = monitoring.NewMetricsCollector()
	}
	return s
}

// Handler returns the full middleware-wrapped route tree.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/review", s.handleReview)
	mux.HandleFunc("/api/analyze-repo", s.handleAnalyzeRepo)
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/stats", s.handleStats)

	var h http.Handler = mux
	h = s.rateLimitMiddleware(h)
	h = s.corsMiddleware(h)
	h = securityHeadersMiddleware(h)
	return h
}

// Start runs the HTTP server until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", s.cfg.Server.Port).Str("version", Version).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	log.Info().Msg("server shutting down")
	return srv.Shutdown(shutdownCtx)
}

// writeError writes the JSON error envelope shared by all endpoints.
func writeError(w http.ResponseWriter, msg string, code int, requestID string) {
	body := map[string]any{"message": msg, "code": code}
	if requestID != "" {
		body["request_id"] = requestID
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": body})
}
