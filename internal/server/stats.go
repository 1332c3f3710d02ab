// Package server - stats.go exposes health and aggregated metrics as JSON.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// handleHealth returns service status with a metrics and cache snapshot.
// It round-trips a probe entry through the content cache so a wedged cache
// shows up as degraded instead of an eventual request failure.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	s.contentCache.Set("_health_", "ok")
	if _, ok := s.contentCache.Get("_health_"); !ok {
		status = "degraded"
	}
	s.contentCache.Delete("_health_")

	resp := map[string]any{
		"status":  status,
		"version": Version,
		"time":    time.Now().Format(time.RFC3339),
		"metrics": s.metrics.Stats(),
		"cache": map[string]any{
			"enabled":     true,
			"size":        s.contentCache.Len(),
			"max_size":    s.contentCache.MaxSize(),
			"ttl_seconds": int(s.contentCache.TTL().Seconds()),
		},
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// handleStats returns full operational metrics.
// Restricted to localhost to prevent external access to operational metrics.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if !isLoopback(r.RemoteAddr) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	full := s.metrics.FullStats()
	resp := map[string]any{
		"uptime":     full.Uptime,
		"started_at": full.StartedAt,
		"requests":   full.Requests,
		"streams":    full.Streams,
		"caches":     full.Caches,
		"cache_sizes": map[string]any{
			"content":  s.contentCache.Len(),
			"response": s.responseCache.Len(),
		},
	}

	if s.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		modes, err := s.store.SummarizeByMode(ctx, time.Now().Add(-24*time.Hour))
		if err != nil {
			log.Warn().Err(err).Msg("stats: mode summary query failed")
		} else {
			resp["modes_24h"] = modes
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
