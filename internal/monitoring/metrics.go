// Package monitoring - metrics.go provides simple counters.
//
// DESIGN: Lightweight in-memory counters for operational metrics:
//   - requests/successes:  Total and successful request counts
//   - streams:             Started and cleanly completed relay streams
//   - cache_hits/misses:   Content and response cache performance
//   - replays:             Reviews served from the response cache
//   - retries/heartbeats:  Upstream retry attempts and idle heartbeats sent
//
// For production, export these to Prometheus or similar.
package monitoring

import (
	"fmt"
	"sync/atomic"
	"time"
)

// MetricsCollector collects operational metrics.
type MetricsCollector struct {
	startedAt time.Time

	// Request counters
	requests  atomic.Int64
	successes atomic.Int64

	// Cumulative request handling time in nanoseconds.
	totalDuration atomic.Int64

	// Relay counters
	streamsStarted   atomic.Int64
	streamsCompleted atomic.Int64
	tokensStreamed   atomic.Int64
	heartbeats       atomic.Int64
	upstreamRetries  atomic.Int64

	// Cache counters
	contentHits    atomic.Int64
	contentMisses  atomic.Int64
	responseHits   atomic.Int64
	responseMisses atomic.Int64
}

// NewMetricsCollector creates a new metrics collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		startedAt: time.Now(),
	}
}

// RecordRequest records a request and its handling time.
func (mc *MetricsCollector) RecordRequest(success bool, d time.Duration) {
	mc.requests.Add(1)
	if success {
		mc.successes.Add(1)
	}
	mc.totalDuration.Add(int64(d))
}

// RecordStreamStarted records a relay stream opening.
func (mc *MetricsCollector) RecordStreamStarted() { mc.streamsStarted.Add(1) }

// RecordStreamCompleted records a relay stream that reached its end event
// without a terminal error.
func (mc *MetricsCollector) RecordStreamCompleted() { mc.streamsCompleted.Add(1) }

// RecordTokens records token events forwarded to a client.
func (mc *MetricsCollector) RecordTokens(n int) { mc.tokensStreamed.Add(int64(n)) }

// RecordHeartbeat records a keepalive sent during upstream silence.
func (mc *MetricsCollector) RecordHeartbeat() { mc.heartbeats.Add(1) }

// RecordUpstreamRetry records a retried upstream connection attempt.
func (mc *MetricsCollector) RecordUpstreamRetry() { mc.upstreamRetries.Add(1) }

// RecordContentCache records a content cache lookup.
func (mc *MetricsCollector) RecordContentCache(hit bool) {
	if hit {
		mc.contentHits.Add(1)
	} else {
		mc.contentMisses.Add(1)
	}
}

// RecordResponseCache records a response cache lookup.
func (mc *MetricsCollector) RecordResponseCache(hit bool) {
	if hit {
		mc.responseHits.Add(1)
	} else {
		mc.responseMisses.Add(1)
	}
}

// StartedAt returns when the metrics collector was created.
func (mc *MetricsCollector) StartedAt() time.Time { return mc.startedAt }

// Stats returns current metrics as a flat map for the health endpoint.
func (mc *MetricsCollector) Stats() map[string]any {
	requests := mc.requests.Load()
	var avgMs float64
	if requests > 0 {
		avgMs = float64(mc.totalDuration.Load()) / float64(requests) / float64(time.Millisecond)
	}
	return map[string]any{
		"requests":        requests,
		"successes":       mc.successes.Load(),
		"errors":          requests - mc.successes.Load(),
		"avg_duration_ms": avgMs,
		"cache_hits":      mc.contentHits.Load() + mc.responseHits.Load(),
		"cache_misses":    mc.contentMisses.Load() + mc.responseMisses.Load(),
	}
}

// FullStats returns all metrics in a structured format for the /stats endpoint.
func (mc *MetricsCollector) FullStats() StatsResponse {
	uptime := time.Since(mc.startedAt)
	requests := mc.requests.Load()
	successes := mc.successes.Load()

	return StatsResponse{
		Uptime:        formatDuration(uptime),
		UptimeSeconds: int64(uptime.Seconds()),
		StartedAt:     mc.startedAt.Format(time.RFC3339),
		Requests: RequestStats{
			Total:      requests,
			Successful: successes,
			Failed:     requests - successes,
		},
		Streams: StreamStats{
			Started:    mc.streamsStarted.Load(),
			Completed:  mc.streamsCompleted.Load(),
			Tokens:     mc.tokensStreamed.Load(),
			Heartbeats: mc.heartbeats.Load(),
			Retries:    mc.upstreamRetries.Load(),
		},
		Caches: CacheStats{
			Content:  cacheSide(mc.contentHits.Load(), mc.contentMisses.Load()),
			Response: cacheSide(mc.responseHits.Load(), mc.responseMisses.Load()),
		},
	}
}

func cacheSide(hits, misses int64) CacheSideStats {
	var rate float64
	if total := hits + misses; total > 0 {
		rate = float64(hits) / float64(total) * 100
	}
	return CacheSideStats{Hits: hits, Misses: misses, HitRate: rate}
}

// StatsResponse is the structured response for the /stats endpoint.
type StatsResponse struct {
	Uptime        string       `json:"uptime"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartedAt     string       `json:"started_at"`
	Requests      RequestStats `json:"requests"`
	Streams       StreamStats  `json:"streams"`
	Caches        CacheStats   `json:"caches"`
}

// RequestStats holds request count metrics.
type RequestStats struct {
	Total      int64 `json:"total"`
	Successful int64 `json:"successful"`
	Failed     int64 `json:"failed"`
}

// StreamStats holds relay stream metrics.
type StreamStats struct {
	Started    int64 `json:"started"`
	Completed  int64 `json:"completed"`
	Tokens     int64 `json:"tokens"`
	Heartbeats int64 `json:"heartbeats"`
	Retries    int64 `json:"retries"`
}

// CacheStats holds per-cache hit metrics.
type CacheStats struct {
	Content  CacheSideStats `json:"content"`
	Response CacheSideStats `json:"response"`
}

// CacheSideStats holds hit metrics for one cache.
type CacheSideStats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// formatDuration formats a duration as a human-readable string.
func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}
