package monitoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMetricsCollectorCounters(t *testing.T) {
	mc := NewMetricsCollector()

	mc.RecordRequest(true, 100*time.Millisecond)
	mc.RecordRequest(true, 300*time.Millisecond)
	mc.RecordRequest(false, 0)

	stats := mc.Stats()
	assert.Equal(t, int64(3), stats["requests"])
	assert.Equal(t, int64(2), stats["successes"])
	assert.Equal(t, int64(1), stats["errors"])
	assert.InDelta(t, 133.3, stats["avg_duration_ms"].(float64), 0.1)
}

func TestMetricsCollectorCacheRates(t *testing.T) {
	mc := NewMetricsCollector()

	mc.RecordContentCache(true)
	mc.RecordContentCache(true)
	mc.RecordContentCache(false)
	mc.RecordResponseCache(false)

	full := mc.FullStats()
	assert.Equal(t, int64(2), full.Caches.Content.Hits)
	assert.Equal(t, int64(1), full.Caches.Content.Misses)
	assert.InDelta(t, 66.6, full.Caches.Content.HitRate, 0.1)
	assert.Equal(t, float64(0), full.Caches.Response.HitRate)
}

func TestMetricsCollectorStreamStats(t *testing.T) {
	mc := NewMetricsCollector()

	mc.RecordStreamStarted()
	mc.RecordStreamStarted()
	mc.RecordStreamCompleted()
	mc.RecordTokens(5)
	mc.RecordTokens(3)
	mc.RecordHeartbeat()
	mc.RecordUpstreamRetry()

	full := mc.FullStats()
	assert.Equal(t, int64(2), full.Streams.Started)
	assert.Equal(t, int64(1), full.Streams.Completed)
	assert.Equal(t, int64(8), full.Streams.Tokens)
	assert.Equal(t, int64(1), full.Streams.Heartbeats)
	assert.Equal(t, int64(1), full.Streams.Retries)
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "5m", formatDuration(5*time.Minute))
	assert.Equal(t, "2h 5m", formatDuration(2*time.Hour+5*time.Minute))
	assert.Equal(t, "1d 1h 0m", formatDuration(25*time.Hour))
}
