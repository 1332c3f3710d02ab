package server

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/codesage/codesage/internal/monitoring"
)

// monitoringStart captures the request facts known before streaming begins.
type monitoringStart struct {
	requestID string
	endpoint  string
	mode      string
	source    string
	fileCount int
	clientIP  string
	t0        time.Time
}

// finishRequest records the outcome in every configured sink: counters,
// the JSONL tracker, and the SQLite store when present.
func (s *Server) finishRequest(start *monitoringStart, tokens int, success, replay bool, errMsg string) {
	duration := time.Since(start.t0)
	s.metrics.RecordRequest(success, duration)

	ev := &monitoring.ReviewEvent{
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		RequestID:   start.requestID,
		Endpoint:    start.endpoint,
		Mode:        start.mode,
		Source:      start.source,
		FileCount:   start.fileCount,
		CacheReplay: replay,
		Tokens:      tokens,
		DurationMs:  duration.Milliseconds(),
		Success:     success,
		Error:       errMsg,
		ClientIP:    start.clientIP,
	}

	if s.tracker != nil {
		s.tracker.RecordReview(ev)
	}
	if s.store != nil {
		// The request context may already be done; bound the insert
		// independently.
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.store.Insert(ctx, ev); err != nil {
			log.Error().Err(err).Msg("event store insert failed")
		}
	}
}
