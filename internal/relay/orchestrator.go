package relay

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultHeartbeatInterval is how long a session may stay silent before a
// synthetic heartbeat is interleaved. Intermediary proxies and load
// balancers close idle streaming connections without it.
const DefaultHeartbeatInterval = 8 * time.Second

// session is the per-invocation relay state. It lives for exactly one
// Relay call and is never persisted.
type session struct {
	requestID   string
	fingerprint string
	lastEmitAt  time.Time
}

// Orchestrator composes the upstream client and the normalizer into a
// client-facing event sequence with heartbeats and a guaranteed terminal
// frame.
type Orchestrator struct {
	upstream  Opener
	heartbeat time.Duration

	now func() time.Time
}

// NewOrchestrator creates an orchestrator over upstream. A non-positive
// heartbeat interval selects the default.
func NewOrchestrator(upstream Opener, heartbeat time.Duration) *Orchestrator {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeatInterval
	}
	return &Orchestrator{
		upstream:  upstream,
		heartbeat: heartbeat,
		now:       time.Now,
	}
}

// Relay starts a fresh session for req and returns its event sequence.
//
// The channel is closed when the session ends. Unless the consumer cancels
// ctx, the last event is always exactly one terminal frame: End after a
// clean or recovered stream, or a terminal Error followed by End when the
// upstream connection could not be established. After cancellation no
// further events are sent and the upstream connection is released promptly.
// The caller must cancel ctx when it stops reading.
func (o *Orchestrator) Relay(ctx context.Context, req Request) <-chan Event {
	out := make(chan Event)
	go o.run(ctx, req, out)
	return out
}

func (o *Orchestrator) run(ctx context.Context, req Request, out chan<- Event) {
	defer close(out)

	s := &session{
		requestID:   uuid.NewString(),
		fingerprint: Fingerprint(req.Prompt),
	}
	logger := log.With().
		Str("request_id", s.requestID[:8]).
		Str("prompt_fp", s.fingerprint).
		Logger()

	handle, err := o.upstream.Open(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		logger.Warn().Err(err).Msg("relay: upstream open failed")
		if o.send(ctx, out, Event{Type: EventError, Text: errorText(err), Done: true, Terminal: true}) {
			o.send(ctx, out, Event{Type: EventEnd, Done: true})
		}
		return
	}
	defer func() { _ = handle.Close() }()

	if !o.send(ctx, out, Event{Type: EventStart}) {
		return
	}
	s.lastEmitAt = o.now()

	n := NewNormalizer(handle.Body)
	stopped := false
	// The silence check runs per raw upstream line. Blank keep-alive lines
	// never surface as events, so checking per event would let a blank-only
	// stretch exceed the interval without a heartbeat.
	n.OnLine(func() {
		if stopped || ctx.Err() != nil {
			stopped = true
			return
		}
		if o.now().Sub(s.lastEmitAt) >= o.heartbeat {
			if !o.send(ctx, out, Event{Type: EventHeartbeat}) {
				stopped = true
				return
			}
			s.lastEmitAt = o.now()
		}
	})
	for {
		ev, ok := n.Next()
		if !ok || stopped {
			break
		}
		if ctx.Err() != nil {
			return
		}

		if ev.Type == EventError {
			logger.Warn().Str("error", ev.Text).Msg("relay: stream degraded")
		}
		if !o.send(ctx, out, ev) {
			return
		}
		s.lastEmitAt = o.now()
	}

	if stopped {
		return
	}

	if ctx.Err() != nil {
		// Consumer cancelled while we were blocked on the upstream read; the
		// transport is gone, so no terminal frame is attempted.
		return
	}

	logger.Debug().Msg("relay: session complete")
	o.send(ctx, out, Event{Type: EventEnd, Done: true})
}

// send delivers ev unless the consumer has cancelled.
func (o *Orchestrator) send(ctx context.Context, out chan<- Event, ev Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// SessionLogger returns a session-tagged logger for callers that log around a
// relay invocation.
func SessionLogger(requestID string) zerolog.Logger {
	if len(requestID) > 8 {
		requestID = requestID[:8]
	}
	return log.With().Str("request_id", requestID).Logger()
}
