package relay

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/tidwall/gjson"
)

// maxLineBytes bounds a single upstream line. Chunked completions are tiny;
// anything near this limit is a broken upstream.
const maxLineBytes = 1024 * 1024

// doneSentinel is the upstream end-of-stream marker.
const doneSentinel = "[DONE]"

// Normalizer consumes raw upstream stream lines and emits normalized events.
//
// Per line: blank lines are skipped, a leading "data:" framing prefix is
// stripped, the [DONE] sentinel terminates the stream, JSON chunks yield the
// concatenated delta content, and anything else is passed through verbatim
// as a token so no upstream content is silently dropped.
type Normalizer struct {
	sc     *bufio.Scanner
	done   bool
	onLine func()
}

// NewNormalizer wraps the open upstream stream body.
func NewNormalizer(r io.Reader) *Normalizer {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return &Normalizer{sc: sc}
}

// OnLine registers fn to run once per raw upstream line, before any
// filtering. Blank keep-alive lines never surface as events, so this is the
// only place a caller can observe them, e.g. to drive heartbeat timing.
func (n *Normalizer) OnLine(fn func()) {
	n.onLine = fn
}

// Next returns the next normalized event. ok is false once the stream is
// finished: [DONE] seen, the connection closed, or a read error was already
// surfaced. A read error other than consumer cancellation is reported as a
// single non-terminal error event; the caller owns the final End.
func (n *Normalizer) Next() (Event, bool) {
	if n.done {
		return Event{}, false
	}

	for n.sc.Scan() {
		if n.onLine != nil {
			n.onLine()
		}
		line := strings.TrimSpace(n.sc.Text())
		if line == "" {
			continue
		}
		if rest, ok := strings.CutPrefix(line, "data:"); ok {
			line = strings.TrimSpace(rest)
		}
		if line == doneSentinel {
			n.done = true
			return Event{}, false
		}
		if text, ok := extractDelta(line); ok {
			return Event{Type: EventToken, Text: text}, true
		}
		// No token derived: emit the raw line so plain-text upstreams and
		// malformed chunks still reach the client.
		return Event{Type: EventToken, Text: line}, true
	}

	n.done = true
	if err := n.sc.Err(); err != nil && !isCancellation(err) {
		return Event{Type: EventError, Text: fmt.Sprintf("[Stream error] %v", err)}, true
	}
	return Event{}, false
}

// extractDelta concatenates the delta content of every choice in a JSON
// chunk line. ok is false when the line is not a parseable chunk or the
// concatenation is empty; the caller then falls back to raw emission.
func extractDelta(line string) (string, bool) {
	if !strings.HasPrefix(line, "{") || !strings.HasSuffix(line, "}") {
		return "", false
	}
	if !gjson.Valid(line) {
		return "", false
	}
	choices := gjson.Get(line, "choices")
	if !choices.Exists() {
		return "", false
	}

	var acc strings.Builder
	choices.ForEach(func(_, choice gjson.Result) bool {
		acc.WriteString(choice.Get("delta.content").String())
		return true
	})
	if acc.Len() == 0 {
		return "", false
	}
	return acc.String(), true
}

// isCancellation reports whether a stream read failed because the consumer
// went away, as opposed to an upstream fault.
func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
