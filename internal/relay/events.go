// Package relay turns an upstream chat-completions stream into a normalized
// client-facing event sequence.
//
// DESIGN: The relay pipeline:
//   - Client:       opens the upstream streaming request with retry/backoff
//   - Normalizer:   parses raw upstream lines into Events
//   - Orchestrator: owns the session, interleaves heartbeats, guarantees a
//     terminal frame
//
// Consumers read events from a channel and encode them with Frame for the
// SSE transport.
package relay

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// EventType discriminates client-facing events.
type EventType string

// Event discriminators, in the order a well-formed session can emit them.
const (
	EventStart     EventType = "start"
	EventToken     EventType = "token"
	EventHeartbeat EventType = "heartbeat"
	EventError     EventType = "error"
	EventEnd       EventType = "end"
)

// Event is one normalized client-facing event. Text is set for token and
// error events. Done marks terminal frames. Terminal distinguishes an error
// that ends the session from one the session recovers from.
type Event struct {
	Type     EventType
	Text     string
	Done     bool
	Terminal bool
}

// Sentinel is the out-of-band closure line written after the last frame, for
// transports that need an end marker distinct from the final data frame.
const Sentinel = "data: [DONE]\n"

type frameDelta struct {
	Content string `json:"content"`
}

type frameChoice struct {
	Delta frameDelta `json:"delta"`
}

type framePayload struct {
	Choices []frameChoice `json:"choices"`
	Event   EventType     `json:"event"`
	Done    bool          `json:"done,omitempty"`
}

// Frame encodes an event as one independently parseable SSE data line:
//
//	data: {"choices":[{"delta":{"content":...}}],"event":...,"done":true}\n
func Frame(ev Event) []byte {
	payload := framePayload{
		Choices: []frameChoice{{Delta: frameDelta{Content: ev.Text}}},
		Event:   ev.Type,
		Done:    ev.Done,
	}

	var buf bytes.Buffer
	buf.WriteString("data: ")
	enc := json.NewEncoder(&buf)
	// No HTML escaping: code tokens are full of '<' and '&', and escaping
	// them inflates every frame.
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		// framePayload cannot fail to marshal; keep the stream alive anyway.
		return []byte(`data: {"choices":[{"delta":{"content":""}}],"event":"error"}` + "\n")
	}
	// Encoder terminates with '\n', which is exactly the frame delimiter.
	return buf.Bytes()
}

// Fingerprint returns a short deterministic hash of content, used as the
// prompt fingerprint and as a dedup-cache key component.
func Fingerprint(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])[:16]
}
