package relay

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectNormalized(t *testing.T, input string) []Event {
	t.Helper()
	n := NewNormalizer(strings.NewReader(input))
	var events []Event
	for {
		ev, ok := n.Next()
		if !ok {
			return events
		}
		events = append(events, ev)
	}
}

func TestNormalizer_DeltaChunks(t *testing.T) {
	input := `data: {"choices":[{"delta":{"content":"He"}}]}` + "\n" +
		`data: {"choices":[{"delta":{"content":"llo"}}]}` + "\n" +
		"data: [DONE]\n"

	events := collectNormalized(t, input)

	require.Len(t, events, 2)
	assert.Equal(t, Event{Type: EventToken, Text: "He"}, events[0])
	assert.Equal(t, Event{Type: EventToken, Text: "llo"}, events[1])
}

func TestNormalizer_StopsAtDoneSentinel(t *testing.T) {
	input := `{"choices":[{"delta":{"content":"a"}}]}` + "\n" +
		"[DONE]\n" +
		`{"choices":[{"delta":{"content":"ignored"}}]}` + "\n"

	events := collectNormalized(t, input)

	require.Len(t, events, 1)
	assert.Equal(t, "a", events[0].Text)
}

func TestNormalizer_SkipsBlankLines(t *testing.T) {
	input := "\n\n" + `{"choices":[{"delta":{"content":"x"}}]}` + "\n\n[DONE]\n"

	events := collectNormalized(t, input)

	require.Len(t, events, 1)
	assert.Equal(t, "x", events[0].Text)
}

func TestNormalizer_OnLineSeesBlankLines(t *testing.T) {
	input := "\n\n" + `{"choices":[{"delta":{"content":"x"}}]}` + "\n\n[DONE]\n"

	n := NewNormalizer(strings.NewReader(input))
	lines := 0
	n.OnLine(func() { lines++ })
	for {
		if _, ok := n.Next(); !ok {
			break
		}
	}

	assert.Equal(t, 5, lines, "the hook runs for every raw line, blanks included")
}

func TestNormalizer_ConcatenatesMultipleChoices(t *testing.T) {
	input := `{"choices":[{"delta":{"content":"foo"}},{"delta":{"content":"bar"}}]}` + "\n"

	events := collectNormalized(t, input)

	require.Len(t, events, 1)
	assert.Equal(t, "foobar", events[0].Text)
}

func TestNormalizer_RawFallback(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"plain text", "thinking..."},
		{"malformed json", `{"choices":[{"delta":{`},
		{"json without choices", `{"object":"chat.completion.chunk"}`},
		{"json with empty deltas", `{"choices":[{"delta":{}}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events := collectNormalized(t, tt.line+"\n")
			require.Len(t, events, 1)
			assert.Equal(t, EventToken, events[0].Type)
			assert.Equal(t, tt.line, events[0].Text)
		})
	}
}

// errAfterReader yields its payload, then fails with err.
type errAfterReader struct {
	r   io.Reader
	err error
}

func (e *errAfterReader) Read(p []byte) (int, error) {
	n, err := e.r.Read(p)
	if err == io.EOF {
		return n, e.err
	}
	return n, err
}

func TestNormalizer_ReadErrorBecomesNonTerminalError(t *testing.T) {
	r := &errAfterReader{
		r:   strings.NewReader(`{"choices":[{"delta":{"content":"partial"}}]}` + "\n"),
		err: errors.New("connection reset"),
	}

	n := NewNormalizer(r)

	ev, ok := n.Next()
	require.True(t, ok)
	assert.Equal(t, "partial", ev.Text)

	ev, ok = n.Next()
	require.True(t, ok)
	assert.Equal(t, EventError, ev.Type)
	assert.False(t, ev.Terminal)
	assert.Contains(t, ev.Text, "[Stream error]")
	assert.Contains(t, ev.Text, "connection reset")

	_, ok = n.Next()
	assert.False(t, ok)
}

func TestNormalizer_CancellationIsSilent(t *testing.T) {
	pr, pw := io.Pipe()
	n := NewNormalizer(pr)
	_ = pw.CloseWithError(context.Canceled)

	_, ok := n.Next()
	assert.False(t, ok, "consumer cancellation must not produce an error event")
}
