package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/sjson"
)

// Upstream timing defaults. A slow model can legitimately hold a streaming
// connection open for minutes, so the per-attempt deadline is generous.
const (
	DefaultMaxAttempts    = 3
	DefaultBackoffBase    = 1 * time.Second
	DefaultAttemptTimeout = 120 * time.Second
)

// Sampling carries the fixed sampling parameters sent upstream. These are
// configuration constants, never user input.
type Sampling struct {
	Model       string
	Temperature float64
	MaxTokens   int
	TopP        float64
}

// Request is one relay invocation's upstream payload.
type Request struct {
	Prompt   string
	System   string
	Sampling Sampling
}

// StreamHandle is a live upstream streaming response. The caller owns Body
// and must Close it.
type StreamHandle struct {
	Body io.ReadCloser
}

// Close releases the upstream connection.
func (h *StreamHandle) Close() error {
	if h.Body == nil {
		return nil
	}
	return h.Body.Close()
}

// Opener obtains a live streaming response for a request. Satisfied by
// *Client; tests substitute stubs.
type Opener interface {
	Open(ctx context.Context, req Request) (*StreamHandle, error)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Stream      bool          `json:"stream"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

// Client issues the streaming completion request to the model endpoint, with
// bounded retry and exponential backoff on connection failure.
type Client struct {
	endpoint    string
	apiKey      string
	httpClient  *http.Client
	maxAttempts int
	backoffBase time.Duration
	onRetry     func()
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithMaxAttempts sets the connection attempt budget (minimum 2).
func WithMaxAttempts(n int) ClientOption {
	return func(client *Client) {
		if n >= 2 {
			client.maxAttempts = n
		}
	}
}

// WithBackoffBase sets the first retry delay; later delays double.
func WithBackoffBase(d time.Duration) ClientOption {
	return func(client *Client) {
		if d >= 0 {
			client.backoffBase = d
		}
	}
}

// WithRetryHook registers a callback invoked before each retried attempt,
// typically a metrics counter.
func WithRetryHook(fn func()) ClientOption {
	return func(client *Client) {
		client.onRetry = fn
	}
}

// NewClient creates an upstream client for a bearer-authenticated
// chat-completions endpoint.
func NewClient(endpoint, apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		endpoint: endpoint,
		apiKey:   apiKey,
		httpClient: &http.Client{
			Timeout: DefaultAttemptTimeout,
		},
		maxAttempts: DefaultMaxAttempts,
		backoffBase: DefaultBackoffBase,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// buildBody marshals the upstream request body. top_p is patched in only
// when configured so the endpoint's own default applies otherwise.
func buildBody(req Request) ([]byte, error) {
	body, err := json.Marshal(chatRequest{
		Model: req.Sampling.Model,
		Messages: []chatMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.Prompt},
		},
		Stream:      true,
		Temperature: req.Sampling.Temperature,
		MaxTokens:   req.Sampling.MaxTokens,
	})
	if err != nil {
		return nil, err
	}
	if req.Sampling.TopP > 0 {
		body, err = sjson.SetBytes(body, "top_p", req.Sampling.TopP)
		if err != nil {
			return nil, err
		}
	}
	return body, nil
}

// Open obtains a live streaming response for req.
//
// Network-level failures (including per-attempt timeouts) are retried up to
// the attempt budget with exponential backoff. A non-200 status is returned
// immediately as *RejectedError and never retried. Exhausted retries return
// *UnavailableError wrapping the last failure.
func (c *Client) Open(ctx context.Context, req Request) (*StreamHandle, error) {
	body, err := buildBody(req)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		httpReq, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if reqErr != nil {
			return nil, reqErr
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, doErr := c.httpClient.Do(httpReq)
		if doErr != nil {
			lastErr = doErr
			log.Warn().
				Err(doErr).
				Int("attempt", attempt).
				Int("max_attempts", c.maxAttempts).
				Msg("upstream: connection attempt failed")

			if attempt < c.maxAttempts {
				if err := sleepBackoff(ctx, c.backoffBase<<(attempt-1)); err != nil {
					return nil, &UnavailableError{Attempts: attempt, Err: lastErr}
				}
				if c.onRetry != nil {
					c.onRetry()
				}
			}
			continue
		}

		if resp.StatusCode != http.StatusOK {
			excerpt := readExcerpt(resp.Body, MaxRejectExcerptLen)
			_ = resp.Body.Close()
			log.Error().
				Int("status", resp.StatusCode).
				Str("body", excerpt).
				Msg("upstream: request rejected")
			return nil, &RejectedError{Status: resp.StatusCode, Excerpt: excerpt}
		}

		return &StreamHandle{Body: resp.Body}, nil
	}

	return nil, &UnavailableError{Attempts: c.maxAttempts, Err: lastErr}
}

// sleepBackoff waits for d or until ctx is done.
func sleepBackoff(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// readExcerpt reads at most maxChars characters for diagnostics, never
// splitting a multibyte rune.
func readExcerpt(r io.Reader, maxChars int) string {
	b, _ := io.ReadAll(io.LimitReader(r, int64(maxChars)*utf8.UTFMax))
	// The byte-level cut can leave a partial rune at the tail.
	for i := 0; i < utf8.UTFMax-1 && len(b) > 0 && !utf8.Valid(b); i++ {
		b = b[:len(b)-1]
	}
	runes := []rune(string(b))
	if len(runes) > maxChars {
		runes = runes[:maxChars]
	}
	return string(runes)
}
