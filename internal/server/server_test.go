package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codesage/codesage/internal/cache"
	"github.com/codesage/codesage/internal/config"
	"github.com/codesage/codesage/internal/fetch"
	"github.com/codesage/codesage/internal/monitoring"
	"github.com/codesage/codesage/internal/relay"
)

// scriptedOpener returns a canned SSE body for every open and counts opens.
type scriptedOpener struct {
	lines []string
	opens atomic.Int64
	err   error
}

func (o *scriptedOpener) Open(ctx context.Context, req relay.Request) (*relay.StreamHandle, error) {
	o.opens.Add(1)
	if o.err != nil {
		return nil, o.err
	}
	body := strings.Join(o.lines, "\n") + "\n"
	return &relay.StreamHandle{Body: io.NopCloser(strings.NewReader(body))}, nil
}

// truncatedOpener serves one token and then fails the body read mid-stream.
type truncatedOpener struct {
	readErr error
	opens   atomic.Int64
}

func (o *truncatedOpener) Open(ctx context.Context, req relay.Request) (*relay.StreamHandle, error) {
	o.opens.Add(1)
	body := &abortingBody{data: strings.NewReader(deltaLine("partial") + "\n"), err: o.readErr}
	return &relay.StreamHandle{Body: io.NopCloser(body)}, nil
}

// abortingBody replaces EOF with a transport error.
type abortingBody struct {
	data io.Reader
	err  error
}

func (b *abortingBody) Read(p []byte) (int, error) {
	n, err := b.data.Read(p)
	if err == io.EOF {
		return n, b.err
	}
	return n, err
}

func deltaLine(content string) string {
	b, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{{"delta": map[string]string{"content": content}}},
	})
	return "data: " + string(b)
}

func newTestServer(t *testing.T, opener relay.Opener) (*Server, *scriptedOpener) {
	t.Helper()
	so, _ := opener.(*scriptedOpener)
	if opener == nil {
		so = &scriptedOpener{lines: []string{deltaLine("He"), deltaLine("llo"), "data: [DONE]"}}
		opener = so
	}

	cfg := config.Default()
	cfg.Upstream.APIKey = "sk-test"

	contentCache := cache.New[string, string](10, time.Hour)
	fetcher := fetch.New(cfg.Fetch, contentCache)

	srv := New(cfg, Deps{
		Orchestrator:  relay.NewOrchestrator(opener, cfg.Relay.HeartbeatInterval),
		Fetcher:       fetcher,
		ContentCache:  contentCache,
		ResponseCache: cache.New[string, string](10, time.Hour),
		Metrics:       monitoring.NewMetricsCollector(),
	})
	return srv, so
}

func postJSON(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestReviewStreamsTokens(t *testing.T) {
	srv, so := newTestServer(t, nil)
	h := srv.Handler()

	rec := postJSON(t, h, "/api/review", `{"code":"func main() {}","mode":"bugs"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))

	body := rec.Body.String()
	assert.Contains(t, body, `"event":"start"`)
	assert.Contains(t, body, `"content":"He"`)
	assert.Contains(t, body, `"content":"llo"`)
	assert.Contains(t, body, `"event":"end"`)
	assert.True(t, strings.HasSuffix(body, relay.Sentinel))
	assert.Equal(t, int64(1), so.opens.Load())
}

func TestReviewRequiresInput(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rec := postJSON(t, srv.Handler(), "/api/review", `{"mode":"bugs"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp struct {
		Error struct {
			Message   string `json:"message"`
			Code      int    `json:"code"`
			RequestID string `json:"request_id"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.Error.Message, "Provide 'code' or 'url'")
	assert.NotEmpty(t, resp.Error.RequestID)
}

func TestReviewRejectsInvalidJSON(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	rec := postJSON(t, srv.Handler(), "/api/review", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReviewRejectsGet(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/review", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestReviewReplaysFromResponseCache(t *testing.T) {
	srv, so := newTestServer(t, nil)
	h := srv.Handler()
	body := `{"code":"def f(): pass","mode":"explain"}`

	first := postJSON(t, h, "/api/review", body)
	require.Equal(t, http.StatusOK, first.Code)
	require.Equal(t, int64(1), so.opens.Load())

	second := postJSON(t, h, "/api/review", body)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, int64(1), so.opens.Load(), "replay must not reopen the upstream")
	assert.Contains(t, second.Body.String(), `"content":"Hello"`)
	assert.True(t, strings.HasSuffix(second.Body.String(), relay.Sentinel))
}

func TestReviewDifferentModeMissesCache(t *testing.T) {
	srv, so := newTestServer(t, nil)
	h := srv.Handler()

	postJSON(t, h, "/api/review", `{"code":"x = 1","mode":"bugs"}`)
	postJSON(t, h, "/api/review", `{"code":"x = 1","mode":"security"}`)
	assert.Equal(t, int64(2), so.opens.Load())
}

func TestReviewFailedStreamNotCached(t *testing.T) {
	so := &scriptedOpener{err: &relay.RejectedError{Status: 500, Excerpt: "boom"}}
	srv, _ := newTestServer(t, so)
	h := srv.Handler()
	body := `{"code":"y = 2","mode":"bugs"}`

	first := postJSON(t, h, "/api/review", body)
	require.Equal(t, http.StatusOK, first.Code)
	assert.Contains(t, first.Body.String(), "[API error] 500: boom")

	postJSON(t, h, "/api/review", body)
	assert.Equal(t, int64(2), so.opens.Load(), "failed review must not be replayed")
}

func TestReviewTruncatedStreamNotCached(t *testing.T) {
	so := &truncatedOpener{readErr: errors.New("connection reset by peer")}
	srv, _ := newTestServer(t, so)
	h := srv.Handler()
	body := `{"code":"z = 3","mode":"bugs"}`

	first := postJSON(t, h, "/api/review", body)
	require.Equal(t, http.StatusOK, first.Code)
	assert.Contains(t, first.Body.String(), `"content":"partial"`)
	assert.Contains(t, first.Body.String(), "[Stream error] connection reset by peer")
	assert.Contains(t, first.Body.String(), `"event":"end"`)

	second := postJSON(t, h, "/api/review", body)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, int64(2), so.opens.Load(), "a truncated review must not be replayed")
}

func TestReviewFetchErrorDegradesInline(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	// No test upstream behind the fetcher, so the fetch fails fast; the
	// review must still stream rather than 400.
	raw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer raw.Close()
	srv.fetcher = fetch.New(srv.cfg.Fetch, srv.contentCache, fetch.WithBaseURL(raw.URL))

	rec := postJSON(t, srv.Handler(), "/api/review",
		`{"url":"https://github.com/o/r/blob/main/gone.go","mode":"bugs"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"event":"start"`)
}

func TestAnalyzeRepoStreamsReadmeReview(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	raw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/o/r/main/README.md" {
			w.Write([]byte("# Project\nDoes things."))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer raw.Close()
	srv.fetcher = fetch.New(srv.cfg.Fetch, srv.contentCache, fetch.WithBaseURL(raw.URL))

	rec := postJSON(t, srv.Handler(), "/api/analyze-repo",
		`{"repository_url":"https://github.com/o/r","mode":"overview"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"content":"He"`)
	assert.True(t, strings.HasSuffix(rec.Body.String(), relay.Sentinel))
}

func TestAnalyzeRepoMissingReadmeStillStreams(t *testing.T) {
	srv, so := newTestServer(t, nil)

	raw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer raw.Close()
	srv.fetcher = fetch.New(srv.cfg.Fetch, srv.contentCache, fetch.WithBaseURL(raw.URL))

	rec := postJSON(t, srv.Handler(), "/api/analyze-repo",
		`{"repository_url":"https://github.com/o/r"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "could not fetch README.md")
	assert.True(t, strings.HasSuffix(rec.Body.String(), relay.Sentinel))
	assert.Equal(t, int64(0), so.opens.Load(), "no upstream call without a README")
}

func TestAnalyzeRepoRejectsBadURL(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rec := postJSON(t, srv.Handler(), "/api/analyze-repo", `{"repository_url":"https://example.com/x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postJSON(t, srv.Handler(), "/api/analyze-repo", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, Version, resp["version"])
	assert.Contains(t, resp, "metrics")
	assert.Contains(t, resp, "cache")
	assert.Equal(t, 0, srv.contentCache.Len(), "the health probe entry must not linger")
}

func TestStatsIncludesModeSummaries(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	store, err := monitoring.OpenEventStore(t.TempDir() + "/events.db")
	require.NoError(t, err)
	defer store.Close()
	srv.store = store
	h := srv.Handler()

	rec := postJSON(t, h, "/api/review", `{"code":"x = 1","mode":"bugs"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	req.RemoteAddr = "127.0.0.1:54321"
	stats := httptest.NewRecorder()
	h.ServeHTTP(stats, req)
	require.Equal(t, http.StatusOK, stats.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(stats.Body.Bytes(), &resp))
	require.Contains(t, resp, "modes_24h")
	modes := resp["modes_24h"].([]any)
	require.Len(t, modes, 1)
	assert.Equal(t, "bugs", modes[0].(map[string]any)["mode"])
}

func TestStatsLoopbackOnly(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	h := srv.Handler()

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	req.RemoteAddr = "127.0.0.1:54321"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "uptime")

	req = httptest.NewRequest(http.MethodGet, "/stats", nil)
	req.RemoteAddr = "203.0.113.9:12345"
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSecurityHeaders(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "SAMEORIGIN", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "no-referrer-when-downgrade", rec.Header().Get("Referrer-Policy"))
}

func TestCORSAllowsConfiguredOrigin(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	h := srv.Handler()

	req := httptest.NewRequest(http.MethodOptions, "/api/review", nil)
	req.Header.Set("Origin", config.DefaultAllowedOrigin)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, config.DefaultAllowedOrigin, rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/api/review", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimitEnforced(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	srv.limiter = newIPLimiter(3, 100)
	h := srv.Handler()

	var limited bool
	for i := 0; i < 10; i++ {
		rec := postJSON(t, h, "/api/review", `{"code":"x"}`)
		if rec.Code == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	assert.True(t, limited, "burst above the per-minute limit must be rejected")
}

func TestRateLimitDoesNotApplyToStats(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	srv.limiter = newIPLimiter(1, 100)
	h := srv.Handler()

	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/stats", nil)
		req.RemoteAddr = "127.0.0.1:1000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}
