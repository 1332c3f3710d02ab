package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/codesage/codesage/internal/config"
	"github.com/codesage/codesage/internal/fetch"
	"github.com/codesage/codesage/internal/prompt"
	"github.com/codesage/codesage/internal/relay"
)

type reviewRequest struct {
	Code string   `json:"code"`
	URL  string   `json:"url"`
	URLs []string `json:"urls"`
	Mode string   `json:"mode"`
}

type analyzeRepoRequest struct {
	RepositoryURL string `json:"repository_url"`
	Repo          string `json:"repo"`
	URL           string `json:"url"`
	Mode          string `json:"mode"`
}

func (s *Server) handleReview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, "method not allowed", http.StatusMethodNotAllowed, "")
		return
	}

	requestID := shortID()
	t0 := time.Now()
	logger := relay.SessionLogger(requestID)

	var req reviewRequest
	body := http.MaxBytesReader(w, r.Body, config.MaxRequestBodySize)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		s.metrics.RecordRequest(false, time.Since(t0))
		writeError(w, "invalid JSON body", http.StatusBadRequest, requestID)
		return
	}

	if req.Code == "" && req.URL == "" && len(req.URLs) == 0 {
		s.metrics.RecordRequest(false, time.Since(t0))
		writeError(w, "Provide 'code' or 'url' (or 'urls' array)", http.StatusBadRequest, requestID)
		return
	}

	mode := string(prompt.NormalizeMode(req.Mode))

	aggregated, fileCount, err := s.aggregateCode(r, req)
	if err != nil {
		s.metrics.RecordRequest(false, time.Since(t0))
		writeError(w, err.Error(), http.StatusBadRequest, requestID)
		return
	}

	clean := prompt.Sanitize(aggregated)

	source := "code"
	if req.Code == "" {
		source = "url"
	}
	ev := &monitoringStart{
		requestID: requestID, endpoint: "/api/review", mode: mode,
		source: source, fileCount: fileCount, clientIP: clientIP(r), t0: t0,
	}

	// A finished review for identical content, mode, and file count is
	// replayed without touching the upstream.
	cacheKey := fmt.Sprintf("%s:%s:%d", relay.Fingerprint(clean), mode, fileCount)
	if cached, ok := s.responseCache.Get(cacheKey); ok {
		s.metrics.RecordResponseCache(true)
		logger.Info().Str("mode", mode).Msg("review replayed from cache")
		s.replayCached(w, cached)
		s.finishRequest(ev, 1, true, true, "")
		return
	}
	s.metrics.RecordResponseCache(false)

	text, _ := prompt.TruncateToBudget(clean, s.cfg.Prompt.MaxTokens)
	logger.Info().Str("mode", mode).Int("files", fileCount).Msg("review stream starting")

	res := s.streamRelay(w, r, prompt.Build(mode, text))
	// Only a clean end-to-end stream is worth replaying; a session that
	// surfaced any stream error holds at best a truncated review.
	if res.clean && res.text != "" {
		s.responseCache.Set(cacheKey, res.text)
	}

	errMsg := ""
	if !res.completed {
		errMsg = "stream did not complete"
	}
	s.finishRequest(ev, res.tokens, res.completed, false, errMsg)
}

func (s *Server) handleAnalyzeRepo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, "method not allowed", http.StatusMethodNotAllowed, "")
		return
	}

	requestID := shortID()
	t0 := time.Now()

	var req analyzeRepoRequest
	body := http.MaxBytesReader(w, r.Body, config.MaxRequestBodySize)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		s.metrics.RecordRequest(false, time.Since(t0))
		writeError(w, "invalid JSON body", http.StatusBadRequest, requestID)
		return
	}

	repoURL := strings.TrimSpace(firstNonEmpty(req.RepositoryURL, req.Repo, req.URL))
	if repoURL == "" {
		s.metrics.RecordRequest(false, time.Since(t0))
		writeError(w, "Missing 'repository_url'", http.StatusBadRequest, requestID)
		return
	}

	owner, repo, err := fetch.ParseRepoURL(repoURL)
	if err != nil {
		s.metrics.RecordRequest(false, time.Since(t0))
		writeError(w, "Unsupported repository URL", http.StatusBadRequest, requestID)
		return
	}

	mode := req.Mode
	if mode == "" {
		mode = string(prompt.ModeOverview)
	}
	mode = string(prompt.NormalizeMode(mode))

	ev := &monitoringStart{
		requestID: requestID, endpoint: "/api/analyze-repo", mode: mode,
		source: "repo", fileCount: 1, clientIP: clientIP(r), t0: t0,
	}

	sw, ok := newSSEWriter(w)
	if !ok {
		s.metrics.RecordRequest(false, time.Since(t0))
		writeError(w, "streaming unsupported", http.StatusInternalServerError, requestID)
		return
	}

	readme, err := s.fetcher.Readme(r.Context(), owner, repo)
	if err != nil {
		// A missing README is reported inside a valid stream, not a 400.
		sw.write(relay.Event{Type: relay.EventStart})
		sw.write(relay.Event{Type: relay.EventToken, Text: err.Error() + ". Please provide specific file URLs instead."})
		sw.write(relay.Event{Type: relay.EventEnd, Done: true})
		sw.sentinel()
		s.finishRequest(ev, 1, true, false, "")
		return
	}

	text, _ := prompt.TruncateToBudget(prompt.Sanitize(readme), s.cfg.Prompt.MaxTokens)
	res := s.streamRelayOn(sw, r, prompt.Build(mode, text))

	errMsg := ""
	if !res.completed {
		errMsg = "stream did not complete"
	}
	s.finishRequest(ev, res.tokens, res.completed, false, errMsg)
}

// aggregateCode assembles the code to review from an inline snippet or one
// or more blob URLs. Per-URL fetch failures degrade to an inline marker so
// one bad URL does not sink a multi-file review.
func (s *Server) aggregateCode(r *http.Request, req reviewRequest) (string, int, error) {
	if req.Code != "" {
		return "// Provided code snippet\n" + req.Code, 1, nil
	}

	targets := make([]string, 0, len(req.URLs)+1)
	for _, u := range req.URLs {
		if strings.TrimSpace(u) != "" {
			targets = append(targets, u)
		}
	}
	if strings.TrimSpace(req.URL) != "" {
		targets = append(targets, req.URL)
	}
	if len(targets) == 0 {
		return "", 0, errors.New("No valid URL(s) provided")
	}

	parts := make([]string, 0, len(targets))
	for i, u := range targets {
		s.metrics.RecordContentCache(s.fetcher.Cached(u))
		content, err := s.fetcher.File(r.Context(), u)
		if err != nil {
			parts = append(parts, fmt.Sprintf("// File %d: %s (fetch error: %v)\n", i+1, u, err))
			continue
		}
		parts = append(parts, fmt.Sprintf("// File %d: %s\n%s", i+1, u, content))
	}
	return strings.Join(parts, "\n\n"), len(targets), nil
}

// streamResult is the outcome of one relayed stream. completed means the
// stream reached its End without a terminal error; clean additionally means
// no error event of any kind was emitted, so the text is the full review.
type streamResult struct {
	text      string
	tokens    int
	completed bool
	clean     bool
}

// streamRelay opens the SSE response and forwards the relay event sequence.
func (s *Server) streamRelay(w http.ResponseWriter, r *http.Request, promptText string) streamResult {
	sw, ok := newSSEWriter(w)
	if !ok {
		writeError(w, "streaming unsupported", http.StatusInternalServerError, "")
		return streamResult{}
	}
	return s.streamRelayOn(sw, r, promptText)
}

func (s *Server) streamRelayOn(sw *sseWriter, r *http.Request, promptText string) streamResult {
	s.metrics.RecordStreamStarted()

	req := relay.Request{
		Prompt: promptText,
		System: s.cfg.Upstream.System,
		Sampling: relay.Sampling{
			Model:       s.cfg.Upstream.Model,
			Temperature: s.cfg.Upstream.Temperature,
			MaxTokens:   s.cfg.Upstream.MaxTokens,
			TopP:        s.cfg.Upstream.TopP,
		},
	}

	var full strings.Builder
	tokens := 0
	terminal := false
	hadError := false
	sawEnd := false

	for ev := range s.orchestrator.Relay(r.Context(), req) {
		if err := sw.write(ev); err != nil {
			// Client went away; the relay notices via the request context.
			return streamResult{text: full.String(), tokens: tokens}
		}
		switch ev.Type {
		case relay.EventToken:
			tokens++
			full.WriteString(ev.Text)
		case relay.EventHeartbeat:
			s.metrics.RecordHeartbeat()
		case relay.EventError:
			hadError = true
			if ev.Terminal {
				terminal = true
			}
		case relay.EventEnd:
			sawEnd = true
		}
	}
	sw.sentinel()

	s.metrics.RecordTokens(tokens)
	completed := sawEnd && !terminal
	if completed {
		s.metrics.RecordStreamCompleted()
	}
	return streamResult{
		text:      full.String(),
		tokens:    tokens,
		completed: completed,
		clean:     completed && !hadError,
	}
}

// replayCached emits a cached review as a minimal valid stream.
func (s *Server) replayCached(w http.ResponseWriter, cached string) {
	sw, ok := newSSEWriter(w)
	if !ok {
		writeError(w, "streaming unsupported", http.StatusInternalServerError, "")
		return
	}
	sw.write(relay.Event{Type: relay.EventStart})
	sw.write(relay.Event{Type: relay.EventToken, Text: cached})
	sw.write(relay.Event{Type: relay.EventEnd, Done: true})
	sw.sentinel()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func shortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}
