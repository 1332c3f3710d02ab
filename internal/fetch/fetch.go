// Package fetch retrieves source files from GitHub through the raw content
// host, with an in-memory TTL cache and in-flight request deduplication.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/codesage/codesage/internal/cache"
	"github.com/codesage/codesage/internal/config"
)

// ErrUnsupportedURL is returned for URLs that are not direct blob file links.
var ErrUnsupportedURL = errors.New("unsupported GitHub URL, use a direct blob file URL")

// ErrReadmeNotFound is returned when no README could be fetched from any
// candidate branch.
var ErrReadmeNotFound = errors.New("could not fetch README.md from the repository")

var (
	blobRe = regexp.MustCompile(`^https://github\.com/([^/]+)/([^/]+)/blob/([^/]+)/(.+)$`)
	repoRe = regexp.MustCompile(`^https?://github\.com/([^/]+)/([^/#?]+)`)
)

// FileRef identifies one file within a repository at a branch.
type FileRef struct {
	Owner  string
	Repo   string
	Branch string
	Path   string
}

// RawURL is the raw.githubusercontent.com location of the file.
func (r FileRef) RawURL() string {
	return fmt.Sprintf("https://raw.githubusercontent.com/%s/%s/%s/%s", r.Owner, r.Repo, r.Branch, r.Path)
}

func (r FileRef) cacheKey() string {
	return r.Owner + "/" + r.Repo + "/" + r.Branch + "/" + r.Path
}

// ParseBlobURL extracts a FileRef from a github.com blob URL.
func ParseBlobURL(url string) (FileRef, error) {
	m := blobRe.FindStringSubmatch(strings.TrimSpace(url))
	if m == nil {
		return FileRef{}, ErrUnsupportedURL
	}
	return FileRef{Owner: m[1], Repo: m[2], Branch: m[3], Path: m[4]}, nil
}

// ParseRepoURL extracts owner and repo from a github.com repository URL,
// tolerating trailing paths, fragments, and a .git suffix.
func ParseRepoURL(url string) (owner, repo string, err error) {
	m := repoRe.FindStringSubmatch(strings.TrimSpace(url))
	if m == nil {
		return "", "", ErrUnsupportedURL
	}
	return m[1], strings.TrimSuffix(m[2], ".git"), nil
}

// Fetcher retrieves and caches raw file content.
type Fetcher struct {
	client       *http.Client
	maxFileBytes int
	cache        *cache.Cache[string, string]
	group        singleflight.Group
	baseURL      string
}

// Option customizes a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// WithBaseURL redirects raw-content requests, for tests.
func WithBaseURL(base string) Option {
	return func(f *Fetcher) { f.baseURL = strings.TrimSuffix(base, "/") }
}

// New builds a Fetcher backed by the given content cache.
func New(cfg config.FetchConfig, contentCache *cache.Cache[string, string], opts ...Option) *Fetcher {
	f := &Fetcher{
		client:       &http.Client{Timeout: cfg.Timeout},
		maxFileBytes: cfg.MaxFileBytes,
		cache:        contentCache,
	}
	if f.client.Timeout == 0 {
		f.client.Timeout = config.DefaultFetchTimeout
	}
	if f.maxFileBytes == 0 {
		f.maxFileBytes = config.DefaultMaxFileBytes
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// File fetches the content behind a blob URL. Cached content is served
// without a network round trip, and concurrent fetches of the same file
// collapse into one request.
func (f *Fetcher) File(ctx context.Context, url string) (string, error) {
	ref, err := ParseBlobURL(url)
	if err != nil {
		return "", err
	}
	key := ref.cacheKey()
	if content, ok := f.cache.Get(key); ok {
		return content, nil
	}

	v, err, _ := f.group.Do(key, func() (any, error) {
		content, err := f.download(ctx, f.rewrite(ref.RawURL()))
		if err != nil {
			return nil, err
		}
		f.cache.Set(key, content)
		return content, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Cached reports whether the content behind a blob URL is currently cached.
func (f *Fetcher) Cached(url string) bool {
	ref, err := ParseBlobURL(url)
	if err != nil {
		return false
	}
	_, ok := f.cache.Get(ref.cacheKey())
	return ok
}

// Readme fetches README.md from the repository, trying the main branch and
// then master. It returns ErrReadmeNotFound wrapped with the URLs tried.
func (f *Fetcher) Readme(ctx context.Context, owner, repo string) (string, error) {
	tried := make([]string, 0, 2)
	for _, branch := range []string{"main", "master"} {
		ref := FileRef{Owner: owner, Repo: repo, Branch: branch, Path: "README.md"}
		key := ref.cacheKey()
		if content, ok := f.cache.Get(key); ok {
			return content, nil
		}
		url := f.rewrite(ref.RawURL())
		tried = append(tried, url)
		content, err := f.download(ctx, url)
		if err != nil {
			log.Debug().Str("url", url).Err(err).Msg("readme branch miss")
			continue
		}
		f.cache.Set(key, content)
		return content, nil
	}
	return "", fmt.Errorf("%w (tried: %s)", ErrReadmeNotFound, strings.Join(tried, ", "))
}

func (f *Fetcher) download(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch failed %d", resp.StatusCode)
	}

	// Read one byte past the limit so oversize files are detected without
	// buffering the whole body.
	data, err := io.ReadAll(io.LimitReader(resp.Body, int64(f.maxFileBytes)+1))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	if len(data) > f.maxFileBytes {
		return "", fmt.Errorf("file too large (> %d bytes)", f.maxFileBytes)
	}
	return strings.ToValidUTF8(string(data), "�"), nil
}

func (f *Fetcher) rewrite(rawURL string) string {
	if f.baseURL == "" {
		return rawURL
	}
	const host = "https://raw.githubusercontent.com"
	return f.baseURL + strings.TrimPrefix(rawURL, host)
}
