// Package config - defaults.go centralizes magic numbers and default values.
//
// DESIGN: All default values that appear in multiple places are defined here.
// This keeps configuration maintainable and auditable.
package config

import "time"

// =============================================================================
// UPSTREAM MODEL ENDPOINT
// =============================================================================

// DefaultUpstreamURL is the chat-completions endpoint relayed to.
const DefaultUpstreamURL = "https://api.cerebras.ai/v1/chat/completions"

// DefaultModel is the model requested upstream.
const DefaultModel = "llama3.1-8b"

// DefaultTemperature is the fixed sampling temperature.
const DefaultTemperature = 0.4

// DefaultMaxOutputTokens bounds the model's response length.
const DefaultMaxOutputTokens = 1200

// DefaultSystemPreamble is the system message sent with every prompt.
const DefaultSystemPreamble = "You are an expert senior software engineer assistant."

// DefaultMaxAttempts is the upstream connection attempt budget.
const DefaultMaxAttempts = 3

// DefaultBackoffBase is the first retry delay; later delays double.
const DefaultBackoffBase = 1 * time.Second

// DefaultUpstreamTimeout bounds each upstream attempt end to end.
const DefaultUpstreamTimeout = 120 * time.Second

// =============================================================================
// STREAMING
// =============================================================================

// DefaultHeartbeatInterval is the maximum client-visible silence before a
// synthetic heartbeat frame.
const DefaultHeartbeatInterval = 8 * time.Second

// =============================================================================
// CACHES
// =============================================================================

// DefaultContentCacheSize bounds the fetched-content cache.
const DefaultContentCacheSize = 100

// DefaultContentCacheTTL is how long fetched file content stays fresh.
const DefaultContentCacheTTL = 1 * time.Hour

// DefaultResponseCacheSize bounds the response-dedup cache.
const DefaultResponseCacheSize = 100

// DefaultResponseCacheTTL is how long a finished review is replayable.
const DefaultResponseCacheTTL = 3 * time.Hour

// =============================================================================
// SOURCE FETCHING
// =============================================================================

// DefaultFetchTimeout bounds a single raw-content fetch.
const DefaultFetchTimeout = 15 * time.Second

// DefaultMaxFileBytes is the largest file accepted for review.
const DefaultMaxFileBytes = 120000

// =============================================================================
// PROMPTS
// =============================================================================

// DefaultMaxPromptTokens bounds the code portion of a review prompt.
const DefaultMaxPromptTokens = 30000

// =============================================================================
// HTTP SERVER
// =============================================================================

// DefaultPort is the listen port.
const DefaultPort = 5000

// DefaultReadTimeout for the HTTP server.
const DefaultReadTimeout = 30 * time.Second

// DefaultServerWriteTimeout for the HTTP server (safe for streaming).
const DefaultServerWriteTimeout = 10 * time.Minute

// DefaultAllowedOrigin is the development UI origin.
const DefaultAllowedOrigin = "http://localhost:5173"

// MaxRequestBodySize is the maximum allowed request body (2MB).
const MaxRequestBodySize = 2 * 1024 * 1024

// =============================================================================
// RATE LIMITING
// =============================================================================

// DefaultRateLimitPerMinute is requests per minute per IP.
const DefaultRateLimitPerMinute = 30

// MaxRateLimitBuckets prevents memory exhaustion from too many IP buckets.
const MaxRateLimitBuckets = 10000

// =============================================================================
// MONITORING
// =============================================================================

// DefaultTelemetryPath is the JSONL request-event log.
const DefaultTelemetryPath = "logs/requests.jsonl"
