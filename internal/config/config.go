package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full service configuration. Precedence: defaults, then the
// optional YAML file, then environment variables.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Upstream   UpstreamConfig   `yaml:"upstream"`
	Relay      RelayConfig      `yaml:"relay"`
	Fetch      FetchConfig      `yaml:"fetch"`
	Caches     CachesConfig     `yaml:"caches"`
	Prompt     PromptConfig     `yaml:"prompt"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port               int           `yaml:"port"`
	ReadTimeout        time.Duration `yaml:"read_timeout"`
	WriteTimeout       time.Duration `yaml:"write_timeout"`
	AllowedOrigins     []string      `yaml:"allowed_origins"`
	RateLimitPerMinute int           `yaml:"rate_limit_per_minute"`
}

// UpstreamConfig configures the model endpoint and retry policy.
type UpstreamConfig struct {
	URL         string        `yaml:"url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	TopP        float64       `yaml:"top_p"`
	System      string        `yaml:"system"`
	MaxAttempts int           `yaml:"max_attempts"`
	BackoffBase time.Duration `yaml:"backoff_base"`
	Timeout     time.Duration `yaml:"timeout"`
}

// RelayConfig configures client-facing streaming behavior.
type RelayConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

// FetchConfig configures raw source-content fetching.
type FetchConfig struct {
	Timeout      time.Duration `yaml:"timeout"`
	MaxFileBytes int           `yaml:"max_file_bytes"`
}

// CachesConfig configures the two shared caches.
type CachesConfig struct {
	ContentSize  int           `yaml:"content_size"`
	ContentTTL   time.Duration `yaml:"content_ttl"`
	ResponseSize int           `yaml:"response_size"`
	ResponseTTL  time.Duration `yaml:"response_ttl"`
}

// PromptConfig configures prompt assembly.
type PromptConfig struct {
	MaxTokens int `yaml:"max_tokens"`
}

// MonitoringConfig configures telemetry sinks.
type MonitoringConfig struct {
	TelemetryPath  string `yaml:"telemetry_path"`
	EventStorePath string `yaml:"event_store_path"`
	LogToStdout    bool   `yaml:"log_to_stdout"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:               DefaultPort,
			ReadTimeout:        DefaultReadTimeout,
			WriteTimeout:       DefaultServerWriteTimeout,
			AllowedOrigins:     []string{DefaultAllowedOrigin},
			RateLimitPerMinute: DefaultRateLimitPerMinute,
		},
		Upstream: UpstreamConfig{
			URL:         DefaultUpstreamURL,
			Model:       DefaultModel,
			Temperature: DefaultTemperature,
			MaxTokens:   DefaultMaxOutputTokens,
			System:      DefaultSystemPreamble,
			MaxAttempts: DefaultMaxAttempts,
			BackoffBase: DefaultBackoffBase,
			Timeout:     DefaultUpstreamTimeout,
		},
		Relay: RelayConfig{
			HeartbeatInterval: DefaultHeartbeatInterval,
		},
		Fetch: FetchConfig{
			Timeout:      DefaultFetchTimeout,
			MaxFileBytes: DefaultMaxFileBytes,
		},
		Caches: CachesConfig{
			ContentSize:  DefaultContentCacheSize,
			ContentTTL:   DefaultContentCacheTTL,
			ResponseSize: DefaultResponseCacheSize,
			ResponseTTL:  DefaultResponseCacheTTL,
		},
		Prompt: PromptConfig{
			MaxTokens: DefaultMaxPromptTokens,
		},
		Monitoring: MonitoringConfig{
			TelemetryPath: DefaultTelemetryPath,
			LogToStdout:   true,
		},
	}
}

// Load builds the configuration. path may be empty; a missing file at an
// explicit path is an error, so typos don't silently fall back to defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays CODESAGE_* environment variables. CEREBRAS_API_KEY is
// honored for parity with older deployments.
func (c *Config) applyEnv() {
	if v := os.Getenv("CODESAGE_API_KEY"); v != "" {
		c.Upstream.APIKey = v
	} else if v := os.Getenv("CEREBRAS_API_KEY"); v != "" {
		c.Upstream.APIKey = v
	}
	if v := os.Getenv("CODESAGE_UPSTREAM_URL"); v != "" {
		c.Upstream.URL = v
	}
	if v := os.Getenv("CODESAGE_MODEL"); v != "" {
		c.Upstream.Model = v
	}
	if v := os.Getenv("CODESAGE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		origins := make([]string, 0, 2)
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		if len(origins) > 0 {
			c.Server.AllowedOrigins = origins
		}
	}
	if v := os.Getenv("RATE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Server.RateLimitPerMinute = n
		}
	}
	if v := os.Getenv("MAX_FILE_BYTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Fetch.MaxFileBytes = n
		}
	}
	if v := os.Getenv("CODESAGE_TELEMETRY_PATH"); v != "" {
		c.Monitoring.TelemetryPath = v
	}
	if v := os.Getenv("CODESAGE_EVENT_STORE"); v != "" {
		c.Monitoring.EventStorePath = v
	}
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	if c.Upstream.APIKey == "" {
		return fmt.Errorf("missing env vars: CODESAGE_API_KEY")
	}
	if c.Upstream.URL == "" {
		return fmt.Errorf("upstream URL must not be empty")
	}
	if c.Upstream.MaxAttempts < 2 {
		return fmt.Errorf("upstream max_attempts must be at least 2, got %d", c.Upstream.MaxAttempts)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	return nil
}
