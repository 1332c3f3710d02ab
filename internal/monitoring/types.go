package monitoring

// TelemetryConfig controls telemetry recording.
type TelemetryConfig struct {
	Enabled     bool
	LogPath     string
	LogToStdout bool
}

// ReviewEvent describes one handled review request, recorded after the
// response stream finishes or fails.
type ReviewEvent struct {
	Timestamp   string `json:"timestamp"`
	RequestID   string `json:"request_id"`
	Endpoint    string `json:"endpoint"`
	Mode        string `json:"mode"`
	Source      string `json:"source"` // "code", "url", "repo"
	FileCount   int    `json:"file_count"`
	CacheReplay bool   `json:"cache_replay"`
	Tokens      int    `json:"tokens"`
	DurationMs  int64  `json:"duration_ms"`
	Success     bool   `json:"success"`
	Error       string `json:"error,omitempty"`
	ClientIP    string `json:"client_ip,omitempty"`
}

// InitEvent records service startup.
type InitEvent struct {
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	Model     string `json:"model"`
	Port      int    `json:"port"`
}
