package config

import "time"

// WatchConfig configures the telemetry feed client used by the deploywatch CLI.
type WatchConfig struct {
	URL             string
	APIBaseURL      string
	PollInterval    time.Duration
	ConnectFallback time.Duration
	ReconnectDelay  time.Duration
	LogLevel        string
}

// LoadWatchConfig constructs a WatchConfig from environment variables.
func LoadWatchConfig() WatchConfig {
	return WatchConfig{
		URL:             GetString("WS_URL", "ws://localhost:8080"),
		APIBaseURL:      GetString("API_BASE_URL", "http://localhost:8080"),
		PollInterval:    GetMillis("POLL_INTERVAL_MS", 5*time.Second),
		ConnectFallback: GetMillis("CONNECT_FALLBACK_MS", 1500*time.Millisecond),
		ReconnectDelay:  GetMillis("RECONNECT_DELAY_MS", 3*time.Second),
		LogLevel:        GetString("LOG_LEVEL", "warn"),
	}
}
