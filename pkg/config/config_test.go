package config

import (
	"testing"
	"time"
)

func TestGetDurationAcceptsSecondsAndDurationStrings(t *testing.T) {
	t.Setenv("TEST_DURATION_SECONDS", "30")
	if got := GetDuration("TEST_DURATION_SECONDS", time.Second); got != 30*time.Second {
		t.Fatalf("expected 30s, got %v", got)
	}
	t.Setenv("TEST_DURATION_STRING", "1m30s")
	if got := GetDuration("TEST_DURATION_STRING", time.Second); got != 90*time.Second {
		t.Fatalf("expected 1m30s, got %v", got)
	}
	t.Setenv("TEST_DURATION_BAD", "soon")
	if got := GetDuration("TEST_DURATION_BAD", 7*time.Second); got != 7*time.Second {
		t.Fatalf("expected fallback for invalid duration, got %v", got)
	}
}

func TestGetMillisFallsBackOnInvalidValues(t *testing.T) {
	t.Setenv("TEST_MILLIS", "1500")
	if got := GetMillis("TEST_MILLIS", time.Second); got != 1500*time.Millisecond {
		t.Fatalf("expected 1.5s, got %v", got)
	}
	t.Setenv("TEST_MILLIS", "-5")
	if got := GetMillis("TEST_MILLIS", time.Second); got != time.Second {
		t.Fatalf("expected fallback for negative millis, got %v", got)
	}
	if got := GetMillis("TEST_MILLIS_UNSET", 2*time.Second); got != 2*time.Second {
		t.Fatalf("expected fallback when unset, got %v", got)
	}
}

func TestLoadWatchConfigDefaults(t *testing.T) {
	cfg := LoadWatchConfig()
	if cfg.URL != "ws://localhost:8080" {
		t.Fatalf("unexpected default url %q", cfg.URL)
	}
	if cfg.PollInterval != 5*time.Second {
		t.Fatalf("expected 5s poll interval, got %v", cfg.PollInterval)
	}
	if cfg.ConnectFallback != 1500*time.Millisecond {
		t.Fatalf("expected 1.5s connect fallback, got %v", cfg.ConnectFallback)
	}
	if cfg.ReconnectDelay != 3*time.Second {
		t.Fatalf("expected 3s reconnect delay, got %v", cfg.ReconnectDelay)
	}
}

func TestLoadRelayConfigOverrides(t *testing.T) {
	t.Setenv("AWS_REGION", "us-east-1")
	t.Setenv("MONITOR_METRICS_SECONDS", "4")
	t.Setenv("RELAY_START_IN_MOCK", "true")
	t.Setenv("REDIS_DB", "not-a-number")

	cfg := LoadRelayConfig()
	if cfg.AWSRegion != "us-east-1" {
		t.Fatalf("expected region override, got %q", cfg.AWSRegion)
	}
	if cfg.MetricsEvery != 4*time.Second {
		t.Fatalf("expected 4s metrics interval, got %v", cfg.MetricsEvery)
	}
	if !cfg.StartInMock {
		t.Fatal("expected mock start to be enabled")
	}
	if cfg.RedisDB != 0 {
		t.Fatalf("expected invalid redis db to fall back to 0, got %d", cfg.RedisDB)
	}
	if cfg.XRayEvery != 10*time.Second {
		t.Fatalf("expected default 10s xray interval, got %v", cfg.XRayEvery)
	}
}
