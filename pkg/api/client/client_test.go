package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewNormalizesBaseURL(t *testing.T) {
	cases := map[string]string{
		"":                          "http://localhost:8080",
		"relay:8080/":               "http://relay:8080",
		"ws://localhost:8080":       "http://localhost:8080",
		"wss://relay.example.com/":  "https://relay.example.com",
		"https://relay.example.com": "https://relay.example.com",
	}
	for in, want := range cases {
		c, err := New(in)
		if err != nil {
			t.Fatalf("new %q: %v", in, err)
		}
		if c.BaseURL() != want {
			t.Fatalf("expected %q for %q, got %q", want, in, c.BaseURL())
		}
	}
}

func TestStartDeployment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/deployment/start" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("unexpected content type %q", ct)
		}
		var metadata map[string]any
		if err := json.NewDecoder(r.Body).Decode(&metadata); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"sessionId": "abc",
			"status":    "started",
			"startedAt": "2024-03-01T12:00:00Z",
			"metadata":  metadata,
		})
	}))
	defer srv.Close()

	c, err := New(srv.URL)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	dep, err := c.StartDeployment(context.Background(), map[string]any{"version": "v2"})
	if err != nil {
		t.Fatalf("start deployment: %v", err)
	}
	if dep.SessionID != "abc" || dep.Status != "started" || dep.Metadata["version"] != "v2" {
		t.Fatalf("unexpected deployment %+v", dep)
	}
}

func TestErrorMessageFallbacks(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{name: "message wins", body: `{"message":"bad metadata","error":"other"}`, want: "bad metadata"},
		{name: "error used", body: `{"error":"rate limit exceeded"}`, want: "rate limit exceeded"},
		{name: "no json", body: `oops`, want: "Request failed with status 429"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			c, _ := New(srv.URL)
			_, err := c.StartDeployment(context.Background(), nil)
			var apiErr APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected APIError, got %v", err)
			}
			if apiErr.Status != http.StatusTooManyRequests || apiErr.Error() != tc.want {
				t.Fatalf("expected %q, got %d %q", tc.want, apiErr.Status, apiErr.Error())
			}
		})
	}
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/healthz" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"status":"ok","source":"mock","clients":2,"components":{"redis":"ok"}}`))
	}))
	defer srv.Close()

	c, _ := New(srv.URL)
	h, err := c.Health(context.Background())
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if h.Status != "ok" || h.Source != "mock" || h.Clients != 2 || h.Components["redis"] != "ok" {
		t.Fatalf("unexpected health %+v", h)
	}
}
