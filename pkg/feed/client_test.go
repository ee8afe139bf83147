package feed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/splax/deploywatch/pkg/synthetic"
)

var testUpgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

type testServer struct {
	srv         *httptest.Server
	connections atomic.Int32
	received    chan string
}

// newTestServer runs handle for every accepted connection. A nil handle just
// records what the client sends.
func newTestServer(t *testing.T, handle func(ts *testServer, n int32, conn *websocket.Conn)) *testServer {
	t.Helper()
	ts := &testServer{received: make(chan string, 64)}
	ts.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		n := ts.connections.Add(1)
		if handle != nil {
			handle(ts, n, conn)
			return
		}
		ts.record(conn)
	}))
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *testServer) url() string {
	return "ws" + strings.TrimPrefix(ts.srv.URL, "http")
}

func (ts *testServer) record(conn *websocket.Conn) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		select {
		case ts.received <- string(msg):
		default:
		}
	}
}

func (ts *testServer) expectMessage(t *testing.T) string {
	t.Helper()
	select {
	case msg := <-ts.received:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("expected message from client")
		return ""
	}
}

func newTestClient(t *testing.T, url string, opts ...Option) *Client {
	t.Helper()
	base := []Option{
		WithGenerator(synthetic.New(1)),
		WithPollInterval(20 * time.Millisecond),
		WithReconnectDelay(50 * time.Millisecond),
	}
	c, err := New(url, append(base, opts...)...)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(c.Disconnect)
	return c
}

func waitForEvent(t *testing.T, sub *Subscription, timeout time.Duration, match func(Event) bool) Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				t.Fatal("subscription closed")
			}
			if match(ev) {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out after %s waiting for event", timeout)
			return nil
		}
	}
}

func isKind(kind Kind) func(Event) bool {
	return func(ev Event) bool { return ev.Kind() == kind }
}

func isFallback(ev Event) bool {
	m, ok := ev.(Metrics)
	return ok && m.Source == SourceFallback
}

func unreachableURL(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()
	return url
}

func TestNewValidatesURL(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty url")
	}
	if _, err := New("http://localhost:8080"); err == nil {
		t.Fatal("expected error for non-websocket scheme")
	}
	c, err := New(" ws://localhost:8080 ")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if c.URL() != "ws://localhost:8080" || c.State() != StateDisconnected || c.Mode() != ModeLive {
		t.Fatalf("unexpected initial client %s %s %s", c.URL(), c.State(), c.Mode())
	}
}

func TestConnectPublishesConnected(t *testing.T) {
	ts := newTestServer(t, nil)
	c := newTestClient(t, ts.url())
	sub := c.Subscribe(16)
	defer sub.Close()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitForEvent(t, sub, time.Second, isKind(KindConnected))
	if c.State() != StateConnected {
		t.Fatalf("expected connected, got %s", c.State())
	}
	if c.FallbackActive() {
		t.Fatal("expected no fallback while connected")
	}
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("second connect should be a no-op, got %v", err)
	}

	c.Disconnect()
	ev := waitForEvent(t, sub, time.Second, isKind(KindDisconnected))
	if !ev.(Disconnected).Intentional {
		t.Fatal("expected intentional disconnect")
	}
	if ts.connections.Load() != 1 {
		t.Fatalf("expected a single connection, got %d", ts.connections.Load())
	}
}

func TestConnectFailureStartsFallback(t *testing.T) {
	c := newTestClient(t, unreachableURL(t))
	sub := c.Subscribe(64)
	defer sub.Close()

	err := c.Connect(context.Background())
	if err == nil || errors.Is(err, ErrClosed) {
		t.Fatalf("expected dial error, got %v", err)
	}
	waitForEvent(t, sub, time.Second, isKind(KindError))
	ev := waitForEvent(t, sub, 1500*time.Millisecond, isFallback)
	snap := ev.(Metrics).Snapshot
	if snap.Blue == nil || snap.Green == nil || snap.Blue.CPU == nil {
		t.Fatalf("expected synthetic sample for both environments, got %+v", snap)
	}
	if !c.FallbackActive() {
		t.Fatal("expected fallback to be active")
	}
}

func TestConnectFallbackTimerCoversSlowHandshake(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	c := newTestClient(t, "ws"+strings.TrimPrefix(srv.URL, "http"), WithConnectFallback(30*time.Millisecond))
	sub := c.Subscribe(64)
	defer sub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := c.Connect(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected connect to stop waiting at ctx deadline, got %v", err)
	}
	waitForEvent(t, sub, time.Second, isFallback)
	if c.State() != StateConnecting {
		t.Fatalf("expected attempt still in flight, got %s", c.State())
	}
}

func TestReconnectStopsFallback(t *testing.T) {
	ts := newTestServer(t, func(ts *testServer, n int32, conn *websocket.Conn) {
		if n == 1 {
			return
		}
		ts.record(conn)
	})
	c := newTestClient(t, ts.url())
	sub := c.Subscribe(256)
	defer sub.Close()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitForEvent(t, sub, time.Second, isKind(KindConnected))
	waitForEvent(t, sub, time.Second, isKind(KindDisconnected))
	waitForEvent(t, sub, 1500*time.Millisecond, isFallback)
	waitForEvent(t, sub, 2*time.Second, isKind(KindConnected))

	if c.FallbackActive() {
		t.Fatal("expected fallback to stop after reconnect")
	}
	quiet := time.After(120 * time.Millisecond)
	for {
		select {
		case ev := <-sub.C:
			if isFallback(ev) {
				t.Fatal("received synthetic sample after reconnect")
			}
		case <-quiet:
			if got := ts.connections.Load(); got != 2 {
				t.Fatalf("expected 2 connections, got %d", got)
			}
			return
		}
	}
}

func TestDisconnectPreventsReconnect(t *testing.T) {
	ts := newTestServer(t, nil)
	c := newTestClient(t, ts.url())
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	c.Disconnect()

	sub := c.Subscribe(16)
	defer sub.Close()
	c.Disconnect()

	time.Sleep(200 * time.Millisecond)
	if got := ts.connections.Load(); got != 1 {
		t.Fatalf("expected no reconnect after Disconnect, got %d connections", got)
	}
	if c.State() != StateDisconnected {
		t.Fatalf("expected disconnected, got %s", c.State())
	}
	select {
	case ev := <-sub.C:
		t.Fatalf("expected a repeated Disconnect to publish nothing, got %s", ev.Kind())
	default:
	}
}

func TestDisconnectCancelsPendingReconnect(t *testing.T) {
	c := newTestClient(t, unreachableURL(t))
	_ = c.Connect(context.Background())
	c.Disconnect()

	sub := c.Subscribe(64)
	defer sub.Close()
	time.Sleep(150 * time.Millisecond)
	if c.FallbackActive() {
		t.Fatal("expected fallback stopped")
	}
	if c.State() != StateDisconnected {
		t.Fatalf("expected disconnected, got %s", c.State())
	}
	select {
	case ev := <-sub.C:
		t.Fatalf("expected silence after Disconnect, got %s", ev.Kind())
	default:
	}
}

func TestMalformedFramesAreDropped(t *testing.T) {
	ts := newTestServer(t, func(ts *testServer, _ int32, conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte("not json"))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"nope":1}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"metrics","data":{"blue":{"cpu":12},"green":{"cpu":8}}}`))
		ts.record(conn)
	})
	c := newTestClient(t, ts.url())
	sub := c.Subscribe(16, KindMetrics, KindError, KindDisconnected)
	defer sub.Close()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	ev := waitForEvent(t, sub, time.Second, func(Event) bool { return true })
	m, ok := ev.(Metrics)
	if !ok {
		t.Fatalf("expected metrics to follow dropped frames, got %#v", ev)
	}
	if m.Source != SourceLive || *m.Snapshot.Blue.CPU != 12 || *m.Snapshot.Green.CPU != 8 {
		t.Fatalf("unexpected metrics %+v", m)
	}
}

func TestFramesArePublishedInOrder(t *testing.T) {
	ts := newTestServer(t, func(ts *testServer, _ int32, conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"log_stream","messages":["one","two"]}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"pipeline_status","data":{"pipelineName":"p"}}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"log","data":{"message":"three"}}`))
		ts.record(conn)
	})
	c := newTestClient(t, ts.url())
	sub := c.Subscribe(16, KindLog, KindPipelineStatus)
	defer sub.Close()
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	var got []string
	for len(got) < 4 {
		ev := waitForEvent(t, sub, time.Second, func(Event) bool { return true })
		switch e := ev.(type) {
		case Log:
			got = append(got, e.Entry.Message)
		case Status:
			got = append(got, string(e.Type))
		}
	}
	want := []string{"one", "two", "pipeline_status", "three"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, got)
		}
	}
}

func TestPollingRequestsMetrics(t *testing.T) {
	ts := newTestServer(t, nil)
	c := newTestClient(t, ts.url())
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	c.StartPolling(20 * time.Millisecond)
	defer c.StopPolling()

	for i := 0; i < 2; i++ {
		var msg map[string]any
		if err := json.Unmarshal([]byte(ts.expectMessage(t)), &msg); err != nil {
			t.Fatalf("decode poll: %v", err)
		}
		if msg["command"] != CommandFetchMetrics {
			t.Fatalf("expected fetch_metrics, got %v", msg)
		}
	}
}

func TestPollingAPIGatewaySendsDefaultRoute(t *testing.T) {
	ts := newTestServer(t, nil)
	c := newTestClient(t, ts.url()+"/execute-api/prod")
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	c.StartPolling(0)
	defer c.StopPolling()
	if msg := ts.expectMessage(t); msg != "." {
		t.Fatalf("expected raw '.', got %q", msg)
	}
}

func TestPollingWhileDisconnectedSendsNothing(t *testing.T) {
	ts := newTestServer(t, nil)
	c := newTestClient(t, ts.url())
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	c.Disconnect()

	c.StartPolling(10 * time.Millisecond)
	time.Sleep(80 * time.Millisecond)
	c.StopPolling()

	select {
	case msg := <-ts.received:
		t.Fatalf("expected no poll while disconnected, got %q", msg)
	default:
	}
	if !c.FallbackActive() {
		t.Fatal("expected polling without a transport to start the fallback")
	}
}

func TestSendRequiresConnection(t *testing.T) {
	c := newTestClient(t, "ws://127.0.0.1:1")
	if err := c.FetchMetrics(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if err := c.GetALBHealth(context.Background(), " "); err == nil {
		t.Fatal("expected validation error for empty arn")
	}
	if err := c.Send(context.Background(), "", nil); err == nil {
		t.Fatal("expected validation error for empty command")
	}
}

func TestCommandsAndModeReachServer(t *testing.T) {
	ts := newTestServer(t, nil)
	c := newTestClient(t, ts.url())
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	ctx := context.Background()

	if err := c.SetMode(ctx, ModeMock); err != nil {
		t.Fatalf("set mode: %v", err)
	}
	if msg := ts.expectMessage(t); msg != `{"command":"use_mock_data"}` {
		t.Fatalf("unexpected mode command %s", msg)
	}
	if c.FallbackActive() {
		t.Fatal("expected relay to serve mock data while connected")
	}

	if err := c.GetALBHealth(ctx, "arn:aws:elasticloadbalancing:tg/blue"); err != nil {
		t.Fatalf("alb health: %v", err)
	}
	var msg map[string]string
	if err := json.Unmarshal([]byte(ts.expectMessage(t)), &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg["command"] != CommandGetALBHealth || msg["targetGroupArn"] != "arn:aws:elasticloadbalancing:tg/blue" {
		t.Fatalf("unexpected alb command %v", msg)
	}

	if err := c.SetMode(ctx, Mode("replay")); err == nil {
		t.Fatal("expected unknown mode error")
	}
}

func TestSetModeMockWhileDisconnectedStartsFallback(t *testing.T) {
	c := newTestClient(t, "ws://127.0.0.1:1")
	sub := c.Subscribe(8)
	defer sub.Close()

	if err := c.SetMode(context.Background(), ModeMock); err != nil {
		t.Fatalf("set mode: %v", err)
	}
	waitForEvent(t, sub, time.Second, isFallback)
	c.Disconnect()
	if c.FallbackActive() {
		t.Fatal("expected Disconnect to stop the fallback")
	}
}

func TestStateString(t *testing.T) {
	cases := map[State]string{
		StateDisconnected: "disconnected",
		StateConnecting:   "connecting",
		StateConnected:    "connected",
		State(9):          "state(9)",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Fatalf("expected %q, got %q", want, got)
		}
	}
}
