package push

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ashgrove/lumen-core/internal/bridge"
	"github.com/ashgrove/lumen-core/internal/infrastructure/config"
	"github.com/ashgrove/lumen-core/internal/infrastructure/logging"
	"github.com/ashgrove/lumen-core/internal/session"
)

// testConfig runs the service at millisecond cadence so tests finish fast.
func testConfig() Config {
	return Config{
		AuthTimeout:    200 * time.Millisecond,
		PingInterval:   50 * time.Millisecond,
		PongTimeout:    100 * time.Millisecond,
		PollInterval:   25 * time.Millisecond,
		FetchTimeout:   250 * time.Millisecond,
		MaxMessageSize: 8192,
		SendBufferSize: 16,
	}
}

// fakeSource is a controllable SnapshotSource.
type fakeSource struct {
	mu    sync.Mutex
	snap  *bridge.Snapshot
	err   error
	delay time.Duration

	calls atomic.Int32
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		snap: &bridge.Snapshot{
			Lights: map[string]bridge.Light{
				"1": {ID: "1", Name: "Lamp", On: true, Brightness: 200, Reachable: true},
			},
			MotionZones: map[string]bridge.MotionZone{
				"10": {ID: "10", Name: "Hall", Presence: false, Reachable: true},
			},
			FetchedAt: time.Now(),
		},
	}
}

func (f *fakeSource) GetSnapshot(ctx context.Context, _, _ string) (*bridge.Snapshot, error) {
	f.calls.Add(1)

	f.mu.Lock()
	delay := f.delay
	f.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.snap.Clone(), nil
}

func (f *fakeSource) setLight(l bridge.Light) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snap = f.snap.Clone()
	f.snap.Lights[l.ID] = l
	f.snap.FetchedAt = time.Now()
}

func (f *fakeSource) setZone(z bridge.MotionZone) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snap = f.snap.Clone()
	f.snap.MotionZones[z.ID] = z
	f.snap.FetchedAt = time.Now()
}

func (f *fakeSource) removeLight(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snap = f.snap.Clone()
	delete(f.snap.Lights, id)
	f.snap.FetchedAt = time.Now()
}

func (f *fakeSource) setError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeSource) setDelay(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delay = d
}

// fakeValidator accepts a single known token.
type fakeValidator struct {
	token string
	sess  *session.Session
}

func (f *fakeValidator) Validate(token string) (*session.Session, error) {
	if token != f.token {
		return nil, session.ErrNotFound
	}
	cpy := *f.sess
	return &cpy, nil
}

func testLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Level: "error", Format: "text"}, "test")
}

// newTestService starts a service and an HTTP server exposing its socket
// endpoint, and returns the ws:// URL to dial.
func newTestService(t *testing.T, deps Deps) (*Service, string) {
	t.Helper()

	if deps.Config == (Config{}) {
		deps.Config = testConfig()
	}
	if deps.Logger == nil {
		deps.Logger = testLogger()
	}

	svc, err := New(deps)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	svc.Start(context.Background())
	t.Cleanup(svc.Close)

	srv := httptest.NewServer(http.HandlerFunc(svc.HandleSocket))
	t.Cleanup(srv.Close)

	return svc, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dialing %s: %v", url, err)
	}
	t.Cleanup(func() { ws.Close() }) //nolint:errcheck // test cleanup
	return ws
}

func sendJSON(t *testing.T, ws *websocket.Conn, v any) {
	t.Helper()
	if err := ws.WriteJSON(v); err != nil {
		t.Fatalf("writing message: %v", err)
	}
}

// readMessage reads one message and returns its decoded form plus the
// raw "type" field.
func readMessage(t *testing.T, ws *websocket.Conn, timeout time.Duration) (string, map[string]json.RawMessage) {
	t.Helper()
	if err := ws.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		t.Fatalf("setting read deadline: %v", err)
	}
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("reading message: %v", err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatalf("decoding message %q: %v", data, err)
	}
	var msgType string
	if err := json.Unmarshal(fields["type"], &msgType); err != nil {
		t.Fatalf("decoding message type: %v", err)
	}
	return msgType, fields
}

// expectErrorMessage reads one message and asserts it is an error with
// the given code.
func expectErrorMessage(t *testing.T, ws *websocket.Conn, wantCode string) {
	t.Helper()
	msgType, fields := readMessage(t, ws, time.Second)
	if msgType != MsgTypeError {
		t.Fatalf("message type = %q, want %q", msgType, MsgTypeError)
	}
	var code string
	if err := json.Unmarshal(fields["code"], &code); err != nil {
		t.Fatalf("decoding error code: %v", err)
	}
	if code != wantCode {
		t.Errorf("error code = %q, want %q", code, wantCode)
	}
}

// authDemo authenticates a fresh socket in demo mode and consumes the
// initial state message.
func authDemo(t *testing.T, ws *websocket.Conn) map[string]json.RawMessage {
	t.Helper()
	sendJSON(t, ws, map[string]any{"type": "auth", "demo_mode": true})
	msgType, fields := readMessage(t, ws, time.Second)
	if msgType != MsgTypeInitialState {
		t.Fatalf("first message type = %q, want %q", msgType, MsgTypeInitialState)
	}
	return fields
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, desc string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", desc)
}

func TestSocketAuthTimeout(t *testing.T) {
	_, url := newTestService(t, Deps{DemoSource: bridge.NewDemoSource()})

	ws := dial(t, url)
	// Send nothing; the server must give up after AuthTimeout.
	expectErrorMessage(t, ws, errCodeAuthTimeout)
}

func TestSocketAuthRejectsInvalidToken(t *testing.T) {
	source := newFakeSource()
	_, url := newTestService(t, Deps{
		Sessions: &fakeValidator{token: "good", sess: &session.Session{Token: "good"}},
		Source:   source,
	})

	ws := dial(t, url)
	sendJSON(t, ws, map[string]any{"type": "auth", "session_token": "bad"})
	expectErrorMessage(t, ws, errCodeAuthFailed)
}

func TestSocketAuthRejectsNonAuthFirstMessage(t *testing.T) {
	_, url := newTestService(t, Deps{DemoSource: bridge.NewDemoSource()})

	ws := dial(t, url)
	sendJSON(t, ws, map[string]any{"type": "hello"})
	expectErrorMessage(t, ws, errCodeAuthFailed)
}

func TestSocketAuthRejectsTokenPlusDemo(t *testing.T) {
	source := newFakeSource()
	_, url := newTestService(t, Deps{
		Sessions:   &fakeValidator{token: "good", sess: &session.Session{Token: "good"}},
		Source:     source,
		DemoSource: bridge.NewDemoSource(),
	})

	ws := dial(t, url)
	sendJSON(t, ws, map[string]any{"type": "auth", "session_token": "good", "demo_mode": true})
	expectErrorMessage(t, ws, errCodeAuthFailed)
}

func TestSocketAuthRejectsDemoWhenDisabled(t *testing.T) {
	_, url := newTestService(t, Deps{
		Sessions: &fakeValidator{token: "good", sess: &session.Session{Token: "good"}},
		Source:   newFakeSource(),
	})

	ws := dial(t, url)
	sendJSON(t, ws, map[string]any{"type": "auth", "demo_mode": true})
	expectErrorMessage(t, ws, errCodeAuthFailed)
}

func TestSocketDemoInitialState(t *testing.T) {
	_, url := newTestService(t, Deps{DemoSource: bridge.NewDemoSource()})

	ws := dial(t, url)
	fields := authDemo(t, ws)

	var lights []bridge.Light
	if err := json.Unmarshal(fields["lights"], &lights); err != nil {
		t.Fatalf("decoding lights: %v", err)
	}
	if len(lights) != 5 {
		t.Errorf("initial state lights = %d, want 5", len(lights))
	}
	// Sorted by ID.
	for i := 1; i < len(lights); i++ {
		if lights[i-1].ID >= lights[i].ID {
			t.Errorf("lights not sorted: %q before %q", lights[i-1].ID, lights[i].ID)
		}
	}

	var zones []bridge.MotionZone
	if err := json.Unmarshal(fields["motion_zones"], &zones); err != nil {
		t.Fatalf("decoding motion_zones: %v", err)
	}
	if len(zones) != 2 {
		t.Errorf("initial state motion zones = %d, want 2", len(zones))
	}
}

func TestSocketTokenAuthDeliversInitialState(t *testing.T) {
	source := newFakeSource()
	_, url := newTestService(t, Deps{
		Sessions: &fakeValidator{token: "tok", sess: &session.Session{
			Token: "tok", BridgeAddress: "192.168.1.10", Credential: "cred",
		}},
		Source: source,
	})

	ws := dial(t, url)
	sendJSON(t, ws, map[string]any{"type": "auth", "session_token": "tok"})

	msgType, fields := readMessage(t, ws, time.Second)
	if msgType != MsgTypeInitialState {
		t.Fatalf("first message type = %q, want %q", msgType, MsgTypeInitialState)
	}
	var lights []bridge.Light
	if err := json.Unmarshal(fields["lights"], &lights); err != nil {
		t.Fatalf("decoding lights: %v", err)
	}
	if len(lights) != 1 || lights[0].ID != "1" {
		t.Errorf("lights = %+v, want single light 1", lights)
	}
}

func TestSocketInitialFetchUpstreamError(t *testing.T) {
	source := newFakeSource()
	source.setError(bridge.ErrUnreachable)
	_, url := newTestService(t, Deps{
		Sessions: &fakeValidator{token: "tok", sess: &session.Session{Token: "tok"}},
		Source:   source,
	})

	ws := dial(t, url)
	sendJSON(t, ws, map[string]any{"type": "auth", "session_token": "tok"})
	expectErrorMessage(t, ws, errCodeUpstreamError)
}

func TestSocketInitialFetchAuthRejected(t *testing.T) {
	source := newFakeSource()
	source.setError(bridge.ErrAuthRejected)
	_, url := newTestService(t, Deps{
		Sessions: &fakeValidator{token: "tok", sess: &session.Session{Token: "tok"}},
		Source:   source,
	})

	ws := dial(t, url)
	sendJSON(t, ws, map[string]any{"type": "auth", "session_token": "tok"})
	expectErrorMessage(t, ws, errCodeAuthFailed)
}

func TestSocketPushesDeltaOnChange(t *testing.T) {
	source := newFakeSource()
	_, url := newTestService(t, Deps{
		Sessions: &fakeValidator{token: "tok", sess: &session.Session{Token: "tok"}},
		Source:   source,
	})

	ws := dial(t, url)
	sendJSON(t, ws, map[string]any{"type": "auth", "session_token": "tok"})
	if msgType, _ := readMessage(t, ws, time.Second); msgType != MsgTypeInitialState {
		t.Fatalf("expected initial state, got %q", msgType)
	}

	source.setLight(bridge.Light{ID: "1", Name: "Lamp", On: false, Brightness: 200, Reachable: true})

	msgType, fields := readMessage(t, ws, 2*time.Second)
	if msgType != MsgTypeLightUpdate {
		t.Fatalf("message type = %q, want %q", msgType, MsgTypeLightUpdate)
	}
	var changed []bridge.LightChange
	if err := json.Unmarshal(fields["changed"], &changed); err != nil {
		t.Fatalf("decoding changed: %v", err)
	}
	if len(changed) != 1 || changed[0].ID != "1" || changed[0].On || changed[0].Removed {
		t.Errorf("changed = %+v, want full light 1 turned off", changed)
	}
	// Full entity, not a patch.
	if changed[0].Brightness != 200 || changed[0].Name != "Lamp" {
		t.Errorf("changed entry missing unchanged fields: %+v", changed[0])
	}
}

func TestSocketPushesRemoval(t *testing.T) {
	source := newFakeSource()
	_, url := newTestService(t, Deps{
		Sessions: &fakeValidator{token: "tok", sess: &session.Session{Token: "tok"}},
		Source:   source,
	})

	ws := dial(t, url)
	sendJSON(t, ws, map[string]any{"type": "auth", "session_token": "tok"})
	if msgType, _ := readMessage(t, ws, time.Second); msgType != MsgTypeInitialState {
		t.Fatal("expected initial state")
	}

	source.removeLight("1")

	msgType, fields := readMessage(t, ws, 2*time.Second)
	if msgType != MsgTypeLightUpdate {
		t.Fatalf("message type = %q, want %q", msgType, MsgTypeLightUpdate)
	}
	var changed []bridge.LightChange
	if err := json.Unmarshal(fields["changed"], &changed); err != nil {
		t.Fatalf("decoding changed: %v", err)
	}
	if len(changed) != 1 || changed[0].ID != "1" || !changed[0].Removed {
		t.Errorf("changed = %+v, want removal marker for light 1", changed)
	}
}

func TestSocketLightUpdateBeforeMotionUpdate(t *testing.T) {
	source := newFakeSource()
	_, url := newTestService(t, Deps{
		Sessions: &fakeValidator{token: "tok", sess: &session.Session{Token: "tok"}},
		Source:   source,
	})

	ws := dial(t, url)
	sendJSON(t, ws, map[string]any{"type": "auth", "session_token": "tok"})
	if msgType, _ := readMessage(t, ws, time.Second); msgType != MsgTypeInitialState {
		t.Fatal("expected initial state")
	}

	// Change both halves in one snapshot swap.
	source.mu.Lock()
	snap := source.snap.Clone()
	l := snap.Lights["1"]
	l.On = false
	snap.Lights["1"] = l
	z := snap.MotionZones["10"]
	z.Presence = true
	snap.MotionZones["10"] = z
	source.snap = snap
	source.mu.Unlock()

	first, _ := readMessage(t, ws, 2*time.Second)
	second, _ := readMessage(t, ws, 2*time.Second)
	if first != MsgTypeLightUpdate || second != MsgTypeMotionUpdate {
		t.Errorf("message order = %q, %q; want light_update then motion_update", first, second)
	}
}

func TestSocketDeltasArriveInPollOrder(t *testing.T) {
	source := newFakeSource()
	_, url := newTestService(t, Deps{
		Sessions: &fakeValidator{token: "tok", sess: &session.Session{Token: "tok"}},
		Source:   source,
	})

	ws := dial(t, url)
	sendJSON(t, ws, map[string]any{"type": "auth", "session_token": "tok"})
	if msgType, _ := readMessage(t, ws, time.Second); msgType != MsgTypeInitialState {
		t.Fatal("expected initial state")
	}

	// Three sequential changes, each confirmed delivered before the next
	// is applied; the brightness values must arrive in change order.
	for i, brightness := range []int{10, 20, 30} {
		source.setLight(bridge.Light{ID: "1", Name: "Lamp", On: true, Brightness: brightness, Reachable: true})

		msgType, fields := readMessage(t, ws, 2*time.Second)
		if msgType != MsgTypeLightUpdate {
			t.Fatalf("delta %d type = %q, want %q", i+1, msgType, MsgTypeLightUpdate)
		}
		var changed []bridge.LightChange
		if err := json.Unmarshal(fields["changed"], &changed); err != nil {
			t.Fatalf("decoding delta %d: %v", i+1, err)
		}
		if len(changed) != 1 || changed[0].Brightness != brightness {
			t.Fatalf("delta %d = %+v, want light 1 at brightness %d", i+1, changed, brightness)
		}
	}
}

func TestSocketNoTrafficWhenUnchanged(t *testing.T) {
	source := newFakeSource()
	_, url := newTestService(t, Deps{
		Sessions: &fakeValidator{token: "tok", sess: &session.Session{Token: "tok"}},
		Source:   source,
	})

	ws := dial(t, url)
	sendJSON(t, ws, map[string]any{"type": "auth", "session_token": "tok"})
	if msgType, _ := readMessage(t, ws, time.Second); msgType != MsgTypeInitialState {
		t.Fatal("expected initial state")
	}

	// Many poll cycles pass with an identical snapshot; nothing may arrive.
	if err := ws.SetReadDeadline(time.Now().Add(200 * time.Millisecond)); err != nil {
		t.Fatalf("setting read deadline: %v", err)
	}
	if _, data, err := ws.ReadMessage(); err == nil {
		t.Errorf("unexpected message during idle polls: %s", data)
	}
}

func TestSocketOverlappingFetchesSkipTicks(t *testing.T) {
	source := newFakeSource()
	// Each fetch takes several poll intervals.
	source.setDelay(100 * time.Millisecond)
	svc, url := newTestService(t, Deps{
		Sessions: &fakeValidator{token: "tok", sess: &session.Session{Token: "tok"}},
		Source:   source,
	})

	ws := dial(t, url)
	sendJSON(t, ws, map[string]any{"type": "auth", "session_token": "tok"})
	if msgType, _ := readMessage(t, ws, 2*time.Second); msgType != MsgTypeInitialState {
		t.Fatal("expected initial state")
	}

	source.calls.Store(0)
	time.Sleep(400 * time.Millisecond)
	svc.Close()

	// 16 ticks elapsed but each fetch spans 4 of them; overlap is
	// forbidden, so far fewer fetches than ticks may have started.
	if got := source.calls.Load(); got > 6 {
		t.Errorf("fetches started = %d, want at most 6 with overlap guard", got)
	}
}

func TestSocketHeartbeatReapsDeadClient(t *testing.T) {
	svc, url := newTestService(t, Deps{DemoSource: bridge.NewDemoSource()})

	ws := dial(t, url)
	authDemo(t, ws)
	waitFor(t, time.Second, func() bool { return svc.Count() == 1 }, "connection registered")

	// A client that never reads cannot answer pings; the server's read
	// deadline (PingInterval+PongTimeout) expires and the conn is reaped.
	waitFor(t, 3*time.Second, func() bool { return svc.Count() == 0 }, "dead client reaped")
}

func TestSocketClientCloseUnregisters(t *testing.T) {
	svc, url := newTestService(t, Deps{DemoSource: bridge.NewDemoSource()})

	ws := dial(t, url)
	authDemo(t, ws)
	waitFor(t, time.Second, func() bool { return svc.Count() == 1 }, "connection registered")

	ws.Close() //nolint:errcheck // deliberate client-side close

	waitFor(t, 2*time.Second, func() bool { return svc.Count() == 0 }, "connection unregistered")
}

func TestServiceCloseTearsDownConnections(t *testing.T) {
	svc, url := newTestService(t, Deps{DemoSource: bridge.NewDemoSource()})

	ws := dial(t, url)
	authDemo(t, ws)
	waitFor(t, time.Second, func() bool { return svc.Count() == 1 }, "connection registered")

	svc.Close()

	waitFor(t, 2*time.Second, func() bool { return svc.Count() == 0 }, "connections torn down")

	// The client side observes the close.
	if err := ws.SetReadDeadline(time.Now().Add(time.Second)); err != nil {
		t.Fatalf("setting read deadline: %v", err)
	}
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			break
		}
	}
}

// stubbornSource delays every fetch without honouring cancellation, like
// an upstream HTTP call that only ends on its own socket timeout.
type stubbornSource struct {
	inner *fakeSource
	delay time.Duration
}

func (s *stubbornSource) GetSnapshot(_ context.Context, addr, cred string) (*bridge.Snapshot, error) {
	time.Sleep(s.delay)
	return s.inner.GetSnapshot(context.Background(), addr, cred)
}

func TestServiceCloseDuringInitialFetch(t *testing.T) {
	source := &stubbornSource{inner: newFakeSource(), delay: 150 * time.Millisecond}
	svc, url := newTestService(t, Deps{DemoSource: source})

	ws := dial(t, url)
	sendJSON(t, ws, map[string]any{"type": "auth", "demo_mode": true})

	// Keep the client responsive so heartbeat reaping cannot mask a
	// stranded connection.
	go func() {
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// Shut down while the initial fetch is still in flight. The fetch
	// completes after Close has swept the registry; the connection must
	// still be torn down, not registered and left running.
	time.Sleep(50 * time.Millisecond)
	svc.Close()

	waitFor(t, 2*time.Second, func() bool { return svc.Count() == 0 }, "late-registering connection torn down")
}

func TestServiceRefusesConnectionsBeforeStart(t *testing.T) {
	svc, err := New(Deps{
		Config:     testConfig(),
		Logger:     testLogger(),
		DemoSource: bridge.NewDemoSource(),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(svc.HandleSocket))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	defer resp.Body.Close() //nolint:errcheck // test cleanup
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusServiceUnavailable)
	}
}

func TestServiceStats(t *testing.T) {
	svc, url := newTestService(t, Deps{DemoSource: bridge.NewDemoSource()})

	ws := dial(t, url)
	authDemo(t, ws)
	waitFor(t, time.Second, func() bool { return svc.Count() == 1 }, "connection registered")

	stats := svc.Stats()
	if len(stats) != 1 {
		t.Fatalf("len(Stats()) = %d, want 1", len(stats))
	}
	if !stats[0].Demo {
		t.Error("Stats()[0].Demo = false, want true")
	}
	if stats[0].ID == "" {
		t.Error("Stats()[0].ID is empty")
	}
	if stats[0].ConnectedAt.IsZero() {
		t.Error("Stats()[0].ConnectedAt is zero")
	}
}

func TestNewRequiresASource(t *testing.T) {
	if _, err := New(Deps{Config: testConfig(), Logger: testLogger()}); err == nil {
		t.Error("New() without sources should fail")
	}
}
