package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/eduplatform/chatcore/internal/model"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

// wsHandler upgrades after delay and hands the socket to handle.
func wsHandler(delay time.Duration, handle func(conn *websocket.Conn)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if delay > 0 {
			time.Sleep(delay)
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handle(conn)
	}
}

func newServer(t *testing.T, h http.Handler) string {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func keepOpen(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func refusedURL(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return "ws://" + addr + "/ws"
}

// hangingURL accepts TCP connections and never answers the handshake.
func hangingURL(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	var mu sync.Mutex
	var conns []net.Conn
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, c)
			mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		ln.Close()
		mu.Lock()
		for _, c := range conns {
			c.Close()
		}
		mu.Unlock()
	})
	return "ws://" + ln.Addr().String() + "/ws"
}

type spyDialer struct {
	inner Dialer
	calls atomic.Int32
}

func newSpyDialer() *spyDialer {
	return &spyDialer{inner: NewGorillaDialer()}
}

func (d *spyDialer) DialContext(ctx context.Context, url string) (Conn, error) {
	d.calls.Add(1)
	return d.inner.DialContext(ctx, url)
}

type spyFallback struct {
	mu     sync.Mutex
	starts []int64
	creds  []string
	stops  int
	sends  []any
}

func (f *spyFallback) Start(groupID int64, credential string) {
	f.mu.Lock()
	f.starts = append(f.starts, groupID)
	f.creds = append(f.creds, credential)
	f.mu.Unlock()
}

func (f *spyFallback) Stop() {
	f.mu.Lock()
	f.stops++
	f.mu.Unlock()
}

func (f *spyFallback) Send(_ context.Context, _ string, payload any) error {
	f.mu.Lock()
	f.sends = append(f.sends, payload)
	f.mu.Unlock()
	return nil
}

type stateLog struct {
	mu     sync.Mutex
	states []model.ConnectionState
	errs   []error
}

func (l *stateLog) record(state model.ConnectionState, err error) {
	l.mu.Lock()
	l.states = append(l.states, state)
	l.errs = append(l.errs, err)
	l.mu.Unlock()
}

func (l *stateLog) seen(state model.ConnectionState, target error) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, s := range l.states {
		if s == state && (target == nil || errors.Is(l.errs[i], target)) {
			return true
		}
	}
	return false
}

func testOptions(d Dialer, candidates ...string) Options {
	return Options{
		Candidates:           CandidateList(candidates),
		EstablishTimeout:     500 * time.Millisecond,
		SettleDelay:          10 * time.Millisecond,
		ReconnectDelay:       20 * time.Millisecond,
		MaxReconnectAttempts: 3,
		Dialer:               d,
	}
}

func newTestManager(t *testing.T, opts Options) *Manager {
	t.Helper()
	m := NewManager(opts)
	t.Cleanup(func() {
		m.Disconnect()
		m.Wait()
	})
	return m
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestConnectCoalescesConcurrentCalls(t *testing.T) {
	url := newServer(t, wsHandler(200*time.Millisecond, keepOpen))
	dialer := newSpyDialer()
	m := newTestManager(t, testOptions(dialer, url))

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = m.Connect(context.Background(), 5, "tok")
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("connect %d: %v", i, err)
		}
	}
	if n := dialer.calls.Load(); n != 1 {
		t.Fatalf("dials = %d, want 1", n)
	}
	if !m.IsOpen() || m.GetStatus() != model.StateConnected {
		t.Fatalf("open=%v state=%q", m.IsOpen(), m.GetStatus())
	}

	// already connected: no new dial
	if err := m.Connect(context.Background(), 5, "tok"); err != nil {
		t.Fatalf("connect again: %v", err)
	}
	if n := dialer.calls.Load(); n != 1 {
		t.Fatalf("dials after reconnect call = %d, want 1", n)
	}
}

func TestConnectSkipsUnreachableCandidates(t *testing.T) {
	notFound := newServer(t, http.NotFoundHandler())
	good := newServer(t, wsHandler(0, keepOpen))
	dialer := newSpyDialer()
	m := newTestManager(t, testOptions(dialer, refusedURL(t), notFound, good))

	if err := m.Connect(context.Background(), 5, "tok"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if !strings.HasPrefix(m.ActiveURL(), good) {
		t.Fatalf("active url = %q, want prefix %q", m.ActiveURL(), good)
	}
	if n := dialer.calls.Load(); n != 3 {
		t.Fatalf("dials = %d, want 3", n)
	}
	if m.FallbackActive() {
		t.Fatal("fallback active with an open socket")
	}
}

func TestConnectFallsBackWhenNothingReachable(t *testing.T) {
	fb := &spyFallback{}
	opts := testOptions(newSpyDialer(), refusedURL(t), newServer(t, http.NotFoundHandler()))
	opts.Fallback = fb
	states := &stateLog{}
	m := newTestManager(t, opts)
	m.SetStateHandler(states.record)

	if err := m.Connect(context.Background(), 5, "tok"); err != nil {
		t.Fatalf("connect should resolve in fallback, got %v", err)
	}
	if !m.FallbackActive() || m.IsOpen() {
		t.Fatalf("fallback=%v open=%v", m.FallbackActive(), m.IsOpen())
	}
	if m.GetStatus() != model.StateDisconnected {
		t.Fatalf("state = %q", m.GetStatus())
	}
	if !states.seen(model.StateDisconnected, ErrFallbackActive) {
		t.Fatal("fallback switch not reported")
	}

	msg := model.OutgoingMessage{GroupID: 5, Text: "hi"}
	if err := m.Send(context.Background(), msg); err != nil {
		t.Fatalf("send: %v", err)
	}
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if len(fb.starts) != 1 || fb.starts[0] != 5 || fb.creds[0] != "tok" {
		t.Fatalf("fallback starts = %v creds = %v", fb.starts, fb.creds)
	}
	if len(fb.sends) != 1 || fb.sends[0] != any(msg) {
		t.Fatalf("fallback sends = %v", fb.sends)
	}
}

func TestSendWithoutTransport(t *testing.T) {
	m := newTestManager(t, testOptions(newSpyDialer()))
	err := m.Send(context.Background(), model.OutgoingMessage{GroupID: 1, Text: "x"})
	if !errors.Is(err, ErrTransportUnavailable) {
		t.Fatalf("err = %v, want ErrTransportUnavailable", err)
	}
	var tu *TransportUnavailableError
	if !errors.As(err, &tu) || tu.State != model.StateDisconnected {
		t.Fatalf("err = %#v", err)
	}
}

func TestDisconnectCancelsPendingConnect(t *testing.T) {
	dialer := newSpyDialer()
	opts := testOptions(dialer, hangingURL(t), hangingURL(t))
	opts.EstablishTimeout = 300 * time.Millisecond
	opts.Fallback = &spyFallback{}
	m := newTestManager(t, opts)

	done := make(chan error, 1)
	go func() { done <- m.Connect(context.Background(), 5, "tok") }()
	waitFor(t, "first dial", func() bool { return dialer.calls.Load() == 1 })

	m.Disconnect()
	select {
	case err := <-done:
		if !errors.Is(err, ErrConnectCancelled) {
			t.Fatalf("err = %v, want ErrConnectCancelled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("pending connect left dangling after disconnect")
	}

	time.Sleep(2 * opts.EstablishTimeout)
	if n := dialer.calls.Load(); n != 1 {
		t.Fatalf("dials after disconnect = %d, want 1", n)
	}
	if m.FallbackActive() || m.GetStatus() != model.StateDisconnected {
		t.Fatalf("fallback=%v state=%q", m.FallbackActive(), m.GetStatus())
	}
}

func TestUnexpectedCloseReconnects(t *testing.T) {
	var conns atomic.Int32
	url := newServer(t, wsHandler(0, func(conn *websocket.Conn) {
		if conns.Add(1) == 1 {
			conn.UnderlyingConn().Close()
			return
		}
		keepOpen(conn)
	}))
	dialer := newSpyDialer()
	states := &stateLog{}
	m := newTestManager(t, testOptions(dialer, url))
	m.SetStateHandler(states.record)

	if err := m.Connect(context.Background(), 5, "tok"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitFor(t, "reconnect", func() bool { return dialer.calls.Load() == 2 && m.IsOpen() })
	if m.ReconnectAttempts() != 0 {
		t.Fatalf("attempt counter not reset: %d", m.ReconnectAttempts())
	}
	if !states.seen(model.StateConnecting, nil) || m.GetStatus() != model.StateConnected {
		t.Fatalf("states = %v", states.states)
	}
}

func TestNormalServerCloseDoesNotReconnect(t *testing.T) {
	url := newServer(t, wsHandler(0, func(conn *websocket.Conn) {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		keepOpen(conn)
	}))
	dialer := newSpyDialer()
	m := newTestManager(t, testOptions(dialer, url))

	if err := m.Connect(context.Background(), 5, "tok"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitFor(t, "closed state", func() bool { return m.GetStatus() == model.StateClosed })
	time.Sleep(100 * time.Millisecond)
	if n := dialer.calls.Load(); n != 1 {
		t.Fatalf("dials = %d, want 1", n)
	}
}

func TestReconnectBudgetExhausted(t *testing.T) {
	var served atomic.Int32
	url := newServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if served.Add(1) > 1 {
			http.Error(w, "down", http.StatusServiceUnavailable)
			return
		}
		wsHandler(0, func(conn *websocket.Conn) { conn.UnderlyingConn().Close() })(w, r)
	}))
	dialer := newSpyDialer()
	fb := &spyFallback{}
	opts := testOptions(dialer, url)
	opts.MaxReconnectAttempts = 2
	opts.Fallback = fb
	states := &stateLog{}
	m := newTestManager(t, opts)
	m.SetStateHandler(states.record)

	if err := m.Connect(context.Background(), 5, "tok"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitFor(t, "exhaustion", func() bool { return states.seen(model.StateDisconnected, ErrReconnectExhausted) })
	if n := dialer.calls.Load(); n != 3 {
		t.Fatalf("dials = %d, want 3", n)
	}
	if m.FallbackActive() {
		t.Fatal("reconnect path must not switch to polling")
	}
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if len(fb.starts) != 0 {
		t.Fatalf("fallback started %d times", len(fb.starts))
	}
}

func TestFramesDeliveredInOrder(t *testing.T) {
	const n = 20
	url := newServer(t, wsHandler(0, func(conn *websocket.Conn) {
		for i := 0; i < n; i++ {
			frame, _ := json.Marshal(map[string]int{"seq": i})
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		}
		keepOpen(conn)
	}))
	var mu sync.Mutex
	var got []int
	m := newTestManager(t, testOptions(newSpyDialer(), url))
	m.SetFrameHandler(func(raw []byte) {
		var f struct{ Seq int }
		if err := json.Unmarshal(raw, &f); err != nil {
			t.Errorf("frame %s: %v", raw, err)
			return
		}
		mu.Lock()
		got = append(got, f.Seq)
		mu.Unlock()
	})
	if err := m.Connect(context.Background(), 1, "tok"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitFor(t, "all frames", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == n
	})
	for i, seq := range got {
		if seq != i {
			t.Fatalf("frames out of order: %v", got)
		}
	}
}

func TestSendWritesOneFrame(t *testing.T) {
	frames := make(chan string, 1)
	url := newServer(t, wsHandler(0, func(conn *websocket.Conn) {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		frames <- string(raw)
		keepOpen(conn)
	}))
	m := newTestManager(t, testOptions(newSpyDialer(), url))
	if err := m.Connect(context.Background(), 5, "tok"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := m.Send(context.Background(), model.OutgoingMessage{GroupID: 5, Text: "hi"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	select {
	case got := <-frames:
		if want := `{"group_id":5,"text":"hi"}`; got != want {
			t.Fatalf("frame = %s, want %s", got, want)
		}
	case <-time.After(time.Second):
		t.Fatal("server got nothing")
	}
}

func TestConnectNewScopeReplacesSession(t *testing.T) {
	var dials atomic.Int32
	url := newServer(t, wsHandler(0, func(conn *websocket.Conn) { keepOpen(conn) }))
	url = strings.TrimSuffix(url, "/ws") + "/ws/{group_id}"
	dialer := DialerFunc(func(ctx context.Context, u string) (Conn, error) {
		dials.Add(1)
		return NewGorillaDialer().DialContext(ctx, u)
	})
	m := newTestManager(t, testOptions(dialer, url))

	if err := m.Connect(context.Background(), 1, "tok"); err != nil {
		t.Fatalf("connect 1: %v", err)
	}
	first := m.SessionID()
	if err := m.Connect(context.Background(), 2, "tok"); err != nil {
		t.Fatalf("connect 2: %v", err)
	}
	if m.SessionID() == first {
		t.Fatal("session id not renewed for new scope")
	}
	if !strings.Contains(m.ActiveURL(), "/ws/2?") {
		t.Fatalf("active url = %q", m.ActiveURL())
	}
	if n := dials.Load(); n != 2 {
		t.Fatalf("dials = %d, want 2", n)
	}
}

func TestConnectTimesOutHangingCandidate(t *testing.T) {
	good := newServer(t, wsHandler(0, keepOpen))
	dialer := newSpyDialer()
	opts := testOptions(dialer, hangingURL(t), good)
	opts.EstablishTimeout = 200 * time.Millisecond
	opts.SettleDelay = 50 * time.Millisecond
	m := newTestManager(t, opts)

	start := time.Now()
	if err := m.Connect(context.Background(), 5, "tok"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	elapsed := time.Since(start)

	if !strings.HasPrefix(m.ActiveURL(), good) {
		t.Fatalf("active url = %q, want prefix %q", m.ActiveURL(), good)
	}
	if n := dialer.calls.Load(); n != 2 {
		t.Fatalf("dials = %d, want 2", n)
	}
	if elapsed < opts.EstablishTimeout {
		t.Fatalf("moved on after %s, before the %s timeout", elapsed, opts.EstablishTimeout)
	}
	if limit := opts.EstablishTimeout + opts.SettleDelay + time.Second; elapsed > limit {
		t.Fatalf("connect took %s, want under %s", elapsed, limit)
	}
}

func TestLateEstablishAfterFallbackIsNoop(t *testing.T) {
	fb := &spyFallback{}
	dialer := newSpyDialer()
	opts := testOptions(dialer, refusedURL(t))
	opts.Fallback = fb
	states := &stateLog{}
	m := newTestManager(t, opts)

	if err := m.Connect(context.Background(), 5, "tok"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if !m.FallbackActive() {
		t.Fatal("fallback not active")
	}
	m.SetStateHandler(states.record)

	// a coalesced caller that reached the flight after the first one settled
	m.mu.Lock()
	ctx, gen := m.ctx, m.gen
	m.mu.Unlock()
	if err := m.establish(ctx, gen, 5, "tok"); err != nil {
		t.Fatalf("late establish: %v", err)
	}

	if n := dialer.calls.Load(); n != 1 {
		t.Fatalf("dials = %d, want 1", n)
	}
	fb.mu.Lock()
	starts := len(fb.starts)
	fb.mu.Unlock()
	if starts != 1 {
		t.Fatalf("fallback started %d times", starts)
	}
	if states.seen(model.StateConnecting, nil) {
		t.Fatal("state flapped back to connecting")
	}
}

func TestDisconnectSessionIgnoresReplacedSession(t *testing.T) {
	url := newServer(t, wsHandler(0, keepOpen))
	m := newTestManager(t, testOptions(newSpyDialer(), url+"/{group_id}"))

	if err := m.Connect(context.Background(), 5, "tok"); err != nil {
		t.Fatalf("connect 5: %v", err)
	}
	first := m.SessionID()
	if err := m.Connect(context.Background(), 6, "tok"); err != nil {
		t.Fatalf("connect 6: %v", err)
	}
	second := m.SessionID()
	if first == second {
		t.Fatal("new scope kept the session id")
	}

	if m.DisconnectSession(first) {
		t.Fatal("stale id disconnected the current session")
	}
	if !m.IsOpen() || m.GetStatus() != model.StateConnected {
		t.Fatalf("open=%v state=%q after stale disconnect", m.IsOpen(), m.GetStatus())
	}
	if !m.DisconnectSession(second) {
		t.Fatal("current id was not disconnected")
	}
	if m.IsOpen() || m.GetStatus() != model.StateDisconnected {
		t.Fatalf("open=%v state=%q", m.IsOpen(), m.GetStatus())
	}
}
