// Package ws is the client side of the realtime chat channel: one socket at a
// time, candidate iteration, automatic reconnect and the switch to HTTP polling
// when no candidate can be reached.
package ws

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/singleflight"

	"github.com/eduplatform/chatcore/internal/logger"
	"github.com/eduplatform/chatcore/internal/model"
)

const (
	DefaultEstablishTimeout     = 5 * time.Second
	DefaultSettleDelay          = 500 * time.Millisecond
	DefaultReconnectDelay       = 3 * time.Second
	DefaultMaxReconnectAttempts = 5
)

// Fallback is the degraded HTTP path used once every candidate failed.
// Start and Stop must not block on the manager.
type Fallback interface {
	Start(groupID int64, credential string)
	Stop()
	Send(ctx context.Context, credential string, payload any) error
}

type Options struct {
	Candidates           CandidateList
	EstablishTimeout     time.Duration
	SettleDelay          time.Duration
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
	Heartbeat            HeartbeatPolicy
	Fallback             Fallback
	Dialer               Dialer
}

// DefaultOptions carries the production timings. A zero SettleDelay in a
// hand-built Options means no pause between candidates.
func DefaultOptions(candidates CandidateList) Options {
	return Options{
		Candidates:           candidates,
		EstablishTimeout:     DefaultEstablishTimeout,
		SettleDelay:          DefaultSettleDelay,
		ReconnectDelay:       DefaultReconnectDelay,
		MaxReconnectAttempts: DefaultMaxReconnectAttempts,
		Heartbeat:            NoopHeartbeat{},
	}
}

func (o Options) withDefaults() Options {
	if o.EstablishTimeout <= 0 {
		o.EstablishTimeout = DefaultEstablishTimeout
	}
	if o.SettleDelay < 0 {
		o.SettleDelay = 0
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = DefaultReconnectDelay
	}
	if o.MaxReconnectAttempts <= 0 {
		o.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if o.Heartbeat == nil {
		o.Heartbeat = NoopHeartbeat{}
	}
	if o.Dialer == nil {
		o.Dialer = NewGorillaDialer()
	}
	return o
}

// FrameHandler receives raw inbound frames in arrival order, on the read goroutine.
type FrameHandler func(raw []byte)

// StateHandler is told about every ConnectionState transition. err carries the
// reason when there is one (ErrFallbackActive, ErrReconnectExhausted, a close error).
type StateHandler func(state model.ConnectionState, err error)

// Manager owns at most one realtime socket. It is safe for concurrent use.
type Manager struct {
	opts Options
	sf   singleflight.Group

	mu           sync.Mutex
	state        model.ConnectionState
	sess         *session
	groupID      int64
	credential   string
	sessionID    string
	gen          uint64
	ctx          context.Context
	cancel       context.CancelFunc
	establishing bool
	reconnecting bool
	fallback     bool
	attempts     int

	handlerMu sync.RWMutex
	onFrame   FrameHandler
	onState   StateHandler

	wg sync.WaitGroup
}

func NewManager(opts Options) *Manager {
	return &Manager{
		opts:  opts.withDefaults(),
		state: model.StateDisconnected,
	}
}

func (m *Manager) SetFrameHandler(h FrameHandler) {
	m.handlerMu.Lock()
	m.onFrame = h
	m.handlerMu.Unlock()
}

func (m *Manager) SetStateHandler(h StateHandler) {
	m.handlerMu.Lock()
	m.onState = h
	m.handlerMu.Unlock()
}

// Connect opens a session scoped to groupID. It returns nil once a socket is
// open or once every candidate failed and polling took over. Concurrent calls
// for the same scope share one establishment attempt. A call for another scope
// replaces the current session.
func (m *Manager) Connect(ctx context.Context, groupID int64, credential string) error {
	m.mu.Lock()
	sameScope := m.ctx != nil && m.ctx.Err() == nil && m.groupID == groupID && m.credential == credential
	if sameScope && (m.sess != nil || m.reconnecting) {
		m.mu.Unlock()
		return nil
	}
	if !sameScope || !m.establishing {
		m.resetLocked(groupID, credential)
		m.establishing = true
	}
	gen := m.gen
	sessCtx := m.ctx
	m.mu.Unlock()

	ch := m.sf.DoChan(strconv.FormatUint(gen, 10), func() (any, error) {
		return nil, m.establish(sessCtx, gen, groupID, credential)
	})
	select {
	case res := <-ch:
		return res.Err
	case <-sessCtx.Done():
		return ErrConnectCancelled
	case <-ctx.Done():
		return ctx.Err()
	}
}

// resetLocked tears down whatever the previous session left and starts a new
// generation. Caller holds mu.
func (m *Manager) resetLocked(groupID int64, credential string) {
	if m.cancel != nil {
		m.cancel()
	}
	if m.sess != nil {
		go m.sess.closeNormal()
		m.sess = nil
	}
	if m.fallback {
		m.opts.Fallback.Stop()
		m.fallback = false
	}
	m.gen++
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.groupID = groupID
	m.credential = credential
	m.sessionID = uuid.NewString()
	m.establishing = false
	m.reconnecting = false
	m.attempts = 0
}

func (m *Manager) establish(ctx context.Context, gen uint64, groupID int64, credential string) error {
	defer logger.DeferLogDuration("ws.establish", time.Now())()
	defer func() {
		m.mu.Lock()
		if m.gen == gen {
			m.establishing = false
		}
		m.mu.Unlock()
	}()

	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return ErrConnectCancelled
	}
	// A late caller for a generation that already settled, on a socket or on polling.
	if m.sess != nil || m.fallback {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()
	m.transition(gen, model.StateConnecting, nil)

	urls := m.opts.Candidates.Build(groupID, credential)
	conn, url, ok := m.dialCandidates(ctx, urls)
	if ctx.Err() != nil {
		if conn != nil {
			conn.Close()
		}
		return ErrConnectCancelled
	}
	if ok {
		if !m.adopt(gen, conn, url) {
			conn.Close()
			return ErrConnectCancelled
		}
		return nil
	}
	m.enterFallback(gen)
	return nil
}

// dialCandidates tries urls strictly in order with a settle delay between
// failures. It stops early when ctx is cancelled.
func (m *Manager) dialCandidates(ctx context.Context, urls []string) (Conn, string, bool) {
	for i, u := range urls {
		if i > 0 && !sleepCtx(ctx, m.opts.SettleDelay) {
			return nil, "", false
		}
		if ctx.Err() != nil {
			return nil, "", false
		}
		logger.Infof("ws candidate %d/%d %s", i+1, len(urls), redact(u))
		dctx, cancel := context.WithTimeout(ctx, m.opts.EstablishTimeout)
		conn, err := m.opts.Dialer.DialContext(dctx, u)
		cancel()
		if err != nil {
			logger.Errorf("%v", &EstablishError{URL: redact(u), Cause: err})
			continue
		}
		return conn, u, true
	}
	return nil, "", false
}

// adopt installs conn as the open socket if gen is still current.
func (m *Manager) adopt(gen uint64, conn Conn, url string) bool {
	m.mu.Lock()
	if m.gen != gen || m.ctx.Err() != nil {
		m.mu.Unlock()
		return false
	}
	s := newSession(conn, url, m.sessionID, m.opts.Heartbeat)
	m.sess = s
	m.attempts = 0
	m.reconnecting = false
	if m.fallback {
		m.opts.Fallback.Stop()
		m.fallback = false
	}
	m.state = model.StateConnected
	id := m.sessionID
	m.mu.Unlock()

	logger.Infof("ws open session=%s url=%s", id, redact(url))
	m.wg.Add(1)
	go m.readLoop(gen, s)
	m.emitState(model.StateConnected, nil)
	return true
}

func (m *Manager) enterFallback(gen uint64) {
	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return
	}
	m.state = model.StateDisconnected
	id := m.sessionID
	if m.opts.Fallback == nil {
		m.mu.Unlock()
		logger.Errorf("ws all candidates failed session=%s, no fallback configured", id)
		m.emitState(model.StateDisconnected, ErrTransportUnavailable)
		return
	}
	m.fallback = true
	m.opts.Fallback.Start(m.groupID, m.credential)
	m.mu.Unlock()

	logger.Infof("ws all candidates failed session=%s, switching to polling", id)
	m.emitState(model.StateDisconnected, ErrFallbackActive)
}

func (m *Manager) readLoop(gen uint64, s *session) {
	defer m.wg.Done()
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			m.handleClose(gen, s, err)
			return
		}
		m.handlerMu.RLock()
		h := m.onFrame
		m.handlerMu.RUnlock()
		if h != nil {
			h(raw)
		}
	}
}

func (m *Manager) handleClose(gen uint64, s *session, err error) {
	s.close()
	m.mu.Lock()
	if m.gen != gen || m.sess != s {
		m.mu.Unlock()
		return
	}
	m.sess = nil
	if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		m.state = model.StateClosed
		m.mu.Unlock()
		logger.Infof("ws closed normally by server session=%s", s.id)
		m.emitState(model.StateClosed, nil)
		return
	}
	m.reconnecting = true
	m.state = model.StateConnecting
	ctx, groupID, credential := m.ctx, m.groupID, m.credential
	m.mu.Unlock()

	logger.Errorf("ws unexpected close session=%s: %v", s.id, err)
	m.emitState(model.StateConnecting, err)
	m.wg.Add(1)
	go m.reconnectLoop(ctx, gen, groupID, credential)
}

func (m *Manager) reconnectLoop(ctx context.Context, gen uint64, groupID int64, credential string) {
	defer m.wg.Done()
	for attempt := 1; attempt <= m.opts.MaxReconnectAttempts; attempt++ {
		m.mu.Lock()
		if m.gen != gen {
			m.mu.Unlock()
			return
		}
		m.attempts = attempt
		m.mu.Unlock()

		if !sleepCtx(ctx, m.opts.ReconnectDelay) {
			return
		}
		logger.Infof("ws reconnect attempt %d/%d group=%d", attempt, m.opts.MaxReconnectAttempts, groupID)
		conn, url, ok := m.dialCandidates(ctx, m.opts.Candidates.Build(groupID, credential))
		if ctx.Err() != nil {
			if conn != nil {
				conn.Close()
			}
			return
		}
		if ok {
			if !m.adopt(gen, conn, url) {
				conn.Close()
			}
			return
		}
	}

	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return
	}
	m.reconnecting = false
	m.state = model.StateDisconnected
	m.mu.Unlock()
	logger.Errorf("ws reconnect budget spent group=%d", groupID)
	m.emitState(model.StateDisconnected, ErrReconnectExhausted)
}

// Send transmits payload as one frame, or through the fallback while polling.
// []byte and json.RawMessage payloads are written verbatim; anything else is JSON encoded.
func (m *Manager) Send(ctx context.Context, payload any) error {
	m.mu.Lock()
	s, fallback, credential, state := m.sess, m.fallback, m.credential, m.state
	m.mu.Unlock()

	if s != nil {
		data, err := encodeFrame(payload)
		if err != nil {
			return err
		}
		return s.write(data)
	}
	if fallback {
		return m.opts.Fallback.Send(ctx, credential, payload)
	}
	return &TransportUnavailableError{State: state}
}

// Disconnect ends the session on purpose: no reconnect, pending Connect calls
// get ErrConnectCancelled, polling stops. Safe in any state.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.disconnectLocked()
}

// DisconnectSession disconnects only while id is still the current session.
// A view that was replaced by a newer Connect must not tear the newer one down.
func (m *Manager) DisconnectSession(id string) bool {
	m.mu.Lock()
	if id == "" || id != m.sessionID {
		current := m.sessionID
		m.mu.Unlock()
		logger.Debugf("ws disconnect skipped session=%s current=%s", id, current)
		return false
	}
	m.disconnectLocked()
	return true
}

// disconnectLocked is called with mu held and releases it.
func (m *Manager) disconnectLocked() {
	m.gen++
	if m.cancel != nil {
		m.cancel()
	}
	s := m.sess
	m.sess = nil
	if m.fallback {
		m.opts.Fallback.Stop()
		m.fallback = false
	}
	m.establishing = false
	m.reconnecting = false
	prev := m.state
	m.state = model.StateDisconnected
	id := m.sessionID
	m.mu.Unlock()

	if s != nil {
		s.closeNormal()
	}
	if prev != model.StateDisconnected {
		logger.Infof("ws disconnect session=%s", id)
		m.emitState(model.StateDisconnected, nil)
	}
}

// Wait blocks until the read and reconnect goroutines have exited.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) GetStatus() model.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sess != nil
}

// ActiveURL is the candidate the open socket came from, token included.
func (m *Manager) ActiveURL() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess == nil {
		return ""
	}
	return m.sess.url
}

func (m *Manager) FallbackActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fallback
}

func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// ReconnectAttempts is the attempt counter of the running reconnect loop, 0 once open.
func (m *Manager) ReconnectAttempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// transition sets state if gen is current and notifies the handler.
func (m *Manager) transition(gen uint64, state model.ConnectionState, err error) {
	m.mu.Lock()
	if m.gen != gen || m.state == state {
		m.mu.Unlock()
		return
	}
	m.state = state
	m.mu.Unlock()
	m.emitState(state, err)
}

func (m *Manager) emitState(state model.ConnectionState, err error) {
	m.handlerMu.RLock()
	h := m.onState
	m.handlerMu.RUnlock()
	if h != nil {
		h(state, err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
