package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/eduplatform/chatcore/internal/logger"
)

// HeartbeatPolicy runs a periodic liveness tick bound to one open socket.
// Start returns the function that cancels it; the manager calls it whenever
// the socket closes so no ticker outlives its connection.
type HeartbeatPolicy interface {
	Start(conn Conn) (stop func())
}

// NoopHeartbeat relies on transport-level keepalive.
type NoopHeartbeat struct{}

func (NoopHeartbeat) Start(Conn) func() { return func() {} }

// PingHeartbeat sends websocket ping control frames. A failed ping closes the
// socket so the reconnect path takes over.
type PingHeartbeat struct {
	Interval  time.Duration
	WriteWait time.Duration
}

func (p PingHeartbeat) Start(conn Conn) func() {
	if p.Interval <= 0 {
		return func() {}
	}
	wait := p.WriteWait
	if wait <= 0 {
		wait = writeWait
	}
	done := make(chan struct{})
	var once sync.Once
	go func() {
		ticker := time.NewTicker(p.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wait)); err != nil {
					logger.Errorf("ws heartbeat ping failed: %v", err)
					conn.Close()
					return
				}
			}
		}
	}()
	return func() { once.Do(func() { close(done) }) }
}

// HeartbeatFor picks the policy for an interval: zero means no-op.
func HeartbeatFor(interval time.Duration) HeartbeatPolicy {
	if interval <= 0 {
		return NoopHeartbeat{}
	}
	return PingHeartbeat{Interval: interval}
}
