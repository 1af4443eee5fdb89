package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/eduplatform/chatcore/internal/logger"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 1 << 20
)

// session is one open realtime socket.
// Lifecycle: newSession -> [read loop, heartbeat] -> close / closeNormal.
type session struct {
	conn Conn
	url  string
	id   string

	writeMu       sync.Mutex
	stopHeartbeat func()
	once          sync.Once
}

func newSession(conn Conn, url, id string, hb HeartbeatPolicy) *session {
	conn.SetReadLimit(maxMessageSize)
	s := &session{conn: conn, url: url, id: id}
	s.stopHeartbeat = hb.Start(conn)
	return s
}

// write sends one text frame. Writes are serialized; gorilla allows one writer at a time.
func (s *session) write(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// close drops the socket without a close frame. Safe to call multiple times.
func (s *session) close() {
	s.once.Do(func() {
		s.stopHeartbeat()
		s.conn.Close()
	})
}

// closeNormal sends a normal-closure frame first.
func (s *session) closeNormal() {
	s.once.Do(func() {
		s.stopHeartbeat()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if err := s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
			logger.Debugf("ws close frame session=%s: %v", s.id, err)
		}
		s.conn.Close()
	})
}
