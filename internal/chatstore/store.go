// Package chatstore holds all chat-domain state on the client side: per-group
// message history, unread counters, typing signals and the mirrored transport
// status. It is the only writer of that state.
package chatstore

import (
	"sync"
	"time"

	"github.com/eduplatform/chatcore/internal/model"
)

const DefaultTypingTTL = 3 * time.Second

// Conversation is a snapshot of one group's cached history.
type Conversation struct {
	Messages []model.Message
	Loading  bool
	HasMore  bool
}

// Connection mirrors the transport status for display.
// Degraded is set while history arrives through HTTP polling.
type Connection struct {
	State    model.ConnectionState
	Degraded bool
}

type conversation struct {
	messages []model.Message
	loading  bool
	hasMore  bool
}

type Store struct {
	mu            sync.RWMutex
	conversations map[int64]*conversation
	unread        map[int64]int
	typing        map[int64]map[int64]model.TypingSignal
	members       map[int64][]model.GroupMember
	chats         []model.ChatItem
	conn          Connection
	focusID       int64
	focusTitle    string

	typingTTL time.Duration
	now       func() time.Time

	subMu sync.Mutex
	subs  map[*Subscription]struct{}
}

type Option func(*Store)

// WithTypingTTL overrides the 3 second typing window.
func WithTypingTTL(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.typingTTL = d
		}
	}
}

// WithClock injects the time source used for typing expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		conversations: make(map[int64]*conversation),
		unread:        make(map[int64]int),
		typing:        make(map[int64]map[int64]model.TypingSignal),
		members:       make(map[int64][]model.GroupMember),
		conn:          Connection{State: model.StateDisconnected},
		typingTTL:     DefaultTypingTTL,
		now:           time.Now,
		subs:          make(map[*Subscription]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// conversationLocked returns the group's entry, creating it if absent. Caller holds mu.
func (s *Store) conversationLocked(groupID int64) *conversation {
	c, ok := s.conversations[groupID]
	if !ok {
		c = &conversation{}
		s.conversations[groupID] = c
	}
	return c
}

// findLocked returns the index of messageID in the group's list or -1. Caller holds mu.
func (s *Store) findLocked(groupID, messageID int64) (*conversation, int) {
	c, ok := s.conversations[groupID]
	if !ok {
		return nil, -1
	}
	for i := range c.messages {
		if c.messages[i].ID == messageID {
			return c, i
		}
	}
	return c, -1
}

func (s *Store) chatIndexLocked(groupID int64) int {
	for i := range s.chats {
		if s.chats[i].GroupID == groupID {
			return i
		}
	}
	return -1
}
