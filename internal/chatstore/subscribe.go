package chatstore

type ChangeKind string

const (
	ChangeMessages   ChangeKind = "messages"
	ChangeTyping     ChangeKind = "typing"
	ChangeUnread     ChangeKind = "unread"
	ChangeChats      ChangeKind = "chats"
	ChangeMembers    ChangeKind = "members"
	ChangeFocus      ChangeKind = "focus"
	ChangeConnection ChangeKind = "connection"
)

// Change tells a subscriber which slice of state moved. GroupID is 0 for
// store-wide changes.
type Change struct {
	Kind    ChangeKind
	GroupID int64
}

type Subscription struct {
	C     <-chan Change
	ch    chan Change
	store *Store
}

// Subscribe registers a listener. A full buffer drops notifications
// instead of blocking writers.
func (s *Store) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Change, buffer)
	sub := &Subscription{C: ch, ch: ch, store: s}
	s.subMu.Lock()
	s.subs[sub] = struct{}{}
	s.subMu.Unlock()
	return sub
}

// Close unregisters the subscription and closes its channel.
func (sub *Subscription) Close() {
	s := sub.store
	s.subMu.Lock()
	if _, ok := s.subs[sub]; ok {
		delete(s.subs, sub)
		close(sub.ch)
	}
	s.subMu.Unlock()
}

func (s *Store) publish(c Change) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for sub := range s.subs {
		select {
		case sub.ch <- c:
		default:
		}
	}
}
