package chatstore

import (
	"sort"

	"github.com/eduplatform/chatcore/internal/model"
)

// SetFocus records the active conversation. Unread counters are left as is.
func (s *Store) SetFocus(groupID int64, title string) {
	s.mu.Lock()
	s.focusID = groupID
	s.focusTitle = title
	s.mu.Unlock()
	s.publish(Change{Kind: ChangeFocus, GroupID: groupID})
}

func (s *Store) ClearFocus() {
	s.mu.Lock()
	prev := s.focusID
	s.focusID = 0
	s.focusTitle = ""
	s.mu.Unlock()
	s.publish(Change{Kind: ChangeFocus, GroupID: prev})
}

func (s *Store) Focus() (int64, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.focusID, s.focusTitle
}

// SetChats replaces the conversation list and seeds unread counters from it.
func (s *Store) SetChats(chats []model.ChatItem) {
	s.mu.Lock()
	s.chats = append([]model.ChatItem(nil), chats...)
	for _, c := range chats {
		s.unread[c.GroupID] = c.UnreadCount
	}
	s.mu.Unlock()
	s.publish(Change{Kind: ChangeChats})
}

func (s *Store) Chats() []model.ChatItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.ChatItem, len(s.chats))
	copy(out, s.chats)
	return out
}

// SetUnread is the explicit read acknowledgement path.
func (s *Store) SetUnread(groupID int64, count int) {
	if count < 0 {
		count = 0
	}
	s.mu.Lock()
	s.unread[groupID] = count
	if i := s.chatIndexLocked(groupID); i >= 0 {
		s.chats[i].UnreadCount = count
	}
	s.mu.Unlock()
	s.publish(Change{Kind: ChangeUnread, GroupID: groupID})
}

func (s *Store) Unread(groupID int64) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unread[groupID]
}

func (s *Store) SetMembers(groupID int64, members []model.GroupMember) {
	s.mu.Lock()
	s.members[groupID] = append([]model.GroupMember(nil), members...)
	s.mu.Unlock()
	s.publish(Change{Kind: ChangeMembers, GroupID: groupID})
}

func (s *Store) Members(groupID int64) []model.GroupMember {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.GroupMember(nil), s.members[groupID]...)
}

// SetConnection mirrors the transport status. The store never derives it on its own
// except for the connected/error frames the server sends.
func (s *Store) SetConnection(state model.ConnectionState, degraded bool) {
	s.mu.Lock()
	next := Connection{State: state, Degraded: degraded}
	if s.conn == next {
		s.mu.Unlock()
		return
	}
	s.conn = next
	s.mu.Unlock()
	s.publish(Change{Kind: ChangeConnection})
}

func (s *Store) Connection() Connection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn
}

// Typing lists the live typing signals of a group ordered by user id.
// Expired entries are pruned as a side effect.
func (s *Store) Typing(groupID int64) []model.TypingSignal {
	now := s.now()
	s.mu.Lock()
	users := s.typing[groupID]
	out := make([]model.TypingSignal, 0, len(users))
	for id, sig := range users {
		if sig.Expired(now) {
			delete(users, id)
			continue
		}
		out = append(out, sig)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// SweepTyping drops every expired typing signal and reports how many went away.
func (s *Store) SweepTyping() int {
	now := s.now()
	removed := 0
	var touched []int64
	s.mu.Lock()
	for groupID, users := range s.typing {
		before := removed
		for id, sig := range users {
			if sig.Expired(now) {
				delete(users, id)
				removed++
			}
		}
		if removed > before {
			touched = append(touched, groupID)
		}
		if len(users) == 0 {
			delete(s.typing, groupID)
		}
	}
	s.mu.Unlock()
	for _, groupID := range touched {
		s.publish(Change{Kind: ChangeTyping, GroupID: groupID})
	}
	return removed
}
