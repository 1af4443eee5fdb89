package chatstore

import "github.com/eduplatform/chatcore/internal/model"

// ReplaceHistory swaps the group's list for a freshly fetched page.
func (s *Store) ReplaceHistory(groupID int64, messages []model.Message, hasMore bool) {
	s.mu.Lock()
	c := s.conversationLocked(groupID)
	c.messages = append([]model.Message(nil), messages...)
	c.hasMore = hasMore
	c.loading = false
	s.mu.Unlock()
	s.publish(Change{Kind: ChangeMessages, GroupID: groupID})
}

// PrependHistory puts an older page in front of what is already loaded.
func (s *Store) PrependHistory(groupID int64, older []model.Message, hasMore bool) {
	s.mu.Lock()
	c := s.conversationLocked(groupID)
	merged := make([]model.Message, 0, len(older)+len(c.messages))
	merged = append(merged, older...)
	merged = append(merged, c.messages...)
	c.messages = merged
	c.hasMore = hasMore
	c.loading = false
	s.mu.Unlock()
	s.publish(Change{Kind: ChangeMessages, GroupID: groupID})
}

// MergeLatest refreshes the newest window with a polled page. Messages
// loaded earlier that are older than the page stay in front of it.
func (s *Store) MergeLatest(groupID int64, latest []model.Message, hasMore bool) {
	s.mu.Lock()
	c := s.conversationLocked(groupID)
	var kept []model.Message
	if len(latest) > 0 {
		oldest := latest[0].ID
		for _, m := range c.messages {
			if m.ID >= oldest {
				break
			}
			kept = append(kept, m)
		}
	}
	merged := make([]model.Message, 0, len(kept)+len(latest))
	merged = append(merged, kept...)
	merged = append(merged, latest...)
	c.messages = merged
	if len(kept) == 0 {
		c.hasMore = hasMore
	}
	c.loading = false
	s.mu.Unlock()
	s.publish(Change{Kind: ChangeMessages, GroupID: groupID})
}

func (s *Store) SetLoading(groupID int64, loading bool) {
	s.mu.Lock()
	s.conversationLocked(groupID).loading = loading
	s.mu.Unlock()
	s.publish(Change{Kind: ChangeMessages, GroupID: groupID})
}

// Conversation returns a copy of the group's state. ok is false if nothing was loaded yet.
func (s *Store) Conversation(groupID int64) (Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[groupID]
	if !ok {
		return Conversation{}, false
	}
	return Conversation{
		Messages: append([]model.Message(nil), c.messages...),
		Loading:  c.loading,
		HasMore:  c.hasMore,
	}, true
}

func (s *Store) Messages(groupID int64) []model.Message {
	conv, _ := s.Conversation(groupID)
	return conv.Messages
}

// OldestID is the id of the first loaded message, 0 when empty.
func (s *Store) OldestID(groupID int64) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[groupID]
	if !ok || len(c.messages) == 0 {
		return 0
	}
	return c.messages[0].ID
}
