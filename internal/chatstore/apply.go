package chatstore

import (
	"github.com/eduplatform/chatcore/internal/event"
	"github.com/eduplatform/chatcore/internal/logger"
	"github.com/eduplatform/chatcore/internal/model"
)

// ApplyEvent is the single entry point for confirmed server events.
func (s *Store) ApplyEvent(ev event.Event) {
	var change Change
	s.mu.Lock()
	switch ev.Kind {
	case event.KindMessageReceived:
		change = s.receiveLocked(ev)
	case event.KindMessageEdited:
		change = s.editLocked(ev)
	case event.KindMessageDeleted:
		change = s.deleteLocked(ev)
	case event.KindTyping:
		change = s.typingLocked(ev)
	case event.KindConnected:
		s.conn = Connection{State: model.StateConnected}
		change = Change{Kind: ChangeConnection}
	case event.KindTransportError:
		logger.Errorf("chatstore: server reported transport error: %s", ev.Reason)
		s.conn = Connection{State: model.StateDisconnected}
		change = Change{Kind: ChangeConnection}
	case event.KindReadReceipt:
		// Receipts do not change local history; unread is cleared by MarkRead.
		if ev.Receipt != nil {
			logger.Debugf("chatstore: read receipt group=%d user=%d message=%d", ev.GroupID, ev.Receipt.UserID, ev.Receipt.MessageID)
		}
	default:
		logger.Debugf("chatstore: ignoring event kind=%q", ev.Kind)
	}
	s.mu.Unlock()

	if change.Kind != "" {
		s.publish(change)
	}
}

func (s *Store) receiveLocked(ev event.Event) Change {
	if ev.Message == nil {
		return Change{}
	}
	msg := *ev.Message
	c := s.conversationLocked(msg.GroupID)
	c.messages = append(c.messages, msg)

	if i := s.chatIndexLocked(msg.GroupID); i >= 0 {
		last := msg
		s.chats[i].LastMessage = &last
	}
	if s.focusID != msg.GroupID {
		s.unread[msg.GroupID]++
		if i := s.chatIndexLocked(msg.GroupID); i >= 0 {
			s.chats[i].UnreadCount = s.unread[msg.GroupID]
		}
	}
	return Change{Kind: ChangeMessages, GroupID: msg.GroupID}
}

func (s *Store) editLocked(ev event.Event) Change {
	if ev.Message == nil {
		return Change{}
	}
	c, i := s.findLocked(ev.Message.GroupID, ev.Message.ID)
	if i < 0 {
		return Change{}
	}
	m := &c.messages[i]
	m.Text = ev.Message.Text
	if ev.Message.EditedAt != nil {
		edited := *ev.Message.EditedAt
		m.EditedAt = &edited
	}
	return Change{Kind: ChangeMessages, GroupID: m.GroupID}
}

func (s *Store) deleteLocked(ev event.Event) Change {
	if ev.Message == nil {
		return Change{}
	}
	c, i := s.findLocked(ev.Message.GroupID, ev.Message.ID)
	if i < 0 {
		return Change{}
	}
	m := &c.messages[i]
	m.IsDeleted = true
	m.Text = model.DeletedText
	return Change{Kind: ChangeMessages, GroupID: m.GroupID}
}

func (s *Store) typingLocked(ev event.Event) Change {
	if ev.Typing == nil {
		return Change{}
	}
	sig := *ev.Typing
	users, ok := s.typing[sig.GroupID]
	if !ok {
		users = make(map[int64]model.TypingSignal)
		s.typing[sig.GroupID] = users
	}
	if !sig.IsTyping {
		if _, exists := users[sig.UserID]; !exists {
			return Change{}
		}
		delete(users, sig.UserID)
		return Change{Kind: ChangeTyping, GroupID: sig.GroupID}
	}
	sig.ExpiresAt = s.now().Add(s.typingTTL)
	users[sig.UserID] = sig
	return Change{Kind: ChangeTyping, GroupID: sig.GroupID}
}
