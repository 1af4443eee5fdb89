// Package chat ties one conversation view to the realtime transport, the
// HTTP backend and the shared chat store.
package chat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eduplatform/chatcore/internal/api"
	"github.com/eduplatform/chatcore/internal/auth"
	"github.com/eduplatform/chatcore/internal/chatstore"
	"github.com/eduplatform/chatcore/internal/event"
	"github.com/eduplatform/chatcore/internal/fallback"
	"github.com/eduplatform/chatcore/internal/logger"
	"github.com/eduplatform/chatcore/internal/model"
	"github.com/eduplatform/chatcore/internal/storage"
	"github.com/eduplatform/chatcore/internal/ws"
)

const (
	DefaultPageSize      = 50
	DefaultSweepInterval = time.Second
	queueSize            = 256
	cacheTimeout         = 2 * time.Second
)

// Transport is what a session needs from the connection manager.
type Transport interface {
	Connect(ctx context.Context, groupID int64, credential string) error
	Send(ctx context.Context, payload any) error
	DisconnectSession(id string) bool
	GetStatus() model.ConnectionState
	IsOpen() bool
	FallbackActive() bool
	SessionID() string
	ReconnectAttempts() int
	SetFrameHandler(h ws.FrameHandler)
	SetStateHandler(h ws.StateHandler)
}

// Backend is the HTTP collaborator.
type Backend interface {
	ListMessages(ctx context.Context, credential string, groupID int64, limit int, beforeID int64) (*model.MessagesPage, error)
	EditMessage(ctx context.Context, credential string, messageID int64, text string) (*model.Message, error)
	DeleteMessage(ctx context.Context, credential string, messageID int64) error
	MarkAsRead(ctx context.Context, credential string, groupID, messageID int64) error
	GroupDetail(ctx context.Context, credential string, groupID int64) (*model.GroupDetail, error)
}

// PageSource is the polling fallback as seen from a session.
type PageSource interface {
	SetSink(sink fallback.PageSink)
}

type Deps struct {
	Transport   Transport
	Store       *chatstore.Store
	Backend     Backend
	Credentials auth.Source
	// Optional.
	Cache         storage.HistoryCache
	Pages         PageSource
	PageSize      int
	SweepInterval time.Duration
}

// inbound is one unit of work for the dispatch goroutine.
type inbound struct {
	raw      []byte
	page     *model.MessagesPage
	state    model.ConnectionState
	stateErr error
	announce bool
}

// Session is the per-conversation entry point. Inbound frames, polled pages
// and transport state changes are applied to the store by a single goroutine
// in the order they arrive.
type Session struct {
	groupID int64
	title   string
	deps    Deps

	queue chan inbound
	done  chan struct{}
	wg    sync.WaitGroup
	start sync.Once

	sawConnected atomic.Bool

	mu          sync.Mutex
	credential  string
	sessionID   string
	established bool
	closed      bool
}

func NewSession(groupID int64, title string, deps Deps) *Session {
	if deps.PageSize <= 0 {
		deps.PageSize = DefaultPageSize
	}
	if deps.SweepInterval <= 0 {
		deps.SweepInterval = DefaultSweepInterval
	}
	return &Session{
		groupID: groupID,
		title:   title,
		deps:    deps,
		queue:   make(chan inbound, queueSize),
		done:    make(chan struct{}),
	}
}

func (s *Session) GroupID() int64 { return s.groupID }

// Open resolves a credential and connects. A missing or expired credential
// fails with *PreconditionError before anything is dialed.
func (s *Session) Open(ctx context.Context) error {
	defer logger.DeferLogDuration("chat.Open", time.Now())()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.mu.Unlock()

	cred, err := auth.Resolve(ctx, s.deps.Credentials)
	if err != nil {
		logger.Errorf("chat open group=%d: %v", s.groupID, err)
		return &PreconditionError{Err: err}
	}
	s.mu.Lock()
	s.credential = cred
	s.mu.Unlock()

	s.start.Do(func() {
		s.wg.Add(1)
		go s.dispatch()
	})
	s.deps.Store.SetFocus(s.groupID, s.title)
	s.deps.Transport.SetFrameHandler(s.onFrame)
	s.deps.Transport.SetStateHandler(s.onState)
	if s.deps.Pages != nil {
		s.deps.Pages.SetSink(s.onPage)
	}
	s.deps.Store.SetConnection(model.StateConnecting, false)

	if err := s.deps.Transport.Connect(ctx, s.groupID, cred); err != nil {
		return fmt.Errorf("chat.Open: %w", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.established = true
	s.sessionID = s.deps.Transport.SessionID()
	s.mu.Unlock()

	open := s.deps.Transport.IsOpen()
	// Already-open socket reused from an earlier mount: no state event will come.
	if open && !s.sawConnected.Load() {
		s.enqueue(inbound{announce: true})
	}
	s.deps.Store.SetConnection(s.deps.Transport.GetStatus(), s.deps.Transport.FallbackActive())
	logger.Infof("chat open group=%d session=%s open=%v fallback=%v", s.groupID, s.deps.Transport.SessionID(), open, s.deps.Transport.FallbackActive())
	return nil
}

// SendMessage posts a message through the socket, or HTTP while polling.
// The store is only updated when the server echoes the message back.
func (s *Session) SendMessage(ctx context.Context, text, fileURL, fileType string) error {
	text = strings.TrimSpace(text)
	if text == "" && fileURL == "" {
		return ErrEmptyMessage
	}
	if s.isClosed() {
		return ErrSessionClosed
	}
	msg := model.OutgoingMessage{GroupID: s.groupID, Text: text, FileURL: fileURL, FileType: fileType}
	if err := s.deps.Transport.Send(ctx, msg); err != nil {
		return fmt.Errorf("chat.SendMessage: %w", err)
	}
	return nil
}

// EditMessage changes a message on the server, then applies the confirmed text.
func (s *Session) EditMessage(ctx context.Context, messageID int64, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}
	confirmed, err := s.deps.Backend.EditMessage(ctx, s.cred(), messageID, text)
	if err != nil {
		return fmt.Errorf("chat.EditMessage: %w", err)
	}
	if confirmed == nil {
		edited := model.NewTimestamp(time.Now().UTC())
		confirmed = &model.Message{ID: messageID, GroupID: s.groupID, Text: text, EditedAt: &edited}
	}
	if confirmed.GroupID == 0 {
		confirmed.GroupID = s.groupID
	}
	s.deps.Store.ApplyEvent(event.Event{Kind: event.KindMessageEdited, GroupID: confirmed.GroupID, Message: confirmed})
	return nil
}

// DeleteMessage deletes on the server, then tombstones the local copy.
func (s *Session) DeleteMessage(ctx context.Context, messageID int64) error {
	if err := s.deps.Backend.DeleteMessage(ctx, s.cred(), messageID); err != nil {
		return fmt.Errorf("chat.DeleteMessage: %w", err)
	}
	s.deps.Store.ApplyEvent(event.Event{
		Kind:    event.KindMessageDeleted,
		GroupID: s.groupID,
		Message: &model.Message{ID: messageID, GroupID: s.groupID},
	})
	return nil
}

// LoadHistory shows the cached page right away, then replaces it with the
// newest page from the server.
func (s *Session) LoadHistory(ctx context.Context) error {
	defer logger.DeferLogDuration("chat.LoadHistory", time.Now())()
	s.deps.Store.SetLoading(s.groupID, true)
	if s.deps.Cache != nil {
		cctx, cancel := context.WithTimeout(ctx, cacheTimeout)
		page, err := s.deps.Cache.GetHistory(cctx, s.groupID)
		cancel()
		if err != nil {
			logger.Errorf("chat history cache group=%d: %v", s.groupID, err)
		} else if page != nil {
			s.deps.Store.ReplaceHistory(s.groupID, page.Items, page.HasMore)
			s.deps.Store.SetLoading(s.groupID, true)
		}
	}

	page, err := s.deps.Backend.ListMessages(ctx, s.cred(), s.groupID, s.deps.PageSize, 0)
	if err != nil {
		s.deps.Store.SetLoading(s.groupID, false)
		if isGone(err) {
			s.dropCachedPage(ctx)
		}
		return fmt.Errorf("chat.LoadHistory: %w", err)
	}
	s.deps.Store.ReplaceHistory(s.groupID, page.Items, page.HasMore)
	s.cachePage(ctx, page)
	return nil
}

// LoadOlder prepends the page before the oldest loaded message. It reports
// false when there is nothing more to fetch.
func (s *Session) LoadOlder(ctx context.Context) (bool, error) {
	conv, ok := s.deps.Store.Conversation(s.groupID)
	if !ok || len(conv.Messages) == 0 || !conv.HasMore {
		return false, nil
	}
	oldest := conv.Messages[0].ID
	s.deps.Store.SetLoading(s.groupID, true)
	page, err := s.deps.Backend.ListMessages(ctx, s.cred(), s.groupID, s.deps.PageSize, oldest)
	if err != nil {
		s.deps.Store.SetLoading(s.groupID, false)
		return false, fmt.Errorf("chat.LoadOlder: %w", err)
	}
	s.deps.Store.PrependHistory(s.groupID, page.Items, page.HasMore)
	return len(page.Items) > 0, nil
}

// LoadMembers refreshes the roster of the conversation.
func (s *Session) LoadMembers(ctx context.Context) error {
	detail, err := s.deps.Backend.GroupDetail(ctx, s.cred(), s.groupID)
	if err != nil {
		return fmt.Errorf("chat.LoadMembers: %w", err)
	}
	s.deps.Store.SetMembers(s.groupID, detail.Members)
	return nil
}

// MarkRead acknowledges messages up to messageID and clears the unread counter.
func (s *Session) MarkRead(ctx context.Context, messageID int64) error {
	if err := s.deps.Backend.MarkAsRead(ctx, s.cred(), s.groupID, messageID); err != nil {
		return fmt.Errorf("chat.MarkRead: %w", err)
	}
	s.deps.Store.SetUnread(s.groupID, 0)
	return nil
}

type Status struct {
	GroupID           int64                 `json:"group_id"`
	State             model.ConnectionState `json:"state"`
	Open              bool                  `json:"open"`
	Degraded          bool                  `json:"degraded"`
	SessionID         string                `json:"session_id"`
	ReconnectAttempts int                   `json:"reconnect_attempts"`
}

func (s *Session) Status() Status {
	return Status{
		GroupID:           s.groupID,
		State:             s.deps.Transport.GetStatus(),
		Open:              s.deps.Transport.IsOpen(),
		Degraded:          s.deps.Transport.FallbackActive(),
		SessionID:         s.deps.Transport.SessionID(),
		ReconnectAttempts: s.deps.Transport.ReconnectAttempts(),
	}
}

func (s *Session) Messages() []model.Message {
	return s.deps.Store.Messages(s.groupID)
}

// Close tears the session down. A transport that never finished
// establishing is left alone so a quick remount can join the pending connect,
// and so is one another view has re-scoped since.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	established, id := s.established, s.sessionID
	s.mu.Unlock()

	if established && s.deps.Transport.DisconnectSession(id) {
		s.deps.Store.SetConnection(model.StateDisconnected, false)
	}
	if focus, _ := s.deps.Store.Focus(); focus == s.groupID {
		s.deps.Store.ClearFocus()
	}
	close(s.done)
	s.wg.Wait()
	logger.Infof("chat close group=%d established=%v", s.groupID, established)
}

func (s *Session) onFrame(raw []byte) {
	s.enqueue(inbound{raw: raw})
}

func (s *Session) onState(state model.ConnectionState, err error) {
	if state == model.StateConnected {
		s.sawConnected.Store(true)
	}
	s.enqueue(inbound{state: state, stateErr: err})
}

func (s *Session) onPage(page *model.MessagesPage) {
	s.enqueue(inbound{page: page})
}

// enqueue blocks while the queue is full so frames are never reordered or dropped.
func (s *Session) enqueue(in inbound) {
	select {
	case s.queue <- in:
	case <-s.done:
	}
}

func (s *Session) dispatch() {
	defer s.wg.Done()
	sweep := time.NewTicker(s.deps.SweepInterval)
	defer sweep.Stop()
	for {
		select {
		case <-s.done:
			return
		case in := <-s.queue:
			s.handle(in)
		case <-sweep.C:
			s.deps.Store.SweepTyping()
		}
	}
}

func (s *Session) handle(in inbound) {
	switch {
	case in.raw != nil:
		ev, ok, err := event.Normalize(in.raw)
		if err != nil {
			logger.Errorf("chat group=%d: %v", s.groupID, err)
			return
		}
		if ok {
			s.deps.Store.ApplyEvent(ev)
		}
	case in.page != nil:
		if in.page.GroupID != 0 && in.page.GroupID != s.groupID {
			return
		}
		// A poll that finished after the socket came back is stale.
		if !s.deps.Transport.FallbackActive() {
			return
		}
		s.deps.Store.MergeLatest(s.groupID, in.page.Items, in.page.HasMore)
		s.cachePage(context.Background(), in.page)
	case in.announce:
		s.announce()
	case in.state != "":
		degraded := errors.Is(in.stateErr, ws.ErrFallbackActive) || s.deps.Transport.FallbackActive()
		s.deps.Store.SetConnection(in.state, degraded)
		if in.state == model.StateConnected {
			s.announce()
		}
		if errors.Is(in.stateErr, ws.ErrReconnectExhausted) {
			logger.Errorf("chat group=%d: realtime connection lost, reconnect budget spent", s.groupID)
		}
	}
}

// announce tells the backend which conversation is focused.
func (s *Session) announce() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.deps.Transport.Send(ctx, ws.SetActiveChat(s.groupID)); err != nil {
		logger.Errorf("chat announce group=%d: %v", s.groupID, err)
	}
}

func (s *Session) cachePage(ctx context.Context, page *model.MessagesPage) {
	if s.deps.Cache == nil || page == nil {
		return
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cacheTimeout)
	defer cancel()
	cp := *page
	cp.GroupID = s.groupID
	if err := s.deps.Cache.SetHistory(cctx, &cp); err != nil {
		logger.Errorf("chat history cache store group=%d: %v", s.groupID, err)
	}
}

// dropCachedPage forgets the cached history of a conversation the server no longer has.
func (s *Session) dropCachedPage(ctx context.Context) {
	if s.deps.Cache == nil {
		return
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cacheTimeout)
	defer cancel()
	if err := s.deps.Cache.DeleteHistory(cctx, s.groupID); err != nil {
		logger.Errorf("chat history cache delete group=%d: %v", s.groupID, err)
	}
}

func isGone(err error) bool {
	var re *api.RemoteError
	return errors.As(err, &re) && (re.Status == http.StatusNotFound || re.Status == http.StatusGone)
}

func (s *Session) cred() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.credential
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
