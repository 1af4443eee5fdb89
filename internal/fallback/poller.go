// Package fallback keeps a conversation fresh over plain HTTP while the
// realtime socket cannot be established.
package fallback

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/eduplatform/chatcore/internal/logger"
	"github.com/eduplatform/chatcore/internal/model"
	"github.com/eduplatform/chatcore/internal/ws"
)

const (
	DefaultInterval = 5 * time.Second
	DefaultLimit    = 50
	requestTimeout  = 10 * time.Second
)

// Backend is the part of the HTTP client polling needs.
type Backend interface {
	ListMessages(ctx context.Context, credential string, groupID int64, limit int, beforeID int64) (*model.MessagesPage, error)
	CreateMessage(ctx context.Context, credential string, msg model.OutgoingMessage) (*model.Message, error)
}

// PageSink receives every successfully polled page.
type PageSink func(page *model.MessagesPage)

type Poller struct {
	backend  Backend
	interval time.Duration
	limit    int

	mu     sync.Mutex
	sink   PageSink
	cancel context.CancelFunc
	gen    uint64
	wg     sync.WaitGroup
}

var _ ws.Fallback = (*Poller)(nil)

func New(backend Backend, interval time.Duration, limit int) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Poller{backend: backend, interval: interval, limit: limit}
}

func (p *Poller) SetSink(sink PageSink) {
	p.mu.Lock()
	p.sink = sink
	p.mu.Unlock()
}

// Start polls groupID right away and then every interval until Stop.
// A running loop is replaced.
func (p *Poller) Start(groupID int64, credential string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.gen++
	p.wg.Add(1)
	go p.loop(ctx, p.gen, groupID, credential)
	logger.Infof("fallback polling started group=%d every %s", groupID, p.interval)
}

// Stop cancels the loop without waiting for it. A request already in flight
// is discarded when it returns.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel == nil {
		return
	}
	p.cancel()
	p.cancel = nil
	p.gen++
	logger.Infof("fallback polling stopped")
}

// Running reports whether a loop is active.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

// Wait blocks until every stopped loop has returned.
func (p *Poller) Wait() {
	p.wg.Wait()
}

func (p *Poller) loop(ctx context.Context, gen uint64, groupID int64, credential string) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		p.poll(ctx, gen, groupID, credential)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *Poller) poll(ctx context.Context, gen uint64, groupID int64, credential string) {
	if ctx.Err() != nil {
		return
	}
	rctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	page, err := p.backend.ListMessages(rctx, credential, groupID, p.limit, 0)
	if err != nil {
		if ctx.Err() == nil {
			logger.Errorf("fallback poll group=%d: %v", groupID, err)
		}
		return
	}
	p.mu.Lock()
	sink, current := p.sink, p.gen == gen
	p.mu.Unlock()
	if !current {
		logger.Debugf("fallback poll group=%d discarded, polling stopped", groupID)
		return
	}
	logger.Debugf("fallback poll group=%d items=%d", groupID, len(page.Items))
	if sink != nil {
		sink(page)
	}
}

// Send posts chat messages through the create-message endpoint. Focus
// announcements have no HTTP counterpart and are accepted silently.
func (p *Poller) Send(ctx context.Context, credential string, payload any) error {
	switch v := payload.(type) {
	case model.OutgoingMessage:
		_, err := p.backend.CreateMessage(ctx, credential, v)
		return err
	case *model.OutgoingMessage:
		_, err := p.backend.CreateMessage(ctx, credential, *v)
		return err
	case ws.ActiveChatFrame:
		return nil
	default:
		return fmt.Errorf("fallback.Send: unsupported payload %T", payload)
	}
}
