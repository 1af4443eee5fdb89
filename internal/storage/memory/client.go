package memory

import (
	"context"
	"sync"
	"time"

	"github.com/eduplatform/chatcore/internal/model"
)

const DefaultTTL = 10 * time.Minute

type item struct {
	page model.MessagesPage
	exp  time.Time
}

// Client хранит страницы истории в памяти процесса.
type Client struct {
	mu      sync.RWMutex
	ttl     time.Duration
	history map[int64]item
	now     func() time.Time
}

func New(ttl time.Duration) *Client {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Client{
		ttl:     ttl,
		history: make(map[int64]item),
		now:     time.Now,
	}
}

func (c *Client) Close() error { return nil }

func (c *Client) SetHistory(ctx context.Context, page *model.MessagesPage) error {
	if page == nil {
		return nil
	}
	cp := *page
	cp.Items = append([]model.Message(nil), page.Items...)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history[page.GroupID] = item{page: cp, exp: c.now().Add(c.ttl)}
	return nil
}

func (c *Client) GetHistory(ctx context.Context, groupID int64) (*model.MessagesPage, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.history[groupID]
	if !ok || c.now().After(v.exp) {
		return nil, nil
	}
	cp := v.page
	cp.Items = append([]model.Message(nil), v.page.Items...)
	return &cp, nil
}

func (c *Client) DeleteHistory(ctx context.Context, groupID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.history, groupID)
	return nil
}
