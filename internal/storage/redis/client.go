package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/eduplatform/chatcore/internal/model"
	"github.com/eduplatform/chatcore/internal/storage"
)

// DefaultTTL: сколько живёт закешированная страница истории.
const DefaultTTL = 10 * time.Minute

type Client struct {
	cli *redis.Client
	ttl time.Duration
}

func New(ctx context.Context, url string, ttl time.Duration) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Client{cli: cli, ttl: ttl}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

// SetHistory сохраняет страницу как JSON по ключу chat:history:{group_id} с TTL.
func (c *Client) SetHistory(ctx context.Context, page *model.MessagesPage) error {
	if page == nil {
		return nil
	}
	data, err := json.Marshal(page)
	if err != nil {
		return fmt.Errorf("redis encode history: %w", err)
	}
	return c.cli.Set(ctx, storage.HistoryKey(page.GroupID), data, c.ttl).Err()
}

// GetHistory возвращает nil, nil если ключа нет или он истёк.
func (c *Client) GetHistory(ctx context.Context, groupID int64) (*model.MessagesPage, error) {
	data, err := c.cli.Get(ctx, storage.HistoryKey(groupID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var page model.MessagesPage
	if err := json.Unmarshal(data, &page); err != nil {
		// Битую запись удаляем, чтобы не читать её снова.
		c.cli.Del(ctx, storage.HistoryKey(groupID))
		return nil, fmt.Errorf("redis decode history: %w", err)
	}
	return &page, nil
}

func (c *Client) DeleteHistory(ctx context.Context, groupID int64) error {
	return c.cli.Del(ctx, storage.HistoryKey(groupID)).Err()
}
