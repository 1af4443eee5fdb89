package startup

import (
	"context"
	"time"

	"github.com/eduplatform/chatcore/internal/config"
	"github.com/eduplatform/chatcore/internal/logger"
	"github.com/eduplatform/chatcore/internal/storage"
	"github.com/eduplatform/chatcore/internal/storage/memory"
	redisstorage "github.com/eduplatform/chatcore/internal/storage/redis"
)

// ConnectRedisWithRetry подключается к Redis с повторами, пока не выйдет maxWait
// или не отменят ctx. Процесс не роняем: чат это библиотека внутри приложения.
func ConnectRedisWithRetry(ctx context.Context, redisURL string, ttl, maxWait time.Duration) (*redisstorage.Client, error) {
	deadline := time.Now().Add(maxWait)
	backoff := 200 * time.Millisecond
	for {
		cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		client, err := redisstorage.New(cctx, redisURL, ttl)
		cancel()
		if err == nil {
			return client, nil
		}
		if time.Now().Add(backoff).After(deadline) || ctx.Err() != nil {
			logger.Errorf("chat: redis (gave up after %v): %v", maxWait, err)
			return nil, err
		}
		logger.Errorf("chat: redis connect failed, retry in %v: %v", backoff, err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 5*time.Second {
			backoff *= 2
		}
	}
}

// HistoryCache выбирает кеш истории: Redis, если задан REDIS_URL и он доступен,
// иначе кеш в памяти.
func HistoryCache(ctx context.Context, cfg *config.Config, maxWait time.Duration) storage.HistoryCache {
	if cfg.Cache.RedisURL == "" {
		logger.Infof("chat: кеш истории в памяти (REDIS_URL не задан)")
		return memory.New(cfg.CacheTTL())
	}
	client, err := ConnectRedisWithRetry(ctx, cfg.Cache.RedisURL, cfg.CacheTTL(), maxWait)
	if err != nil {
		logger.Errorf("chat: redis недоступен, кеш истории в памяти")
		return memory.New(cfg.CacheTTL())
	}
	logger.Infof("chat: кеш истории в redis")
	return client
}
