package startup

import (
	"context"
	"testing"
	"time"

	"github.com/eduplatform/chatcore/internal/config"
	"github.com/eduplatform/chatcore/internal/storage/memory"
)

func TestHistoryCacheWithoutRedisUsesMemory(t *testing.T) {
	cfg := &config.Config{Cache: config.CacheConfig{TTLMinutes: 1}}
	if _, ok := HistoryCache(context.Background(), cfg, time.Second).(*memory.Client); !ok {
		t.Fatal("expected memory cache")
	}
}

func TestHistoryCacheFallsBackWhenRedisDown(t *testing.T) {
	cfg := &config.Config{Cache: config.CacheConfig{TTLMinutes: 1, RedisURL: "redis://127.0.0.1:1/0"}}
	start := time.Now()
	cache := HistoryCache(context.Background(), cfg, 300*time.Millisecond)
	if _, ok := cache.(*memory.Client); !ok {
		t.Fatalf("expected memory fallback, got %T", cache)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("retry did not respect maxWait")
	}
}
