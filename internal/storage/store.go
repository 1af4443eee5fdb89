package storage

import (
	"context"
	"strconv"

	"github.com/eduplatform/chatcore/internal/model"
)

// HistoryCache: кеш последней страницы истории по беседе, чтобы окно чата
// рисовалось сразу, до ответа HTTP API.
// Реализации: redis.Client, memory.Client (без Redis).
type HistoryCache interface {
	// GetHistory возвращает nil, nil при промахе.
	GetHistory(ctx context.Context, groupID int64) (*model.MessagesPage, error)
	SetHistory(ctx context.Context, page *model.MessagesPage) error
	DeleteHistory(ctx context.Context, groupID int64) error
	Close() error
}

// HistoryKey возвращает ключ страницы истории беседы.
func HistoryKey(groupID int64) string {
	return "chat:history:" + strconv.FormatInt(groupID, 10)
}
