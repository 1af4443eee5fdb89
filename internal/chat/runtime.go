package chat

import (
	"context"
	"net/http"
	"time"

	"github.com/eduplatform/chatcore/internal/api"
	"github.com/eduplatform/chatcore/internal/auth"
	"github.com/eduplatform/chatcore/internal/chatstore"
	"github.com/eduplatform/chatcore/internal/config"
	"github.com/eduplatform/chatcore/internal/fallback"
	"github.com/eduplatform/chatcore/internal/logger"
	"github.com/eduplatform/chatcore/internal/startup"
	"github.com/eduplatform/chatcore/internal/storage"
	"github.com/eduplatform/chatcore/internal/ws"
)

// Runtime owns the pieces a host application shares across conversation
// views: one connection manager, one store, one HTTP client and the cache.
type Runtime struct {
	cfg         *config.Config
	API         *api.Client
	Poller      *fallback.Poller
	Manager     *ws.Manager
	Store       *chatstore.Store
	Cache       storage.HistoryCache
	Credentials auth.Source
}

// NewRuntime wires everything from cfg. ctx bounds the Redis connect retries.
func NewRuntime(ctx context.Context, cfg *config.Config, creds auth.Source) *Runtime {
	logger.SetLevel(cfg.LogLevel)
	client := api.New(cfg.APIBaseURL, &http.Client{Timeout: cfg.HTTPTimeout})
	poller := fallback.New(client, cfg.PollInterval, cfg.HistoryPageSize)
	opts := cfg.ManagerOptions()
	opts.Fallback = poller
	return &Runtime{
		cfg:         cfg,
		API:         client,
		Poller:      poller,
		Manager:     ws.NewManager(opts),
		Store:       chatstore.New(chatstore.WithTypingTTL(cfg.TypingTTL)),
		Cache:       startup.HistoryCache(ctx, cfg, 10*time.Second),
		Credentials: creds,
	}
}

// Session builds the facade for one conversation view.
func (r *Runtime) Session(groupID int64, title string) *Session {
	return NewSession(groupID, title, Deps{
		Transport:   r.Manager,
		Store:       r.Store,
		Backend:     r.API,
		Credentials: r.Credentials,
		Cache:       r.Cache,
		Pages:       r.Poller,
		PageSize:    r.cfg.HistoryPageSize,
	})
}

// RefreshChats loads the conversation list into the store.
func (r *Runtime) RefreshChats(ctx context.Context) error {
	cred, err := auth.Resolve(ctx, r.Credentials)
	if err != nil {
		return &PreconditionError{Err: err}
	}
	chats, err := r.API.ListChats(ctx, cred)
	if err != nil {
		return err
	}
	r.Store.SetChats(chats)
	return nil
}

// Close disconnects and releases the cache.
func (r *Runtime) Close() error {
	r.Manager.Disconnect()
	r.Manager.Wait()
	r.Poller.Stop()
	r.Poller.Wait()
	return r.Cache.Close()
}
