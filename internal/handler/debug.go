package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/eduplatform/chatcore/internal/chat"
	"github.com/eduplatform/chatcore/internal/logger"
	"github.com/eduplatform/chatcore/internal/middleware"
	"github.com/eduplatform/chatcore/internal/model"
	"github.com/eduplatform/chatcore/internal/ws"
)

// ChatSession is the part of *chat.Session the debug surface reads and drives.
type ChatSession interface {
	Status() chat.Status
	Messages() []model.Message
	SendMessage(ctx context.Context, text, fileURL, fileType string) error
}

const (
	sendTimeout = 10 * time.Second
	// maxDebugMessages caps ?limit= on the messages endpoint.
	maxDebugMessages = 500
)

type DebugHandler struct {
	session ChatSession
}

func NewDebugHandler(session ChatSession) *DebugHandler {
	return &DebugHandler{session: session}
}

type debugMessagesResponse struct {
	GroupID  int64           `json:"group_id"`
	Total    int             `json:"total"`
	Messages []model.Message `json:"messages"`
}

type debugSendRequest struct {
	Text     string `json:"text"`
	FileURL  string `json:"file_url,omitempty"`
	FileType string `json:"file_type,omitempty"`
}

// NewDebugRouter mounts the inspection endpoints for one live chat session.
func NewDebugRouter(session ChatSession, origins []string) http.Handler {
	h := NewDebugHandler(session)
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RecoverJSON)
	r.Use(middleware.RequestLog)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Route("/debug/chat", func(r chi.Router) {
		r.Get("/status", h.GetStatus)
		r.Get("/messages", h.GetMessages)
		r.Post("/messages", h.SendMessage)
	})
	return r
}

func (h *DebugHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.session.Status())
}

// GetMessages returns the conversation in arrival order; ?limit=N keeps the
// newest N, at most maxDebugMessages.
func (h *DebugHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	msgs := h.session.Messages()
	total := len(msgs)
	if limit := queryInt(r, "limit", 0, maxDebugMessages); limit > 0 && limit < total {
		msgs = msgs[total-limit:]
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	writeJSON(w, http.StatusOK, debugMessagesResponse{
		GroupID:  h.session.Status().GroupID,
		Total:    total,
		Messages: msgs,
	})
}

func (h *DebugHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req debugSendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), sendTimeout)
	defer cancel()

	err := h.session.SendMessage(ctx, req.Text, req.FileURL, req.FileType)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
	case errors.Is(err, chat.ErrEmptyMessage):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, chat.ErrSessionClosed), errors.Is(err, ws.ErrTransportUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		logger.Errorf("debug send: %v", err)
		writeError(w, http.StatusBadGateway, err.Error())
	}
}
