package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/eduplatform/chatcore/internal/chat"
	"github.com/eduplatform/chatcore/internal/model"
	"github.com/eduplatform/chatcore/internal/ws"
)

type fakeSession struct {
	mu      sync.Mutex
	status  chat.Status
	msgs    []model.Message
	sent    []string
	sendErr error
}

func (f *fakeSession) Status() chat.Status { return f.status }

func (f *fakeSession) Messages() []model.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Message(nil), f.msgs...)
}

func (f *fakeSession) SendMessage(ctx context.Context, text, fileURL, fileType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, text)
	return nil
}

func newFake() *fakeSession {
	return &fakeSession{
		status: chat.Status{GroupID: 7, State: model.StateConnected, Open: true, SessionID: "abc"},
		msgs: []model.Message{
			{ID: 1, GroupID: 7, Text: "one"},
			{ID: 2, GroupID: 7, Text: "two"},
			{ID: 3, GroupID: 7, Text: "three"},
		},
	}
}

func TestDebugStatus(t *testing.T) {
	srv := httptest.NewServer(NewDebugRouter(newFake(), nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/debug/chat/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var st chat.Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.GroupID != 7 || st.State != model.StateConnected || !st.Open || st.SessionID != "abc" {
		t.Errorf("status = %+v", st)
	}
}

func TestDebugMessages_Limit(t *testing.T) {
	srv := httptest.NewServer(NewDebugRouter(newFake(), nil))
	defer srv.Close()

	tests := []struct {
		query string
		want  []int64
	}{
		{"", []int64{1, 2, 3}},
		{"?limit=2", []int64{2, 3}},
		{"?limit=10", []int64{1, 2, 3}},
		{"?limit=bad", []int64{1, 2, 3}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			resp, err := http.Get(srv.URL + "/debug/chat/messages" + tt.query)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			var body struct {
				GroupID  int64 `json:"group_id"`
				Total    int   `json:"total"`
				Messages []struct {
					ID int64 `json:"id"`
				} `json:"messages"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Total != 3 || body.GroupID != 7 {
				t.Errorf("total=%d group=%d", body.Total, body.GroupID)
			}
			var got []int64
			for _, m := range body.Messages {
				got = append(got, m.ID)
			}
			if fmt.Sprint(got) != fmt.Sprint(tt.want) {
				t.Errorf("ids = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDebugMessages_EmptyIsArray(t *testing.T) {
	f := newFake()
	f.msgs = nil
	rec := httptest.NewRecorder()
	NewDebugRouter(f, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/chat/messages", nil))
	if !strings.Contains(rec.Body.String(), `"messages":[]`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestDebugSend(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		sendErr error
		want    int
	}{
		{"ok", `{"text":"hello"}`, nil, http.StatusAccepted},
		{"bad json", `{`, nil, http.StatusBadRequest},
		{"empty", `{"text":""}`, chat.ErrEmptyMessage, http.StatusBadRequest},
		{"closed", `{"text":"x"}`, chat.ErrSessionClosed, http.StatusServiceUnavailable},
		{"unavailable", `{"text":"x"}`, fmt.Errorf("chat.SendMessage: %w", &ws.TransportUnavailableError{State: model.StateConnecting}), http.StatusServiceUnavailable},
		{"remote", `{"text":"x"}`, fmt.Errorf("chat.SendMessage: boom"), http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFake()
			f.sendErr = tt.sendErr
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/debug/chat/messages", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			NewDebugRouter(f, nil).ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("code = %d, want %d (body %s)", rec.Code, tt.want, rec.Body.String())
			}
			if tt.want == http.StatusAccepted && (len(f.sent) != 1 || f.sent[0] != "hello") {
				t.Errorf("sent = %v", f.sent)
			}
		})
	}
}

func TestDebugRouter_CORS(t *testing.T) {
	h := NewDebugRouter(newFake(), []string{"https://lms.example.com"})

	req := httptest.NewRequest(http.MethodGet, "/debug/chat/status", nil)
	req.Header.Set("Origin", "https://lms.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://lms.example.com" {
		t.Errorf("allowed origin header = %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/debug/chat/status", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("foreign origin got %q", got)
	}
}
