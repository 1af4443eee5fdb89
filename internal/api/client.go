// Package api is the HTTP side of the chat backend: history pages, message
// mutations, the conversation list and read acknowledgements.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/eduplatform/chatcore/internal/logger"
	"github.com/eduplatform/chatcore/internal/model"
)

const maxErrorBody = 512

// RemoteError is a non-2xx answer from the backend.
type RemoteError struct {
	Op     string
	Status int
	Body   string
}

func (e *RemoteError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("api.%s: status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("api.%s: status %d: %s", e.Op, e.Status, e.Body)
}

type Client struct {
	baseURL string
	http    *http.Client
}

// New builds a client for baseURL. httpClient may be nil.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

func (c *Client) BaseURL() string { return c.baseURL }

// ListMessages fetches the newest window of a conversation, or the window
// before beforeID when it is set.
func (c *Client) ListMessages(ctx context.Context, credential string, groupID int64, limit int, beforeID int64) (*model.MessagesPage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if beforeID > 0 {
		q.Set("before_id", strconv.FormatInt(beforeID, 10))
	}
	var page model.MessagesPage
	path := "/groups/" + strconv.FormatInt(groupID, 10) + "/messages"
	if err := c.do(ctx, "ListMessages", credential, http.MethodGet, path, q, nil, &page); err != nil {
		return nil, err
	}
	if page.GroupID == 0 {
		page.GroupID = groupID
	}
	for i := range page.Items {
		if page.Items[i].GroupID == 0 {
			page.Items[i].GroupID = groupID
		}
	}
	return &page, nil
}

// CreateMessage posts a message over HTTP. The created message is returned
// when the backend echoes it, nil otherwise.
func (c *Client) CreateMessage(ctx context.Context, credential string, msg model.OutgoingMessage) (*model.Message, error) {
	var raw json.RawMessage
	if err := c.do(ctx, "CreateMessage", credential, http.MethodPost, "/messages/", nil, msg, &raw); err != nil {
		return nil, err
	}
	return decodeMessage(raw), nil
}

// EditMessage replaces a message's text. The confirmed message is returned
// when the backend sends one back.
func (c *Client) EditMessage(ctx context.Context, credential string, messageID int64, text string) (*model.Message, error) {
	var raw json.RawMessage
	body := struct {
		Text string `json:"text"`
	}{Text: text}
	if err := c.do(ctx, "EditMessage", credential, http.MethodPatch, "/messages/"+strconv.FormatInt(messageID, 10), nil, body, &raw); err != nil {
		return nil, err
	}
	return decodeMessage(raw), nil
}

func (c *Client) DeleteMessage(ctx context.Context, credential string, messageID int64) error {
	return c.do(ctx, "DeleteMessage", credential, http.MethodDelete, "/messages/"+strconv.FormatInt(messageID, 10), nil, nil, nil)
}

func (c *Client) ListChats(ctx context.Context, credential string) ([]model.ChatItem, error) {
	var chats []model.ChatItem
	if err := c.do(ctx, "ListChats", credential, http.MethodGet, "/chats/my", nil, nil, &chats); err != nil {
		return nil, err
	}
	return chats, nil
}

func (c *Client) GroupDetail(ctx context.Context, credential string, groupID int64) (*model.GroupDetail, error) {
	var detail model.GroupDetail
	if err := c.do(ctx, "GroupDetail", credential, http.MethodGet, "/groups/"+strconv.FormatInt(groupID, 10)+"/detail", nil, nil, &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

func (c *Client) MarkAsRead(ctx context.Context, credential string, groupID, messageID int64) error {
	q := url.Values{"message_id": {strconv.FormatInt(messageID, 10)}}
	return c.do(ctx, "MarkAsRead", credential, http.MethodPost, "/chats/"+strconv.FormatInt(groupID, 10)+"/read", q, nil, nil)
}

func (c *Client) do(ctx context.Context, op, credential, method, path string, query url.Values, in, out any) error {
	defer logger.DeferLogDuration("api."+op, time.Now())()
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("api.%s: encode: %w", op, err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("api.%s: %w", op, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if credential != "" {
		req.Header.Set("Authorization", "Bearer "+credential)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("api.%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		logger.Errorf("api.%s %s %s: status %d", op, method, path, resp.StatusCode)
		return &RemoteError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if raw, ok := out.(*json.RawMessage); ok {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("api.%s: read: %w", op, err)
		}
		*raw = data
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("api.%s: decode: %w", op, err)
	}
	return nil
}

// decodeMessage accepts a message object; anything else (a status string, empty body) yields nil.
func decodeMessage(raw json.RawMessage) *model.Message {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	var m model.Message
	if err := json.Unmarshal(raw, &m); err != nil || m.ID == 0 {
		return nil
	}
	return &m
}
