package ws

import (
	"bytes"
	"encoding/json"
	"sync"
)

const ActionSetActiveChat = "set_active_chat"

// ActiveChatFrame tells the backend which conversation the user is looking at.
type ActiveChatFrame struct {
	Action  string `json:"action"`
	GroupID int64  `json:"group_id"`
}

func SetActiveChat(groupID int64) ActiveChatFrame {
	return ActiveChatFrame{Action: ActionSetActiveChat, GroupID: groupID}
}

// bufPool pools bytes.Buffer for JSON encoding of outgoing frames.
var bufPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

// encodeFrame marshals payload into one text frame. Raw byte slices and
// json.RawMessage are sent as is.
func encodeFrame(payload any) ([]byte, error) {
	switch p := payload.(type) {
	case []byte:
		return p, nil
	case json.RawMessage:
		return p, nil
	}
	buf := bufPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufPool.Put(buf)
	if err := json.NewEncoder(buf).Encode(payload); err != nil {
		return nil, err
	}
	data := buf.Bytes()
	// json.Encoder appends '\n'; trim it for WebSocket text messages.
	if len(data) > 0 && data[len(data)-1] == '\n' {
		data = data[:len(data)-1]
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}
