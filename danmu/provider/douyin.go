package provider

import (
	json "github.com/goccy/go-json"

	"github.com/liverecorder/liverecorder/danmu/frame"
	"github.com/liverecorder/liverecorder/events"
)

// douyinEnterRoom is a simplified enter-room handshake payload for
// platforms that, unlike Bilibili, speak plain JSON command messages
// rather than the binary info-tuple shape (spec §3's "version=0" leg of
// the frame codec).
type douyinEnterRoom struct {
	RoomID string `json:"room_id"`
	UserID string `json:"user_id"`
}

// BuildDouyinHandshake encodes a plain JSON enter-room frame.
func BuildDouyinHandshake(roomID, userID string) ([]byte, error) {
	payload, err := json.Marshal(douyinEnterRoom{RoomID: roomID, UserID: userID})
	if err != nil {
		return nil, err
	}
	return frame.Encode(string(payload), 1), nil
}

// douyinChatMessage is the flat chat-message shape for JSON-native
// platforms: one command tag plus a flat payload, unlike Bilibili's
// positional "info" tuple.
type douyinChatMessage struct {
	Method string `json:"method"`
	Data   struct {
		UserID    string `json:"user_id"`
		Nickname  string `json:"nickname"`
		Content   string `json:"content"`
		Color     uint32 `json:"color"`
		Timestamp int64  `json:"timestamp_ms"`
	} `json:"data"`
}

// DouyinParser implements danmu.MessageParser for the flat
// method/data chat shape.
type DouyinParser struct {
	Platform string
	RoomID   string
}

func (p DouyinParser) Parse(raw string) (*events.ChatEvent, bool) {
	var msg douyinChatMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return nil, false
	}
	if msg.Method != "WebcastChatMessage" {
		return nil, false
	}
	return &events.ChatEvent{
		Platform:    p.Platform,
		RoomID:      p.RoomID,
		UserID:      msg.Data.UserID,
		UserName:    msg.Data.Nickname,
		Message:     msg.Data.Content,
		ColorARGB:   msg.Data.Color,
		TimestampMs: msg.Data.Timestamp,
	}, true
}
