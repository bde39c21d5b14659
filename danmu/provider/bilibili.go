// Package provider implements C5's per-platform adapters: building the
// enter-room handshake frame and routing decoded JSON/protobuf messages
// by command name to a uniform events.ChatEvent (spec §4.5).
package provider

import (
	"strconv"

	json "github.com/goccy/go-json"

	"github.com/liverecorder/liverecorder/danmu/frame"
	"github.com/liverecorder/liverecorder/events"
)

// bilibiliEnterRoom is the enter-room handshake payload, grounded on
// danmu_stream.rs's bilibili.rs WsSend struct.
type bilibiliEnterRoom struct {
	RoomID   uint64 `json:"roomid"`
	Key      string `json:"key"`
	UID      uint64 `json:"uid"`
	ProtoVer int    `json:"protover"`
	Platform string `json:"platform"`
	Type     int    `json:"type"`
}

// BuildBilibiliHandshake encodes the enter-room frame C5 sends right
// after the WebSocket opens.
func BuildBilibiliHandshake(roomID, uid uint64, key string) ([]byte, error) {
	payload, err := json.Marshal(bilibiliEnterRoom{
		RoomID:   roomID,
		Key:      key,
		UID:      uid,
		ProtoVer: 3,
		Platform: "web",
		Type:     2,
	})
	if err != nil {
		return nil, err
	}
	return frame.Encode(string(payload), 7), nil
}

// bilibiliMessage is the subset of the WsStreamCtx shape C5 needs to
// route a message, grounded on danmu_stream.rs's stream.rs.
type bilibiliMessage struct {
	Cmd  string          `json:"cmd"`
	Info []bilibiliField `json:"info"`
}

// bilibiliField is one entry of the DANMU_MSG "info" tuple; its shape
// varies by index, so it is decoded permissively as either a nested
// array or a scalar.
type bilibiliField struct {
	raw json.RawMessage
}

func (f *bilibiliField) UnmarshalJSON(data []byte) error {
	f.raw = append(json.RawMessage(nil), data...)
	return nil
}

func (f bilibiliField) asArray() ([]json.RawMessage, bool) {
	var arr []json.RawMessage
	if err := json.Unmarshal(f.raw, &arr); err != nil {
		return nil, false
	}
	return arr, true
}

func (f bilibiliField) asString() (string, bool) {
	var s string
	if err := json.Unmarshal(f.raw, &s); err != nil {
		return "", false
	}
	return s, true
}

func rawInt64(m json.RawMessage) (int64, bool) {
	var v int64
	if err := json.Unmarshal(m, &v); err != nil {
		return 0, false
	}
	return v, true
}

func rawString(m json.RawMessage) (string, bool) {
	var v string
	if err := json.Unmarshal(m, &v); err != nil {
		return "", false
	}
	return v, true
}

// BilibiliParser implements danmu.MessageParser for Bilibili's DANMU_MSG
// command, extracting {uid, username, message, color, timestamp} out of
// the nested "info" tuple (grounded exactly on dannmu_msg.rs's field
// indices: info[1]=message, info[2]=[uid,username,...],
// info[0][3]=color, info[0][4]=timestamp).
type BilibiliParser struct {
	Platform string
	RoomID   string
}

func (p BilibiliParser) Parse(raw string) (*events.ChatEvent, bool) {
	var msg bilibiliMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return nil, false
	}
	if msg.Cmd == "" || len(msg.Cmd) < len("DANMU_MSG") || msg.Cmd[:len("DANMU_MSG")] != "DANMU_MSG" {
		return nil, false
	}
	if len(msg.Info) < 3 {
		return nil, false
	}

	message, ok := msg.Info[1].asString()
	if !ok {
		return nil, false
	}

	userTuple, ok := msg.Info[2].asArray()
	if !ok || len(userTuple) < 2 {
		return nil, false
	}
	uid, _ := rawInt64(userTuple[0])
	username, _ := rawString(userTuple[1])

	var color uint32
	var timestampMs int64
	if meta, ok := msg.Info[0].asArray(); ok {
		if len(meta) > 3 {
			if c, ok := rawInt64(meta[3]); ok {
				color = 0xFF000000 | uint32(c)
			}
		}
		if len(meta) > 4 {
			if ts, ok := rawInt64(meta[4]); ok {
				timestampMs = ts
			}
		}
	}

	return &events.ChatEvent{
		Platform:    p.Platform,
		RoomID:      p.RoomID,
		UserID:      strconv.FormatInt(uid, 10),
		UserName:    username,
		Message:     message,
		ColorARGB:   color,
		TimestampMs: timestampMs,
	}, true
}
