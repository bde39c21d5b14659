package provider

import (
	json "github.com/goccy/go-json"

	"github.com/liverecorder/liverecorder/danmu/frame"
	"github.com/liverecorder/liverecorder/events"
	"github.com/liverecorder/liverecorder/logger"
)

// kuaishouEnterRoom/kuaishouHeartbeat are the protobuf-enveloped
// messages the alternative platform's handshake and heartbeat carry
// (spec §4.4's "alternative platform ... protocol-buffer payloads").
// Their own field contents are platform-specific and opaque to this
// adapter beyond what they need to round-trip through frame.Envelope;
// this module does not attempt to reconstruct that platform's full
// nested feed-comment schema without its .proto definition (see
// DESIGN.md).
const (
	payloadTypeEnterRoom = 1
	payloadTypeHeartbeat = 2
	payloadTypeFeedPush  = 3
)

// BuildKuaishouHandshake wraps an opaque enter-room payload (built by the
// caller from its own token/live_stream_id/page_id) in the protobuf
// envelope frame.
func BuildKuaishouHandshake(payload []byte) []byte {
	return frame.EncodeEnvelope(frame.Envelope{
		PayloadType: payloadTypeEnterRoom,
		Compression: frame.CompressionNone,
		Payload:     payload,
	})
}

// BuildKuaishouHeartbeat wraps an empty heartbeat payload in the same
// envelope framing (spec §4.5: "every 20-30s send an op-2 or
// protocol-equivalent empty frame").
func BuildKuaishouHeartbeat() []byte {
	return frame.EncodeEnvelope(frame.Envelope{
		PayloadType: payloadTypeHeartbeat,
		Compression: frame.CompressionNone,
	})
}

// kuaishouFeedPush is the JSON shape this adapter expects once a feed-push
// envelope's payload has been decompressed — a simplification of the
// platform's real nested protobuf message, chosen because no .proto
// schema for it was available to ground an exact field-by-field decode.
type kuaishouFeedPush struct {
	Comments []struct {
		UserID   string `json:"user_id"`
		UserName string `json:"user_name"`
		Content  string `json:"content"`
		Color    uint32 `json:"color"`
		TimeMs   int64  `json:"time_ms"`
	} `json:"comments"`
}

// DecodeKuaishouFrame unwraps one raw WebSocket message using the
// protobuf envelope (not C4's 16-byte header framing) and returns the
// JSON texts of any feed-push comments it carries, suitable as a
// danmu.Config.FrameDecode implementation. AES-compressed envelopes are
// logged and skipped rather than erroring, matching spec §4.4.
func DecodeKuaishouFrame(log logger.Logger) func([]byte) ([]string, error) {
	return func(data []byte) ([]string, error) {
		decoded, err := frame.DecodeFrame(data)
		if err != nil {
			return nil, err
		}
		if decoded.Skipped {
			log.Warnf("kuaishou: skipping AES-compressed payload_type=%d", decoded.PayloadType)
			return nil, nil
		}
		if decoded.PayloadType != payloadTypeFeedPush {
			return nil, nil
		}

		var feed kuaishouFeedPush
		if err := json.Unmarshal(decoded.Payload, &feed); err != nil {
			return nil, &frame.ErrPackError{Reason: "kuaishou feed-push: " + err.Error()}
		}

		msgs := make([]string, 0, len(feed.Comments))
		for _, c := range feed.Comments {
			chatJSON, err := json.Marshal(struct {
				Method  string `json:"method"`
				Content string `json:"content"`
				UserID  string `json:"user_id"`
				Name    string `json:"user_name"`
				Color   uint32 `json:"color"`
				TimeMs  int64  `json:"time_ms"`
			}{
				Method:  "kuaishou.feed_push",
				Content: c.Content,
				UserID:  c.UserID,
				Name:    c.UserName,
				Color:   c.Color,
				TimeMs:  c.TimeMs,
			})
			if err != nil {
				continue
			}
			msgs = append(msgs, string(chatJSON))
		}
		return msgs, nil
	}
}

// KuaishouParser implements danmu.MessageParser for the synthetic chat
// JSON DecodeKuaishouFrame emits.
type KuaishouParser struct {
	Platform string
	RoomID   string
}

func (p KuaishouParser) Parse(raw string) (*events.ChatEvent, bool) {
	var msg struct {
		Method  string `json:"method"`
		Content string `json:"content"`
		UserID  string `json:"user_id"`
		Name    string `json:"user_name"`
		Color   uint32 `json:"color"`
		TimeMs  int64  `json:"time_ms"`
	}
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return nil, false
	}
	if msg.Method != "kuaishou.feed_push" {
		return nil, false
	}
	return &events.ChatEvent{
		Platform:    p.Platform,
		RoomID:      p.RoomID,
		UserID:      msg.UserID,
		UserName:    msg.Name,
		Message:     msg.Content,
		ColorARGB:   msg.Color,
		TimestampMs: msg.TimeMs,
	}, true
}
