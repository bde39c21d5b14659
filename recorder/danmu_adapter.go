package recorder

import (
	"github.com/liverecorder/liverecorder/danmu"
	"github.com/liverecorder/liverecorder/danmu/frame"
	"github.com/liverecorder/liverecorder/danmu/provider"
	"github.com/liverecorder/liverecorder/logger"
	"github.com/liverecorder/liverecorder/platform"
)

// FrameDecodeFunc matches danmu.Config.FrameDecode's signature.
type FrameDecodeFunc func(data []byte) ([]string, error)

// DanmuAdapterFunc resolves the per-platform pieces C5 needs to parse the
// messages it receives: a MessageParser and the frame-unwrap function
// (§4.4's 16-byte header framing for most platforms, the protobuf
// envelope for the one platform that speaks it).
type DanmuAdapterFunc func(plat platform.Platform, roomID string, log logger.Logger) (danmu.MessageParser, FrameDecodeFunc)

// DefaultDanmuAdapter wires the three implemented platform adapters from
// danmu/provider. Huya and YouTube have no documented custom-binary
// danmaku protocol in scope (spec §1), so they fall back to the flat
// JSON shape the Douyin adapter already handles.
func DefaultDanmuAdapter(plat platform.Platform, roomID string, log logger.Logger) (danmu.MessageParser, FrameDecodeFunc) {
	switch plat {
	case platform.Bilibili:
		return provider.BilibiliParser{Platform: plat.String(), RoomID: roomID}, frame.Decode
	case platform.Kuaishou:
		return provider.KuaishouParser{Platform: plat.String(), RoomID: roomID}, provider.DecodeKuaishouFrame(log)
	default:
		return provider.DouyinParser{Platform: plat.String(), RoomID: roomID}, frame.Decode
	}
}
