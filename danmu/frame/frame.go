// Package frame implements C4: the length-prefixed binary framing used
// by the danmaku platforms that speak a custom protocol (spec §3, §4.4).
package frame

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
)

// Version tags the frame body encoding (spec §3).
type Version uint16

const (
	VersionJSON          Version = 0
	VersionHeartbeatReply Version = 1
	VersionZlib          Version = 2
	VersionBrotli        Version = 3
)

// HeaderSize is the fixed 16-byte header length (spec §4.4).
const HeaderSize = 16

// maxRecursionDepth caps the version 2/3 inflate recursion so an
// adversarial payload cannot stack-overflow the decoder (spec §9 design
// note).
const maxRecursionDepth = 4

// Header is the 16-byte big-endian frame header (spec §3).
type Header struct {
	PackLen   uint32
	HeaderLen uint16
	Version   Version
	OpCode    uint32
	Seq       uint32
}

// ErrPackError is spec §4.4/§7's PackError: a truncated or inconsistent
// header, or a malformed frame stream.
type ErrPackError struct {
	Reason string
}

func (e *ErrPackError) Error() string { return "frame: pack error: " + e.Reason }

// ErrUnsupportedProtocol is spec §4.4/§7's UnsupportedProtocol.
type ErrUnsupportedProtocol struct {
	Version Version
}

func (e *ErrUnsupportedProtocol) Error() string {
	return fmt.Sprintf("frame: unsupported protocol version %d", e.Version)
}

// Encode builds the wire bytes for a single version=1 frame carrying
// text as its body (spec §4.4 Encode).
func Encode(text string, opCode uint32) []byte {
	body := []byte(text)
	packLen := HeaderSize + len(body)

	buf := make([]byte, packLen)
	binary.BigEndian.PutUint32(buf[0:4], uint32(packLen))
	binary.BigEndian.PutUint16(buf[4:6], HeaderSize)
	binary.BigEndian.PutUint16(buf[6:8], uint16(VersionHeartbeatReply))
	binary.BigEndian.PutUint32(buf[8:12], opCode)
	binary.BigEndian.PutUint32(buf[12:16], 1)
	copy(buf[HeaderSize:], body)
	return buf
}

func parseHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, &ErrPackError{Reason: "buffer shorter than header"}
	}
	h := Header{
		PackLen:   binary.BigEndian.Uint32(buf[0:4]),
		HeaderLen: binary.BigEndian.Uint16(buf[4:6]),
		Version:   Version(binary.BigEndian.Uint16(buf[6:8])),
		OpCode:    binary.BigEndian.Uint32(buf[8:12]),
		Seq:       binary.BigEndian.Uint32(buf[12:16]),
	}
	if h.PackLen < uint32(h.HeaderLen) || int(h.PackLen) > len(buf) {
		return Header{}, &ErrPackError{Reason: "inconsistent pack_len/header_len"}
	}
	return h, nil
}

// Decode parses buffer into the JSON texts it carries, recursing through
// zlib/brotli wrapping and handling multiple concatenated frames in a
// single message (spec §4.4 Decode).
func Decode(buffer []byte) ([]string, error) {
	return decodeAt(buffer, 0)
}

func decodeAt(buffer []byte, depth int) ([]string, error) {
	if depth > maxRecursionDepth {
		return nil, &ErrPackError{Reason: "recursion depth exceeded"}
	}

	var out []string
	offset := 0
	for offset < len(buffer) {
		h, err := parseHeader(buffer[offset:])
		if err != nil {
			return nil, err
		}
		body := buffer[offset+HeaderSize : offset+int(h.PackLen)]

		msgs, err := decodeBody(h, body, depth)
		if err != nil {
			return nil, err
		}
		out = append(out, msgs...)

		offset += int(h.PackLen)
	}
	return out, nil
}

func decodeBody(h Header, body []byte, depth int) ([]string, error) {
	switch h.Version {
	case VersionJSON:
		return []string{string(body)}, nil
	case VersionHeartbeatReply:
		if len(body) < 4 {
			return nil, &ErrPackError{Reason: "heartbeat reply body too short"}
		}
		count := binary.BigEndian.Uint32(body[:4])
		return []string{fmt.Sprintf(`{"count":%d}`, count)}, nil
	case VersionZlib:
		inflated, err := inflateZlib(body)
		if err != nil {
			return nil, &ErrPackError{Reason: "zlib inflate: " + err.Error()}
		}
		return decodeAt(inflated, depth+1)
	case VersionBrotli:
		inflated, err := inflateBrotli(body)
		if err != nil {
			return nil, &ErrPackError{Reason: "brotli decompress: " + err.Error()}
		}
		return decodeAt(inflated, depth+1)
	default:
		return nil, &ErrUnsupportedProtocol{Version: h.Version}
	}
}

func inflateZlib(body []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func inflateBrotli(body []byte) ([]byte, error) {
	if len(body) == 0 {
		return nil, fmt.Errorf("empty brotli payload")
	}
	r := brotli.NewReader(bytes.NewReader(body))
	return io.ReadAll(r)
}
