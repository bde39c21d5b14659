package frame

import (
	"bytes"
	"compress/gzip"
	"io"

	"google.golang.org/protobuf/encoding/protowire"
)

// Compression is the alternative platform's payload compression tag.
type Compression int32

const (
	CompressionNone    Compression = 0
	CompressionGzip    Compression = 1
	CompressionAES     Compression = 2
	CompressionUnknown Compression = 3
)

// Envelope is the length-prefixed protobuf-wrapped message the
// alternative platform speaks: {payload_type, compression, payload}.
// Encoded with raw protobuf wire primitives (no generated .proto code is
// needed for three scalar/bytes fields).
type Envelope struct {
	PayloadType int32
	Compression Compression
	Payload     []byte
}

const (
	fieldPayloadType = 1
	fieldCompression = 2
	fieldPayload     = 3
)

// EncodeEnvelope serialises e using the standard protobuf wire format.
func EncodeEnvelope(e Envelope) []byte {
	var buf []byte
	buf = protowire.AppendTag(buf, fieldPayloadType, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(int64(e.PayloadType)))
	buf = protowire.AppendTag(buf, fieldCompression, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(int64(e.Compression)))
	buf = protowire.AppendTag(buf, fieldPayload, protowire.BytesType)
	buf = protowire.AppendBytes(buf, e.Payload)
	return buf
}

// DecodeEnvelope parses a raw protobuf-wire Envelope.
func DecodeEnvelope(buf []byte) (Envelope, error) {
	var e Envelope
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return Envelope{}, &ErrPackError{Reason: "envelope: bad tag"}
		}
		buf = buf[n:]

		switch num {
		case fieldPayloadType:
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return Envelope{}, &ErrPackError{Reason: "envelope: bad payload_type"}
			}
			e.PayloadType = int32(v)
			buf = buf[n:]
		case fieldCompression:
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return Envelope{}, &ErrPackError{Reason: "envelope: bad compression"}
			}
			e.Compression = Compression(v)
			buf = buf[n:]
		case fieldPayload:
			v, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return Envelope{}, &ErrPackError{Reason: "envelope: bad payload"}
			}
			e.Payload = append([]byte(nil), v...)
			buf = buf[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, buf)
			if n < 0 {
				return Envelope{}, &ErrPackError{Reason: "envelope: bad field"}
			}
			buf = buf[n:]
		}
	}
	return e, nil
}

// DecodedPayload is one Envelope unwrapped down to its raw inner bytes:
// still domain-specific protobuf (e.g. a feed-push message), left for the
// platform adapter in danmu/provider to interpret.
type DecodedPayload struct {
	PayloadType int32
	Payload     []byte
	Skipped     bool // true when Compression was AES (spec §4.4: skipped with a warning)
}

// DecodeFrame unwraps a single Envelope message, decompressing its
// payload per its Compression tag (spec §4.4's alternative-platform
// framing). AES payloads are reported as Skipped rather than erroring,
// matching the spec's "skipped with a warning" contract; the caller logs
// the warning since only it has a logger in scope.
func DecodeFrame(buffer []byte) (DecodedPayload, error) {
	e, err := DecodeEnvelope(buffer)
	if err != nil {
		return DecodedPayload{}, err
	}

	switch e.Compression {
	case CompressionNone, CompressionUnknown:
		return DecodedPayload{PayloadType: e.PayloadType, Payload: e.Payload}, nil
	case CompressionGzip:
		inflated, err := inflateGzip(e.Payload)
		if err != nil {
			return DecodedPayload{}, &ErrPackError{Reason: "gzip inflate: " + err.Error()}
		}
		return DecodedPayload{PayloadType: e.PayloadType, Payload: inflated}, nil
	case CompressionAES:
		return DecodedPayload{PayloadType: e.PayloadType, Skipped: true}, nil
	default:
		return DecodedPayload{}, &ErrUnsupportedProtocol{Version: Version(e.Compression)}
	}
}

func inflateGzip(body []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
