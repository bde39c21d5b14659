package hls

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
)

// RemoteSegment is one entry parsed out of the platform's remote media
// playlist, before it has been downloaded (spec §3 "Segment").
type RemoteSegment struct {
	URI             string
	Duration        float64
	Discontinuity   bool
	ProgramDateTime string
	ByteRange       string
}

// MediaPlaylist is the parsed form of the remote media playlist fetched
// each tick (spec §3 "Remote HLS playlist").
type MediaPlaylist struct {
	MediaSequence uint64
	Segments      []RemoteSegment
	EndList       bool
}

// ErrParseFailed is spec §4.6/§7's ParseFailed: the response was neither
// a usable master nor media playlist.
type ErrParseFailed struct {
	Reason string
}

func (e *ErrParseFailed) Error() string { return "hls: parse failed: " + e.Reason }

// IsMaster reports whether data looks like an HLS master playlist (it
// declares variant streams rather than media segments).
func IsMaster(data []byte) bool {
	return strings.Contains(string(data), "#EXT-X-STREAM-INF")
}

// FirstVariantURI returns the URI of the first variant in a master
// playlist, generalized from the teacher's m3u/parser.go line-oriented
// scanning idiom to HLS tags. Spec §9 notes quality negotiation beyond
// "pick the first variant" is explicitly out of scope.
func FirstVariantURI(data []byte) (string, error) {
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	sawStreamInf := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#EXT-X-STREAM-INF") {
			sawStreamInf = true
			continue
		}
		if sawStreamInf && !strings.HasPrefix(line, "#") {
			return line, nil
		}
	}
	return "", &ErrParseFailed{Reason: "master playlist has no variant URI"}
}

// ParseMediaPlaylist parses a remote media playlist, generalizing the
// teacher's m3u/parser.go attribute-line scanning approach to HLS tags
// (spec §4.6 step 2-3).
func ParseMediaPlaylist(data []byte) (*MediaPlaylist, error) {
	mp := &MediaPlaylist{}
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	var pending RemoteSegment
	haveInf := false
	sawAnyTag := false

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		switch {
		case strings.HasPrefix(line, "#EXTM3U"):
			sawAnyTag = true
		case strings.HasPrefix(line, "#EXT-X-MEDIA-SEQUENCE:"):
			sawAnyTag = true
			v, err := strconv.ParseUint(strings.TrimPrefix(line, "#EXT-X-MEDIA-SEQUENCE:"), 10, 64)
			if err != nil {
				return nil, &ErrParseFailed{Reason: fmt.Sprintf("bad media sequence: %v", err)}
			}
			mp.MediaSequence = v
		case strings.HasPrefix(line, "#EXTINF:"):
			sawAnyTag = true
			raw := strings.TrimSuffix(strings.TrimPrefix(line, "#EXTINF:"), ",")
			raw = strings.SplitN(raw, ",", 2)[0]
			d, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return nil, &ErrParseFailed{Reason: fmt.Sprintf("bad EXTINF: %v", err)}
			}
			pending = RemoteSegment{Duration: d}
			haveInf = true
		case line == "#EXT-X-DISCONTINUITY":
			pending.Discontinuity = true
		case strings.HasPrefix(line, "#EXT-X-PROGRAM-DATE-TIME:"):
			pending.ProgramDateTime = strings.TrimPrefix(line, "#EXT-X-PROGRAM-DATE-TIME:")
		case strings.HasPrefix(line, "#EXT-X-BYTERANGE:"):
			pending.ByteRange = strings.TrimPrefix(line, "#EXT-X-BYTERANGE:")
		case line == "#EXT-X-ENDLIST":
			mp.EndList = true
		case strings.HasPrefix(line, "#"):
			// Unknown tag, including #EXT-X-VERSION/#EXT-X-TARGETDURATION,
			// ignored.
		default:
			if haveInf {
				pending.URI = line
				mp.Segments = append(mp.Segments, pending)
				haveInf = false
				pending = RemoteSegment{}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, &ErrParseFailed{Reason: err.Error()}
	}
	if !sawAnyTag {
		return nil, &ErrParseFailed{Reason: "not an HLS playlist"}
	}
	return mp, nil
}

// SegmentFilename derives the local on-disk filename for a remote
// segment URI: strip query string and directory components (spec §4.6
// step 4a).
func SegmentFilename(uri string) string {
	if idx := strings.IndexByte(uri, '?'); idx >= 0 {
		uri = uri[:idx]
	}
	if idx := strings.LastIndexByte(uri, '/'); idx >= 0 {
		uri = uri[idx+1:]
	}
	return uri
}
