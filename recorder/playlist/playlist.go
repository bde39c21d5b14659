// Package playlist implements C3, the append-only local VOD HLS media
// playlist a recording session builds while it is still in progress.
package playlist

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// Segment is one entry of the local VOD playlist (spec §3).
type Segment struct {
	AbsoluteSequence uint64
	Duration         float64
	RemoteURI        string
	LocalFilename    string
	Discontinuity    bool
	ProgramDateTime  string
	ByteRange        string
}

// Playlist is C3: an in-memory playlist mirrored to an on-disk
// playlist.m3u8, with an auxiliary URI set for O(1) duplicate detection.
// Guarded by a mutex so a concurrent HTTP reader can serialise a
// consistent snapshot (spec §5).
type Playlist struct {
	mu sync.Mutex

	path string

	version        int
	targetDuration int
	segments       []Segment
	uris           map[string]struct{}
	endList        bool
}

// LoadOrNew implements load_or_new: parses an existing playlist.m3u8 at
// path, or initialises an empty one if it does not exist yet.
func LoadOrNew(path string) (*Playlist, error) {
	p := &Playlist{
		path:    path,
		version: 3,
		uris:    make(map[string]struct{}),
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return p, nil
	}
	if err != nil {
		return nil, fmt.Errorf("playlist: read %s: %w", path, err)
	}

	if err := p.parse(string(data)); err != nil {
		return nil, fmt.Errorf("playlist: parse %s: %w", path, err)
	}
	return p, nil
}

func (p *Playlist) parse(data string) error {
	scanner := bufio.NewScanner(strings.NewReader(data))
	var pending Segment
	haveInf := false
	seq := uint64(0)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "#EXT-X-VERSION:"):
			v, _ := strconv.Atoi(strings.TrimPrefix(line, "#EXT-X-VERSION:"))
			p.version = v
		case strings.HasPrefix(line, "#EXT-X-TARGETDURATION:"):
			td, _ := strconv.Atoi(strings.TrimPrefix(line, "#EXT-X-TARGETDURATION:"))
			p.targetDuration = td
		case strings.HasPrefix(line, "#EXT-X-MEDIA-SEQUENCE:"):
			s, _ := strconv.ParseUint(strings.TrimPrefix(line, "#EXT-X-MEDIA-SEQUENCE:"), 10, 64)
			seq = s
		case strings.HasPrefix(line, "#EXTINF:"):
			raw := strings.TrimPrefix(line, "#EXTINF:")
			raw = strings.TrimSuffix(raw, ",")
			d, _ := strconv.ParseFloat(raw, 64)
			pending = Segment{Duration: d, AbsoluteSequence: seq}
			haveInf = true
		case line == "#EXT-X-DISCONTINUITY":
			pending.Discontinuity = true
		case strings.HasPrefix(line, "#EXT-X-PROGRAM-DATE-TIME:"):
			pending.ProgramDateTime = strings.TrimPrefix(line, "#EXT-X-PROGRAM-DATE-TIME:")
		case strings.HasPrefix(line, "#EXT-X-BYTERANGE:"):
			pending.ByteRange = strings.TrimPrefix(line, "#EXT-X-BYTERANGE:")
		case line == "#EXT-X-ENDLIST":
			p.endList = true
		case strings.HasPrefix(line, "#"):
			// Unknown tag, ignored.
		default:
			if haveInf {
				pending.LocalFilename = line
				pending.RemoteURI = line
				p.segments = append(p.segments, pending)
				p.uris[line] = struct{}{}
				seq++
				haveInf = false
				pending = Segment{}
			}
		}
	}
	return scanner.Err()
}

// Contains reports whether uri has already been appended.
func (p *Playlist) Contains(uri string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.uris[uri]
	return ok
}

// LastSegment returns the most recently appended segment, or false if the
// playlist is empty.
func (p *Playlist) LastSegment() (Segment, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.segments) == 0 {
		return Segment{}, false
	}
	return p.segments[len(p.segments)-1], true
}

// Len returns the number of appended segments.
func (p *Playlist) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.segments)
}

// TotalDuration returns the sum of all appended segment durations
// (invariant 3, spec §8).
func (p *Playlist) TotalDuration() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	var total float64
	for _, s := range p.segments {
		total += s.Duration
	}
	return total
}

// Append pushes a new segment, updates target_duration, and flushes to
// disk. Panics if uri is already present — a programmer error per spec
// §7 ("double-insert" invariant violation), since callers must check
// Contains before Append.
func (p *Playlist) Append(seg Segment) error {
	p.mu.Lock()
	if _, dup := p.uris[seg.LocalFilename]; dup {
		p.mu.Unlock()
		panic(fmt.Sprintf("playlist: double-insert of %s", seg.LocalFilename))
	}
	p.segments = append(p.segments, seg)
	p.uris[seg.LocalFilename] = struct{}{}
	p.bumpTargetDuration(seg.Duration)
	p.mu.Unlock()
	return p.Flush()
}

// AppendToLast implements append_to_last: used only for the §4.6
// corrupted-segment stitch. It adds extraDuration to the last segment's
// duration and flushes; it never touches uri or sequence (invariant 5,
// spec §8).
func (p *Playlist) AppendToLast(extraDuration float64) error {
	p.mu.Lock()
	if len(p.segments) == 0 {
		p.mu.Unlock()
		return fmt.Errorf("playlist: append_to_last on empty playlist")
	}
	last := &p.segments[len(p.segments)-1]
	last.Duration += extraDuration
	p.bumpTargetDuration(last.Duration)
	p.mu.Unlock()
	return p.Flush()
}

func (p *Playlist) bumpTargetDuration(d float64) {
	rounded := int(math.Ceil(d))
	if rounded > p.targetDuration {
		p.targetDuration = rounded
	}
}

// Close marks the playlist as a finished VOD: end_list=true,
// playlist_type=VOD. No further Append/AppendToLast calls are valid
// after Close (spec §3/§8 invariant 4).
func (p *Playlist) Close() error {
	p.mu.Lock()
	p.endList = true
	p.mu.Unlock()
	return p.Flush()
}

// EndList reports whether Close has been called.
func (p *Playlist) EndList() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.endList
}

// TargetDuration returns the current target_duration tag value.
func (p *Playlist) TargetDuration() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.targetDuration
}

// Flush serialises the playlist and atomically writes it to path,
// tolerating concurrent readers the way the teacher's
// store.DownloadM3USource writes a temp file then renames over the
// final path (spec §4.3).
func (p *Playlist) Flush() error {
	p.mu.Lock()
	data := p.render()
	path := p.path
	p.mu.Unlock()

	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("playlist: create dir: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(data), 0o644); err != nil {
		return fmt.Errorf("playlist: write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("playlist: rename temp file: %w", err)
	}
	return nil
}

// render must be called with p.mu held.
func (p *Playlist) render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "#EXTM3U\n")
	fmt.Fprintf(&b, "#EXT-X-VERSION:%d\n", p.version)
	fmt.Fprintf(&b, "#EXT-X-TARGETDURATION:%d\n", p.targetDuration)
	fmt.Fprintf(&b, "#EXT-X-MEDIA-SEQUENCE:0\n")
	if p.endList {
		fmt.Fprintf(&b, "#EXT-X-PLAYLIST-TYPE:VOD\n")
	}
	for _, s := range p.segments {
		if s.Discontinuity {
			b.WriteString("#EXT-X-DISCONTINUITY\n")
		}
		if s.ProgramDateTime != "" {
			fmt.Fprintf(&b, "#EXT-X-PROGRAM-DATE-TIME:%s\n", s.ProgramDateTime)
		}
		if s.ByteRange != "" {
			fmt.Fprintf(&b, "#EXT-X-BYTERANGE:%s\n", s.ByteRange)
		}
		fmt.Fprintf(&b, "#EXTINF:%.3f,\n", s.Duration)
		fmt.Fprintf(&b, "%s\n", s.LocalFilename)
	}
	if p.endList {
		b.WriteString("#EXT-X-ENDLIST\n")
	}
	return b.String()
}
