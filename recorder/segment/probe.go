package segment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
)

// Metadata is C2's media metadata result (spec §3). Equality for the
// resolution-change rule (§4.6) is defined over Width/Height/VideoCodec/
// AudioCodec only; Duration is ignored.
type Metadata struct {
	Duration   float64
	Width      int
	Height     int
	VideoCodec string
	AudioCodec string
}

// Corrupted reports the §4.6 corrupted-segment signal: a probe that could
// not locate a video stream.
func (m Metadata) Corrupted() bool {
	return m.Width == 0 && m.Height == 0
}

// Equal implements the §3 equality used by the resolution-change rule:
// duration is deliberately excluded.
func (m Metadata) Equal(o Metadata) bool {
	return m.Width == o.Width &&
		m.Height == o.Height &&
		m.VideoCodec == o.VideoCodec &&
		m.AudioCodec == o.AudioCodec
}

// ErrProbe is returned only when the inspector process itself fails to
// run, never for malformed media content (spec §4.2).
type ErrProbe struct {
	Path  string
	Cause error
}

func (e *ErrProbe) Error() string {
	return fmt.Sprintf("segment: probe %s failed: %v", e.Path, e.Cause)
}

func (e *ErrProbe) Unwrap() error { return e.Cause }

// ffprobeStream/ffprobeFormat/ffprobeOutput model the subset of
// `ffprobe -print_format json -show_streams -show_format` this probe
// consumes.
type ffprobeStream struct {
	CodecType string `json:"codec_type"`
	CodecName string `json:"codec_name"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

type ffprobeFormat struct {
	Duration string `json:"duration"`
}

type ffprobeOutput struct {
	Streams []ffprobeStream `json:"streams"`
	Format  ffprobeFormat   `json:"format"`
}

// Prober invokes an external media-inspection tool (out of scope per
// spec §1/§4.2) and parses its JSON report into Metadata.
type Prober struct {
	// BinaryPath is the ffprobe executable; defaults to "ffprobe" on PATH.
	BinaryPath string
	// Run executes the probe command and returns its stdout, overridable
	// in tests instead of shelling out to a real binary.
	Run func(ctx context.Context, path string) ([]byte, error)
}

// NewProber builds a Prober that shells out to ffprobe.
func NewProber() *Prober {
	p := &Prober{BinaryPath: "ffprobe"}
	p.Run = p.execFFProbe
	return p
}

func (p *Prober) execFFProbe(ctx context.Context, path string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, p.BinaryPath,
		"-v", "error",
		"-print_format", "json",
		"-show_streams",
		"-show_format",
		path,
	)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return nil, err
	}
	return stdout.Bytes(), nil
}

// Probe returns the media metadata of the segment at path. Deterministic
// on the same bytes; width=height=0 signals a corrupted segment rather
// than a probe failure (spec §4.2).
func (p *Prober) Probe(ctx context.Context, path string) (Metadata, error) {
	out, err := p.Run(ctx, path)
	if err != nil {
		return Metadata{}, &ErrProbe{Path: path, Cause: err}
	}

	var parsed ffprobeOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		// Malformed inspector output is not a probe failure; treat as
		// corrupted media, matching spec's "fails with Probe only on
		// inspector-invocation failure" contract.
		return Metadata{}, nil
	}

	md := Metadata{}
	if parsed.Format.Duration != "" {
		fmt.Sscanf(parsed.Format.Duration, "%f", &md.Duration)
	}
	for _, s := range parsed.Streams {
		switch s.CodecType {
		case "video":
			if md.Width == 0 && md.Height == 0 {
				md.Width = s.Width
				md.Height = s.Height
				md.VideoCodec = s.CodecName
			}
		case "audio":
			if md.AudioCodec == "" {
				md.AudioCodec = s.CodecName
			}
		}
	}
	return md, nil
}
