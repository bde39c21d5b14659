package segment

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProbeParsesVideoAndAudioStreams(t *testing.T) {
	p := &Prober{Run: func(ctx context.Context, path string) ([]byte, error) {
		return []byte(`{
			"streams": [
				{"codec_type":"video","codec_name":"h264","width":1280,"height":720},
				{"codec_type":"audio","codec_name":"aac"}
			],
			"format": {"duration":"6.006000"}
		}`), nil
	}}

	md, err := p.Probe(context.Background(), "seg0.ts")
	require.NoError(t, err)
	assert.Equal(t, 1280, md.Width)
	assert.Equal(t, 720, md.Height)
	assert.Equal(t, "h264", md.VideoCodec)
	assert.Equal(t, "aac", md.AudioCodec)
	assert.InDelta(t, 6.006, md.Duration, 1e-6)
	assert.False(t, md.Corrupted())
}

func TestProbeReturnsCorruptedMetadataWhenNoVideoStream(t *testing.T) {
	p := &Prober{Run: func(ctx context.Context, path string) ([]byte, error) {
		return []byte(`{"streams": [{"codec_type":"audio","codec_name":"aac"}], "format": {"duration":"1.0"}}`), nil
	}}

	md, err := p.Probe(context.Background(), "seg0.ts")
	require.NoError(t, err)
	assert.True(t, md.Corrupted())
}

func TestProbeReturnsErrProbeOnRunFailure(t *testing.T) {
	p := &Prober{Run: func(ctx context.Context, path string) ([]byte, error) {
		return nil, errors.New("exec: ffprobe not found")
	}}

	_, err := p.Probe(context.Background(), "seg0.ts")
	require.Error(t, err)
	var probeErr *ErrProbe
	assert.ErrorAs(t, err, &probeErr)
}

func TestProbeTreatsMalformedOutputAsCorruptedNotError(t *testing.T) {
	p := &Prober{Run: func(ctx context.Context, path string) ([]byte, error) {
		return []byte("not json"), nil
	}}

	md, err := p.Probe(context.Background(), "seg0.ts")
	require.NoError(t, err)
	assert.True(t, md.Corrupted())
}

func TestMetadataEqualIgnoresDuration(t *testing.T) {
	a := Metadata{Duration: 6, Width: 1280, Height: 720, VideoCodec: "h264", AudioCodec: "aac"}
	b := Metadata{Duration: 5.9, Width: 1280, Height: 720, VideoCodec: "h264", AudioCodec: "aac"}
	c := Metadata{Duration: 6, Width: 640, Height: 360, VideoCodec: "h264", AudioCodec: "aac"}

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}
