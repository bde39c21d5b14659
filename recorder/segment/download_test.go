package segment

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liverecorder/liverecorder/logger"
)

type fakeHTTPClient struct {
	responses []*http.Response
	errs      []error
	calls     int
}

func (c *fakeHTTPClient) Do(req *http.Request) (*http.Response, error) {
	i := c.calls
	c.calls++
	if i < len(c.errs) && c.errs[i] != nil {
		return nil, c.errs[i]
	}
	if i < len(c.responses) {
		return c.responses[i], nil
	}
	return c.responses[len(c.responses)-1], nil
}

func respOK(body string) *http.Response {
	return &http.Response{StatusCode: 200, Body: io.NopCloser(strings.NewReader(body))}
}

func TestDownloadWritesBodyToLocalPath(t *testing.T) {
	d := &Downloader{Client: &fakeHTTPClient{responses: []*http.Response{respOK("segment-data")}}, UserAgent: "test", Logger: logger.New()}

	localPath := filepath.Join(t.TempDir(), "seg0.ts")
	n, err := d.Download(context.Background(), "https://example.com/seg0.ts", localPath, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(len("segment-data")), n)

	data, err := os.ReadFile(localPath)
	require.NoError(t, err)
	assert.Equal(t, "segment-data", string(data))
}

func TestDownloadRetriesThenSucceeds(t *testing.T) {
	client := &fakeHTTPClient{
		errs:      []error{errors.New("connection reset"), nil},
		responses: []*http.Response{nil, respOK("ok")},
	}
	d := &Downloader{Client: client, UserAgent: "test", Logger: logger.New()}

	localPath := filepath.Join(t.TempDir(), "seg0.ts")
	_, err := d.Download(context.Background(), "https://example.com/seg0.ts", localPath, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, client.calls)
}

func TestDownloadReturnsErrIOAfterExhaustingAttempts(t *testing.T) {
	client := &fakeHTTPClient{errs: []error{errors.New("down"), errors.New("down"), errors.New("down")}}
	d := &Downloader{Client: client, UserAgent: "test", Logger: logger.New()}

	localPath := filepath.Join(t.TempDir(), "seg0.ts")
	_, err := d.Download(context.Background(), "https://example.com/seg0.ts", localPath, 3)
	require.Error(t, err)
	var ioErr *ErrIO
	assert.ErrorAs(t, err, &ioErr)
	assert.Equal(t, 3, client.calls)
}

func TestDownloadTreatsNon2xxAsFailure(t *testing.T) {
	client := &fakeHTTPClient{responses: []*http.Response{{StatusCode: 404, Body: io.NopCloser(strings.NewReader(""))}}}
	d := &Downloader{Client: client, UserAgent: "test", Logger: logger.New()}

	localPath := filepath.Join(t.TempDir(), "seg0.ts")
	_, err := d.Download(context.Background(), "https://example.com/seg0.ts", localPath, 1)
	assert.Error(t, err)
}
