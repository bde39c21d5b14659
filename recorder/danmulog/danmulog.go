// Package danmulog implements the work directory's danmu.txt file: an
// append-only record of chat messages for one live session, preloaded on
// open to support "since start of session" queries (spec §6 Danmaku
// storage file format).
package danmulog

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"sync"
)

// Record is one decoded line of danmu.txt.
type Record struct {
	TimestampMs int64
	Content     string
}

// Log is grounded on recorder/playlist's load-or-new + append-and-flush
// idiom (C3), applied to a flat line format instead of an HLS playlist.
type Log struct {
	mu      sync.Mutex
	file    *os.File
	records []Record
}

// Open loads any existing records at path, then opens it for appending.
func Open(path string) (*Log, error) {
	records, err := loadExisting(path)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &Log{file: f, records: records}, nil
}

func loadExisting(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	records := make([]Record, 0, len(lines))
	for _, line := range lines {
		if line == "" {
			continue
		}
		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			continue
		}
		ts, err := strconv.ParseInt(line[:idx], 10, 64)
		if err != nil {
			continue
		}
		records = append(records, Record{TimestampMs: ts, Content: line[idx+1:]})
	}
	return records, nil
}

// Append writes one line and records it in memory.
func (l *Log) Append(timestampMs int64, content string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	line := strconv.FormatInt(timestampMs, 10) + ":" + content + "\n"
	if _, err := l.file.WriteString(line); err != nil {
		return err
	}
	l.records = append(l.records, Record{TimestampMs: timestampMs, Content: content})
	return nil
}

// Records returns a snapshot of every record preloaded or appended so far.
func (l *Log) Records() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Record, len(l.records))
	copy(out, l.records)
	return out
}

// Close closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}
