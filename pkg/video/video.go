// Package video defines image frame sources that feed the session's frame
// gate, such as a webcam snapshot or a screen capture written to disk.
package video

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"time"
)

// DefaultPollInterval is how often a [FileSource] checks its file.
const DefaultPollInterval = time.Second

// Frame is one encoded image.
type Frame struct {
	MIMEType   string
	Data       []byte
	CapturedAt time.Time
}

// Source produces frames. Next blocks until a new frame is available or ctx
// ends.
type Source interface {
	Next(ctx context.Context) (Frame, error)
	Close() error
}

// FileSource yields the contents of an image file every time it changes.
// An external capture tool is expected to overwrite the file in place.
type FileSource struct {
	path     string
	interval time.Duration
	mimeType string

	modTime time.Time
	last    []byte
}

var _ Source = (*FileSource)(nil)

// NewFileSource creates a FileSource polling path every interval. The MIME
// type is derived from the extension and defaults to image/jpeg.
func NewFileSource(path string, interval time.Duration) *FileSource {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	mt := mime.TypeByExtension(filepath.Ext(path))
	if mt == "" {
		mt = "image/jpeg"
	}
	return &FileSource{path: path, interval: interval, mimeType: mt}
}

// Next implements [Source]. A missing file is not an error; the source waits
// for it to appear.
func (s *FileSource) Next(ctx context.Context) (Frame, error) {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		f, ok, err := s.poll()
		if err != nil {
			return Frame{}, err
		}
		if ok {
			return f, nil
		}
		select {
		case <-ctx.Done():
			return Frame{}, ctx.Err()
		case <-t.C:
		}
	}
}

func (s *FileSource) poll() (Frame, bool, error) {
	info, err := os.Stat(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return Frame{}, false, nil
	}
	if err != nil {
		return Frame{}, false, fmt.Errorf("video: stat %s: %w", s.path, err)
	}
	if info.ModTime().Equal(s.modTime) {
		return Frame{}, false, nil
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return Frame{}, false, fmt.Errorf("video: read %s: %w", s.path, err)
	}
	if len(data) == 0 {
		return Frame{}, false, nil
	}
	s.modTime = info.ModTime()
	if bytes.Equal(data, s.last) {
		return Frame{}, false, nil
	}
	s.last = data
	return Frame{MIMEType: s.mimeType, Data: data, CapturedAt: info.ModTime()}, true, nil
}

// Close implements [Source].
func (s *FileSource) Close() error { return nil }
