// Package upload extracts frames from a video or still image on disk.
package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "golang.org/x/image/webp"

	"github.com/teslashibe/go-framescribe/pkg/frame"
)

// Sentinel errors. Every Open and Next failure wraps one of them.
var (
	ErrFileNotFound      = errors.New("upload: file not found")
	ErrUnsupportedFormat = errors.New("upload: unsupported format")
	ErrDecode            = errors.New("upload: decode failed")
)

// Kind classifies an input file.
type Kind int

const (
	Still Kind = iota + 1
	Video
)

func (k Kind) String() string {
	switch k {
	case Still:
		return "still"
	case Video:
		return "video"
	}
	return "unknown"
}

var extensions = map[string]Kind{
	".png":  Still,
	".jpg":  Still,
	".jpeg": Still,
	".webp": Still,
	".mp4":  Video,
	".mov":  Video,
	".mkv":  Video,
	".avi":  Video,
	".webm": Video,
}

// Classify maps a path's extension to a Kind. Matching ignores case.
func Classify(path string) (Kind, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if k, ok := extensions[ext]; ok {
		return k, nil
	}
	if ext == "" {
		return 0, fmt.Errorf("%w: %s has no extension", ErrUnsupportedFormat, path)
	}
	return 0, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
}

// Check verifies that path names an existing regular file of a supported kind.
func Check(path string) (Kind, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrFileNotFound, err)
	}
	if info.IsDir() {
		return 0, fmt.Errorf("%w: %s is a directory", ErrFileNotFound, path)
	}
	return Classify(path)
}

// Stream yields encoded video frames. Only Payload and MimeType of the
// returned frames are meaningful; Source assigns numbers and timestamps.
type Stream interface {
	Next(ctx context.Context) (*frame.Raw, error)
	Close() error
}

// Decoder opens video files.
type Decoder interface {
	Open(ctx context.Context, path string) (Stream, error)
}

// Options configure a Source.
type Options struct {
	Logger *slog.Logger

	// Now is the clock used for extraction timestamps. Defaults to time.Now.
	Now func() time.Time
}

// Source is a frame.Source over one file. It is not restartable; open the
// file again to re-decode from the start.
type Source struct {
	path   string
	kind   Kind
	opts   Options
	logger *slog.Logger

	still  *frame.Raw
	stream Stream
	n      uint64

	closeOnce sync.Once
	closeErr  error
}

// Open validates path and prepares extraction. Stills are decoded here, so an
// undecodable still fails before any frame is produced. Videos are handed to dec.
func Open(ctx context.Context, path string, dec Decoder, opts Options) (*Source, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	kind, err := Check(path)
	if err != nil {
		return nil, err
	}

	s := &Source{
		path:   path,
		kind:   kind,
		opts:   opts,
		logger: opts.Logger.With("component", "upload", "file", filepath.Base(path), "kind", kind.String()),
	}

	switch kind {
	case Still:
		payload, mimeType, err := decodeStill(path)
		if err != nil {
			return nil, err
		}
		s.still = &frame.Raw{Payload: payload, MimeType: mimeType}
	case Video:
		if dec == nil {
			return nil, fmt.Errorf("%w: no video decoder configured", ErrUnsupportedFormat)
		}
		stream, err := dec.Open(ctx, path)
		if err != nil {
			if errors.Is(err, ErrFileNotFound) || errors.Is(err, ErrUnsupportedFormat) || errors.Is(err, ErrDecode) {
				return nil, err
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
		}
		s.stream = stream
	}

	s.logger.Debug("upload opened")
	return s, nil
}

// decodeStill reads and verifies an image. PNG and JPEG bytes pass through
// untouched; other formats are re-encoded as PNG.
func decodeStill(path string) ([]byte, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrFileNotFound, err)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %s: %v", ErrDecode, filepath.Base(path), err)
	}

	switch format {
	case "png":
		return data, frame.MimePNG, nil
	case "jpeg":
		return data, frame.MimeJPEG, nil
	}

	payload, mimeType, err := frame.Encode(img, frame.LosslessQuality)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return payload, mimeType, nil
}

// Kind reports whether the source is a still or a video.
func (s *Source) Kind() Kind { return s.kind }

// Next returns the next frame or io.EOF.
func (s *Source) Next(ctx context.Context) (*frame.Raw, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if s.kind == Still {
		if s.still == nil {
			return nil, io.EOF
		}
		raw := s.still
		s.still = nil
		s.n = 1
		raw.Number = 1
		raw.Timestamp = frame.FormatTimestamp(s.opts.Now())
		return raw, nil
	}

	raw, err := s.stream.Next(ctx)
	if err != nil {
		switch {
		case errors.Is(err, io.EOF):
			return nil, io.EOF
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case errors.Is(err, ErrDecode), errors.Is(err, ErrUnsupportedFormat):
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	s.n++
	raw.Number = s.n
	raw.Timestamp = frame.FormatTimestamp(s.opts.Now())
	return raw, nil
}

// Frames returns how many frames have been emitted.
func (s *Source) Frames() uint64 { return s.n }

// Close releases the decoder. It is safe to call more than once.
func (s *Source) Close() error {
	s.closeOnce.Do(func() {
		s.still = nil
		if s.stream != nil {
			s.closeErr = s.stream.Close()
		}
		s.logger.Debug("upload closed", "frames", s.n)
	})
	return s.closeErr
}

var _ frame.Source = (*Source)(nil)
