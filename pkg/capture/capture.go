// Package capture turns a live screen-capture engine into a bounded,
// numbered sequence of frames.
package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/teslashibe/go-framescribe/pkg/frame"
)

// ErrCapture is wrapped by every engine or pass-through output failure.
var ErrCapture = errors.New("capture: engine failure")

// Settings are handed to the engine on Start.
type Settings struct {
	FPS     float64
	Display int
}

// Shot is a single grab from the engine.
type Shot struct {
	Image image.Image
	At    time.Time
}

// Stream yields shots at the configured rate. Next returns io.EOF when the
// engine has nothing more to give.
type Stream interface {
	Next(ctx context.Context) (*Shot, error)
}

// Engine is a platform capture backend.
type Engine interface {
	Start(ctx context.Context, s Settings) (Stream, error)
	Stop() error
}

// Recorder receives every captured image, e.g. to write video chunks.
type Recorder interface {
	Add(img image.Image) error
	Close() error
}

// Options configure a capture Source.
type Options struct {
	// RunID names saved screenshots.
	RunID string

	// FPS is the capture rate. Must be positive.
	FPS float64

	// Duration bounds the run. Zero means until the context is cancelled.
	Duration time.Duration

	// Quality is 100 for PNG payloads, lower for JPEG at that quality.
	Quality int

	// ScreenshotDir, when set, receives every frame as an image file.
	ScreenshotDir string

	// Recorder, when set, receives every captured image.
	Recorder Recorder

	Display int
	Logger  *slog.Logger

	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

// Source is a frame.Source over a running capture engine.
type Source struct {
	opts     Options
	engine   Engine
	stream   Stream
	deadline time.Time
	n        uint64
	logger   *slog.Logger

	closeOnce sync.Once
	closeErr  error
	closed    bool
}

// Open starts engine and returns a source positioned before frame 1.
// A start failure is reported before any frame and leaves nothing running.
func Open(ctx context.Context, engine Engine, opts Options) (*Source, error) {
	if opts.FPS <= 0 {
		return nil, fmt.Errorf("capture: fps must be positive, got %v", opts.FPS)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	stream, err := engine.Start(ctx, Settings{FPS: opts.FPS, Display: opts.Display})
	if err != nil {
		if opts.Recorder != nil {
			opts.Recorder.Close()
		}
		return nil, fmt.Errorf("%w: start: %v", ErrCapture, err)
	}

	s := &Source{
		opts:   opts,
		engine: engine,
		stream: stream,
		logger: opts.Logger.With("component", "capture", "run", opts.RunID),
	}
	if opts.Duration > 0 {
		s.deadline = opts.Now().Add(opts.Duration)
	}

	s.logger.Debug("capture started", "fps", opts.FPS, "duration", opts.Duration)
	return s, nil
}

// Next returns the next frame, io.EOF once the duration bound has passed, or
// an error wrapping ErrCapture if the engine fails.
func (s *Source) Next(ctx context.Context) (*frame.Raw, error) {
	if s.closed {
		return nil, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	waitCtx := ctx
	if !s.deadline.IsZero() {
		if !s.opts.Now().Before(s.deadline) {
			return nil, io.EOF
		}
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithDeadline(ctx, s.deadline)
		defer cancel()
	}

	shot, err := s.stream.Next(waitCtx)
	switch {
	case err == nil:
	case errors.Is(err, io.EOF):
		return nil, io.EOF
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case waitCtx.Err() != nil:
		// The duration bound elapsed while waiting for the engine.
		return nil, io.EOF
	default:
		return nil, fmt.Errorf("%w: %v", ErrCapture, err)
	}

	at := shot.At
	if at.IsZero() {
		at = s.opts.Now()
	}

	payload, mimeType, err := frame.Encode(shot.Image, s.opts.Quality)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCapture, err)
	}

	s.n++
	if err := s.passThrough(shot.Image, payload, mimeType); err != nil {
		return nil, err
	}

	return frame.NewRaw(s.n, at, payload, mimeType), nil
}

func (s *Source) passThrough(img image.Image, payload []byte, mimeType string) error {
	if s.opts.ScreenshotDir != "" {
		name := fmt.Sprintf("screenshot-%s-%d%s", s.opts.RunID, s.n, frame.Extension(mimeType))
		if err := os.WriteFile(filepath.Join(s.opts.ScreenshotDir, name), payload, 0o644); err != nil {
			return fmt.Errorf("%w: save screenshot: %v", ErrCapture, err)
		}
	}
	if s.opts.Recorder != nil {
		if err := s.opts.Recorder.Add(img); err != nil {
			return fmt.Errorf("%w: record: %v", ErrCapture, err)
		}
	}
	return nil
}

// Frames returns how many frames have been emitted.
func (s *Source) Frames() uint64 { return s.n }

// Close stops the engine and the recorder. It is safe to call more than once.
func (s *Source) Close() error {
	s.closeOnce.Do(func() {
		s.closed = true
		var errs []error
		if err := s.engine.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop engine: %w", err))
		}
		if s.opts.Recorder != nil {
			if err := s.opts.Recorder.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close recorder: %w", err))
			}
		}
		s.closeErr = errors.Join(errs...)
		s.logger.Debug("capture stopped", "frames", s.n)
	})
	return s.closeErr
}

var _ frame.Source = (*Source)(nil)
