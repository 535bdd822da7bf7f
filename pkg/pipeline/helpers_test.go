package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/teslashibe/go-framescribe/pkg/capture"
	"github.com/teslashibe/go-framescribe/pkg/frame"
	"github.com/teslashibe/go-framescribe/pkg/upload"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// fakeInferer records calls and answers with InferFunc, or "text <n>".
type fakeInferer struct {
	InferFunc func(ctx context.Context, raw *frame.Raw) (frame.Output, error)

	mu     sync.Mutex
	calls  []uint64
	closed int
}

func (f *fakeInferer) Infer(ctx context.Context, raw *frame.Raw) (frame.Output, error) {
	f.mu.Lock()
	f.calls = append(f.calls, raw.Number)
	f.mu.Unlock()

	if len(raw.Payload) == 0 {
		return frame.Output{}, errors.New("empty payload")
	}
	if f.InferFunc != nil {
		return f.InferFunc(ctx, raw)
	}
	return frame.Output{Content: fmt.Sprintf("text %d", raw.Number)}, nil
}

func (f *fakeInferer) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeInferer) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func engines(inf *fakeInferer) EngineFactory {
	return func(ctx context.Context, p Processor) (Inferer, error) { return inf, nil }
}

type fakeStream struct {
	NextFunc func(ctx context.Context) (*capture.Shot, error)
}

func (s *fakeStream) Next(ctx context.Context) (*capture.Shot, error) { return s.NextFunc(ctx) }

type fakeEngine struct {
	StartFunc func(ctx context.Context, s capture.Settings) (capture.Stream, error)
	stream    capture.Stream

	mu    sync.Mutex
	stops int
}

func (e *fakeEngine) Start(ctx context.Context, s capture.Settings) (capture.Stream, error) {
	if e.StartFunc != nil {
		return e.StartFunc(ctx, s)
	}
	return e.stream, nil
}

func (e *fakeEngine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stops++
	return nil
}

func (e *fakeEngine) Stops() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stops
}

func testImage() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	return img
}

// tickingEngine grabs one shot per call and advances clock by step.
// failAt > 0 makes the failAt-th grab fail.
func tickingEngine(clock *fakeClock, step time.Duration, failAt int) *fakeEngine {
	n := 0
	return &fakeEngine{stream: &fakeStream{NextFunc: func(ctx context.Context) (*capture.Shot, error) {
		n++
		if failAt > 0 && n == failAt {
			return nil, errors.New("display went away")
		}
		at := clock.Now()
		clock.Advance(step)
		return &capture.Shot{Image: testImage(), At: at}, nil
	}}}
}

// blockingEngine produces shots until its context is cancelled.
func blockingEngine(clock *fakeClock) *fakeEngine {
	return &fakeEngine{stream: &fakeStream{NextFunc: func(ctx context.Context) (*capture.Shot, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Millisecond):
		}
		return &capture.Shot{Image: testImage(), At: clock.Now()}, nil
	}}}
}

func captureWith(e *fakeEngine) Option {
	return WithCaptureEngine(func() capture.Engine { return e })
}

// fakeDecoder yields n PNG frames, then err (or EOF).
type fakeDecoder struct {
	n   int
	err error
}

func (d *fakeDecoder) Open(ctx context.Context, path string) (upload.Stream, error) {
	return &videoStream{left: d.n, err: d.err}, nil
}

type videoStream struct {
	left int
	err  error
}

func (s *videoStream) Next(ctx context.Context) (*frame.Raw, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.left == 0 {
		if s.err != nil {
			return nil, s.err
		}
		return nil, io.EOF
	}
	s.left--
	payload, mime, err := frame.Encode(testImage(), frame.LosslessQuality)
	if err != nil {
		return nil, err
	}
	return &frame.Raw{Payload: payload, MimeType: mime}, nil
}

func (s *videoStream) Close() error { return nil }

func writePNG(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, testImage()); err != nil {
		t.Fatal(err)
	}
	return path
}

func writeFile(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("fake video"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func f64(v float64) *float64 { return &v }

func intp(v int) *int { return &v }

// checkCollection verifies the ordering, timestamp and type properties of a
// run's frames.
func checkCollection(t *testing.T, c frame.Collection, pt frame.ProcessingType) {
	t.Helper()
	var last uint64
	for i, d := range c {
		if d.FrameNumber < 1 || d.FrameNumber <= last {
			t.Errorf("element %d: frame_number %d after %d", i, d.FrameNumber, last)
		}
		last = d.FrameNumber
		if d.Timestamp == "" {
			t.Errorf("element %d: empty timestamp", i)
		} else if _, err := time.Parse(frame.TimestampLayout, d.Timestamp); err != nil {
			t.Errorf("element %d: timestamp %q: %v", i, d.Timestamp, err)
		}
		if d.ProcessingType != pt {
			t.Errorf("element %d: processing_type %s, want %s", i, d.ProcessingType, pt)
		}
	}
}
