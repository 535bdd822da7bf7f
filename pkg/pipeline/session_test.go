package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/teslashibe/go-framescribe/pkg/frame"
)

func TestSessionSourcesAreExclusive(t *testing.T) {
	dir := t.TempDir()
	still := writePNG(t, dir, "a.png")

	s := NewSession(NewRunner())
	if err := s.SetCapturer(&CaptureConfig{Duration: f64(1)}); err != nil {
		t.Fatal(err)
	}
	if err := s.SetUploader(still); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("SetUploader after SetCapturer = %v", err)
	}

	s = NewSession(NewRunner())
	if err := s.SetUploader(still); err != nil {
		t.Fatal(err)
	}
	if err := s.SetCapturer(nil); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("SetCapturer after SetUploader = %v", err)
	}
}

func TestSessionValidatesEagerly(t *testing.T) {
	dir := t.TempDir()
	s := NewSession(NewRunner())

	if err := s.SetCapturer(&CaptureConfig{FPS: f64(100)}); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("bad fps: %v", err)
	}
	if err := s.SetUploader(filepath.Join(dir, "missing.png")); !errors.Is(err, ErrFileNotFound) {
		t.Errorf("missing file: %v", err)
	}
	if err := s.SetUploader(writeFile(t, dir, "doc.pdf")); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("pdf: %v", err)
	}
	if err := s.SetUploader(""); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("empty path: %v", err)
	}
	if err := s.SetProcessor(&ProcessorConfig{ProcessingType: "Vision"}); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("vision without config: %v", err)
	}
}

func TestSessionRunUpload(t *testing.T) {
	path := writePNG(t, t.TempDir(), "a.png")
	s := NewSession(NewRunner(WithEngines(engines(&fakeInferer{}))))
	if err := s.SetUploader(path); err != nil {
		t.Fatal(err)
	}

	if _, err := s.Run(context.Background()); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("upload without processor: %v", err)
	}

	if err := s.SetProcessor(nil); err != nil {
		t.Fatal(err)
	}
	rep, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(rep.Frames) != 1 || rep.ProcessingType != frame.OCR {
		t.Errorf("report = %+v", rep)
	}
}

func TestSessionRunEmpty(t *testing.T) {
	if _, err := NewSession(NewRunner()).Run(context.Background()); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("err = %v", err)
	}
}

func TestSessionCaptureOnly(t *testing.T) {
	clock := newClock()
	s := NewSession(NewRunner(captureWith(tickingEngine(clock, time.Second, 0)), WithClock(clock.Now)))
	if err := s.SetCapturer(&CaptureConfig{Duration: f64(2)}); err != nil {
		t.Fatal(err)
	}
	rep, err := s.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if rep.FramesCaptured != 2 || len(rep.Frames) != 0 {
		t.Errorf("captured=%d frames=%d", rep.FramesCaptured, len(rep.Frames))
	}
}

func TestSessionStopEndsUnboundedCapture(t *testing.T) {
	clock := newClock()
	inf := &fakeInferer{}
	s := NewSession(NewRunner(WithEngines(engines(inf)), captureWith(blockingEngine(clock)), WithClock(clock.Now)))
	if err := s.SetCapturer(nil); err != nil {
		t.Fatal(err)
	}
	if err := s.SetProcessor(nil); err != nil {
		t.Fatal(err)
	}

	time.AfterFunc(20*time.Millisecond, s.Stop)

	done := make(chan struct{})
	var rep *Report
	var err error
	go func() {
		rep, err = s.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(rep.Frames) == 0 {
		t.Error("no frames before stop")
	}
	checkCollection(t, rep.Frames, frame.OCR)
	s.Stop()
}
