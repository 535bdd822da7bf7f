package pipeline

import (
	"context"
	"errors"
	"sync"

	"github.com/teslashibe/go-framescribe/pkg/upload"
)

// Session assembles a run step by step: one source (capturer or uploader),
// an optional processor, then Run. A capture session without a processor
// only captures.
type Session struct {
	runner *Runner

	mu        sync.Mutex
	capture   *CaptureConfig
	hasCap    bool
	upload    string
	processor *ProcessorConfig

	stop     chan struct{}
	stopOnce sync.Once
}

// NewSession returns an empty session executed by r.
func NewSession(r *Runner) *Session {
	return &Session{runner: r, stop: make(chan struct{})}
}

// SetCapturer makes the session capture the screen per cfg.
func (s *Session) SetCapturer(cfg *CaptureConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.upload != "" {
		return &Error{Kind: KindInvalidConfig, Op: "session", Err: errors.New("session already has an uploader")}
	}
	if _, err := NormalizeCapture(cfg); err != nil {
		return err
	}
	s.capture = cfg
	s.hasCap = true
	return nil
}

// SetUploader makes the session process the file at path. The file must
// exist and have a supported extension.
func (s *Session) SetUploader(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hasCap {
		return &Error{Kind: KindInvalidConfig, Op: "session", Err: errors.New("session already has a capturer")}
	}
	if err := checkUpload(path); err != nil {
		return err
	}
	s.upload = path
	return nil
}

// SetProcessor selects the processing engine. nil selects OCR with default
// settings.
func (s *Session) SetProcessor(pc *ProcessorConfig) error {
	cfg := DefaultProcessorConfig()
	if pc != nil {
		cfg = *pc
	}
	if _, err := NormalizeProcessor(cfg); err != nil {
		return err
	}

	s.mu.Lock()
	s.processor = &cfg
	s.mu.Unlock()
	return nil
}

// Run executes the session. It blocks until the source is exhausted, Stop
// is called, or ctx is cancelled.
func (s *Session) Run(ctx context.Context) (*Report, error) {
	s.mu.Lock()
	capCfg, hasCap, path, proc := s.capture, s.hasCap, s.upload, s.processor
	s.mu.Unlock()

	switch {
	case hasCap && proc != nil:
		return s.runner.captureAndProcess(ctx, capCfg, *proc, s.stop)
	case hasCap:
		return s.runner.capture(ctx, capCfg, s.stop)
	case path != "" && proc != nil:
		return s.runner.ProcessFileUpload(ctx, path, *proc)
	case path != "":
		return nil, &Error{Kind: KindInvalidConfig, Op: "session", Err: errors.New("an uploader needs a processor")}
	default:
		return nil, &Error{Kind: KindInvalidConfig, Op: "session", Err: errors.New("no capturer or uploader set")}
	}
}

// Stop ends a running capture gracefully: no new frames are captured and
// frames already captured are still processed. It has no effect on uploads.
func (s *Session) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func checkUpload(path string) error {
	if path == "" {
		return &Error{Kind: KindInvalidConfig, Op: "session", Err: errors.New("empty upload path")}
	}
	if _, err := upload.Check(path); err != nil {
		return classify("upload", 0, err)
	}
	return nil
}
