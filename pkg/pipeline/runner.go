// Package pipeline turns screen captures and uploaded files into ordered
// collections of OCR or Vision results.
package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-framescribe/internal/metrics"
	"github.com/teslashibe/go-framescribe/pkg/capture"
	"github.com/teslashibe/go-framescribe/pkg/frame"
	"github.com/teslashibe/go-framescribe/pkg/upload"
)

// Run sources.
const (
	SourceCapture = "capture"
	SourceUpload  = "upload"
)

// Report is the result of one run.
type Report struct {
	RunID          uuid.UUID            `json:"run_id"`
	Source         string               `json:"source"`
	Input          string               `json:"input,omitempty"`
	ProcessingType frame.ProcessingType `json:"processing_type,omitempty"`
	Frames         frame.Collection     `json:"frames"`
	FramesCaptured uint64               `json:"frames_captured"`
	Failed         []FrameFailure       `json:"failed,omitempty"`
	SourceErr      string               `json:"source_error,omitempty"`
	StartedAt      time.Time            `json:"started_at"`
	FinishedAt     time.Time            `json:"finished_at"`
}

// RecorderFactory opens a video recorder for a capture run.
type RecorderFactory func(dir, runID string, fps float64, chunk time.Duration, logger *slog.Logger) capture.Recorder

// Observer sees every assembled frame of a run, in order.
type Observer func(runID uuid.UUID, d frame.ImageData)

// Runner executes capture and upload runs.
type Runner struct {
	logger        *slog.Logger
	workers       int
	policy        Policy
	engines       EngineFactory
	httpClient    *http.Client
	captureEngine func() capture.Engine
	decoder       upload.Decoder
	recorders     RecorderFactory
	observer      Observer
	now           func() time.Time
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithWorkers sets how many frames are inferred concurrently. Defaults to 1.
func WithWorkers(n int) Option {
	return func(r *Runner) { r.workers = n }
}

// WithPolicy sets the per-frame failure policy. Defaults to FailFast.
func WithPolicy(p Policy) Option {
	return func(r *Runner) { r.policy = p }
}

// WithEngines replaces the inference engine factory.
func WithEngines(f EngineFactory) Option {
	return func(r *Runner) { r.engines = f }
}

// WithHTTPClient sets the client the default engines use for remote
// providers. Ignored when WithEngines is set.
func WithHTTPClient(hc *http.Client) Option {
	return func(r *Runner) { r.httpClient = hc }
}

// WithCaptureEngine replaces the screen capture backend.
func WithCaptureEngine(f func() capture.Engine) Option {
	return func(r *Runner) { r.captureEngine = f }
}

// WithDecoder sets the video decoder for uploads.
func WithDecoder(d upload.Decoder) Option {
	return func(r *Runner) { r.decoder = d }
}

// WithRecorders enables save_video_to. Without it, capture runs that ask
// for video are rejected.
func WithRecorders(f RecorderFactory) Option {
	return func(r *Runner) { r.recorders = f }
}

// WithObserver registers a callback for every assembled frame.
func WithObserver(o Observer) Option {
	return func(r *Runner) { r.observer = o }
}

// WithClock sets the clock used for capture bounds and timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// NewRunner returns a Runner capturing the screen and decoding videos with
// ffmpeg.
func NewRunner(opts ...Option) *Runner {
	r := &Runner{
		logger:        slog.Default(),
		workers:       1,
		policy:        FailFast,
		captureEngine: func() capture.Engine { return capture.NewScreenEngine() },
		decoder:       &upload.FFmpegDecoder{},
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.engines == nil {
		r.engines = DefaultEngines(r.logger, r.httpClient)
	}
	r.workers = min(max(r.workers, 1), runtime.NumCPU()*4)
	r.logger = r.logger.With("component", "pipeline")
	return r
}

// CaptureAndProcess captures the screen per cfg and processes every frame.
// A nil cfg captures at the defaults until ctx is cancelled.
func (r *Runner) CaptureAndProcess(ctx context.Context, cfg *CaptureConfig, pc ProcessorConfig) (*Report, error) {
	return r.captureAndProcess(ctx, cfg, pc, nil)
}

func (r *Runner) captureAndProcess(ctx context.Context, cfg *CaptureConfig, pc ProcessorConfig, stop <-chan struct{}) (rep *Report, err error) {
	rep = r.newReport(SourceCapture, "")
	defer r.finish(rep, &err)

	eff, proc, err := Normalize(cfg, pc)
	if err != nil {
		return nil, err
	}
	rep.ProcessingType = proc.Type()
	logger := r.logger.With("run", rep.RunID.String(), "source", SourceCapture, "processing_type", proc.Type().String())
	if name := ignoredConfig(pc); name != "" {
		logger.Debug("ignoring unused engine config", "config", name)
	}

	engine, err := r.openEngine(ctx, proc)
	if err != nil {
		return nil, err
	}
	defer closeEngine(engine, logger)

	src, err := r.openCapture(ctx, rep.RunID, eff, logger)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	logger.Info("capture run started", "fps", eff.FPS, "duration", eff.Duration, "workers", r.workers)
	if err := r.process(ctx, rep, src, engine, proc.Type(), stop, logger); err != nil {
		return nil, err
	}
	rep.FramesCaptured = src.Frames()
	return rep, nil
}

// ProcessFileUpload decodes the file at path and processes every frame.
// A still image yields exactly one frame.
func (r *Runner) ProcessFileUpload(ctx context.Context, path string, pc ProcessorConfig) (rep *Report, err error) {
	rep = r.newReport(SourceUpload, path)
	defer r.finish(rep, &err)

	proc, err := NormalizeProcessor(pc)
	if err != nil {
		return nil, err
	}
	rep.ProcessingType = proc.Type()
	logger := r.logger.With("run", rep.RunID.String(), "source", SourceUpload, "processing_type", proc.Type().String())
	if name := ignoredConfig(pc); name != "" {
		logger.Debug("ignoring unused engine config", "config", name)
	}

	// The file is checked before an engine is built so a bad path fails
	// without starting tesseract or dialing a provider.
	if _, err := upload.Check(path); err != nil {
		return nil, classify("upload", 0, err)
	}

	engine, err := r.openEngine(ctx, proc)
	if err != nil {
		return nil, err
	}
	defer closeEngine(engine, logger)

	start := time.Now()
	src, err := upload.Open(ctx, path, r.decoder, upload.Options{Logger: logger, Now: r.now})
	metrics.StageDuration.WithLabelValues("open").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, classify("upload", 0, err)
	}
	defer src.Close()

	logger.Info("upload run started", "kind", src.Kind().String(), "workers", r.workers)
	if err := r.process(ctx, rep, src, engine, proc.Type(), nil, logger); err != nil {
		return nil, err
	}
	rep.FramesCaptured = src.Frames()
	return rep, nil
}

// Capture runs a capture without processing: screenshots and video chunks
// are written per cfg and the report carries no frames.
func (r *Runner) Capture(ctx context.Context, cfg *CaptureConfig) (*Report, error) {
	return r.capture(ctx, cfg, nil)
}

func (r *Runner) capture(ctx context.Context, cfg *CaptureConfig, stop <-chan struct{}) (rep *Report, err error) {
	rep = r.newReport(SourceCapture, "")
	defer r.finish(rep, &err)

	eff, err := NormalizeCapture(cfg)
	if err != nil {
		return nil, err
	}
	logger := r.logger.With("run", rep.RunID.String(), "source", SourceCapture)

	src, err := r.openCapture(ctx, rep.RunID, eff, logger)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	srcCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if stop != nil {
		go func() {
			select {
			case <-stop:
				cancel()
			case <-srcCtx.Done():
			}
		}()
	}

	logger.Info("capture started", "fps", eff.FPS, "duration", eff.Duration)
	for {
		raw, err := src.Next(srcCtx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if isClosed(stop) && ctx.Err() == nil {
				break
			}
			err = classify("capture", src.Frames()+1, err)
			if r.policy == Partial && KindOf(err) != KindCanceled {
				rep.SourceErr = err.Error()
				break
			}
			return nil, err
		}
		raw.Release()
	}
	rep.FramesCaptured = src.Frames()
	return rep, nil
}

func (r *Runner) process(ctx context.Context, rep *Report, src frame.Source, engine Inferer, pt frame.ProcessingType,
	stop <-chan struct{}, logger *slog.Logger) error {

	var observe func(frame.ImageData)
	if r.observer != nil {
		observe = func(d frame.ImageData) { r.observer(rep.RunID, d) }
	}

	out, err := pump(ctx, src, NewDispatcher(engine, pt), r.workers, r.policy, stop, observe, logger)
	if err != nil {
		return err
	}
	rep.Frames = out.frames
	rep.Failed = out.failed
	if out.sourceErr != nil {
		rep.SourceErr = out.sourceErr.Error()
	}
	return nil
}

func (r *Runner) newReport(source, input string) *Report {
	metrics.ActiveRuns.Inc()
	return &Report{
		RunID:     uuid.New(),
		Source:    source,
		Input:     input,
		Frames:    frame.Collection{},
		StartedAt: r.now().UTC(),
	}
}

func (r *Runner) finish(rep *Report, err *error) {
	metrics.ActiveRuns.Dec()
	rep.FinishedAt = r.now().UTC()
	metrics.StageDuration.WithLabelValues("run").Observe(rep.FinishedAt.Sub(rep.StartedAt).Seconds())

	if *err != nil {
		*err = classify("run", 0, *err)
		var pe *Error
		if errors.As(*err, &pe) && pe.RunID == uuid.Nil {
			pe.RunID = rep.RunID
		}
	}

	status := "ok"
	switch {
	case *err != nil:
		status = KindOf(*err).String()
	case rep.SourceErr != "" || len(rep.Failed) > 0:
		status = "partial"
	}
	metrics.RunsTotal.WithLabelValues(rep.Source, status).Inc()

	logger := r.logger.With("run", rep.RunID.String(), "source", rep.Source)
	if *err != nil {
		logger.Warn("run failed", "error", *err)
		return
	}
	logger.Info("run finished",
		"frames", len(rep.Frames),
		"failed", len(rep.Failed),
		"elapsed", rep.FinishedAt.Sub(rep.StartedAt).Round(time.Millisecond))
}

func (r *Runner) openEngine(ctx context.Context, proc Processor) (Inferer, error) {
	engine, err := r.engines(ctx, proc)
	if err != nil {
		// An engine that cannot start is a processing failure, not a bug.
		if e := classify("engine", 0, err); KindOf(e) != KindInternalError {
			return nil, e
		}
		return nil, &Error{Kind: KindProcessingError, Op: "engine", Err: err}
	}
	return engine, nil
}

func (r *Runner) openCapture(ctx context.Context, runID uuid.UUID, eff *EffectiveCapture, logger *slog.Logger) (*capture.Source, error) {
	var rec capture.Recorder
	if eff.VideoDir != "" {
		if r.recorders == nil {
			return nil, &Error{Kind: KindInvalidConfig, Op: "capture", Err: errors.New("save_video_to: video recording is not available")}
		}
		rec = r.recorders(eff.VideoDir, runID.String(), eff.FPS, eff.ChunkDuration, logger)
	}

	src, err := capture.Open(ctx, r.captureEngine(), capture.Options{
		RunID:         runID.String(),
		FPS:           eff.FPS,
		Duration:      eff.Duration,
		Quality:       eff.Quality,
		ScreenshotDir: eff.ScreenshotDir,
		Recorder:      rec,
		Logger:        logger,
		Now:           r.now,
	})
	if err != nil {
		return nil, classify("capture", 0, err)
	}
	return src, nil
}

func closeEngine(engine Inferer, logger *slog.Logger) {
	if c, ok := engine.(io.Closer); ok {
		if err := c.Close(); err != nil {
			logger.Warn("engine close failed", "error", err)
		}
	}
}

func isClosed(ch <-chan struct{}) bool {
	if ch == nil {
		return false
	}
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
