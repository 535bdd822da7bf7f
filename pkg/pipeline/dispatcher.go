package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/go-framescribe/internal/metrics"
	"github.com/teslashibe/go-framescribe/pkg/frame"
	"github.com/teslashibe/go-framescribe/pkg/ocr"
	"github.com/teslashibe/go-framescribe/pkg/vision"
)

// Inferer turns one frame into content. ocr.Engine and *vision.Engine
// satisfy it.
type Inferer interface {
	Infer(ctx context.Context, raw *frame.Raw) (frame.Output, error)
}

// EngineFactory builds the engine a Processor selects. If the returned
// Inferer is also an io.Closer it is closed when the run ends.
type EngineFactory func(ctx context.Context, p Processor) (Inferer, error)

// DefaultEngines builds tesseract/Cloud Vision OCR engines and
// OpenAI/Gemini vision engines.
func DefaultEngines(logger *slog.Logger, hc *http.Client) EngineFactory {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, p Processor) (Inferer, error) {
		switch p := p.(type) {
		case OCRProcessor:
			return ocr.New(ctx, p.Settings, ocr.WithLogger(logger), ocr.WithHTTPClient(hc))
		case VisionProcessor:
			return vision.New(p.Settings, vision.WithLogger(logger), vision.WithHTTPClient(hc))
		default:
			return nil, fmt.Errorf("unknown processor %T", p)
		}
	}
}

// Policy decides what a run does when a single frame fails.
type Policy int

const (
	// FailFast aborts the run on the first failed frame.
	FailFast Policy = iota

	// Partial records failed frames and keeps going. A source that fails
	// mid-stream ends the run with the frames produced so far.
	Partial
)

func (p Policy) String() string {
	if p == Partial {
		return "partial"
	}
	return "fail-fast"
}

// ParsePolicy accepts "fail-fast" or "partial".
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "fail-fast":
		return FailFast, nil
	case "partial":
		return Partial, nil
	}
	return FailFast, fmt.Errorf("unknown failure policy %q", s)
}

// FrameFailure records a frame dropped under the Partial policy.
type FrameFailure struct {
	FrameNumber uint64 `json:"frame_number"`
	Timestamp   string `json:"timestamp"`
	Error       string `json:"error"`
}

// Dispatcher runs one inference engine over frames.
type Dispatcher struct {
	engine Inferer
	pt     frame.ProcessingType
}

// NewDispatcher binds engine to the processing type it produces.
func NewDispatcher(engine Inferer, pt frame.ProcessingType) *Dispatcher {
	return &Dispatcher{engine: engine, pt: pt}
}

// Process infers one frame and releases its payload. The returned record
// carries the frame's number and timestamp unchanged.
func (d *Dispatcher) Process(ctx context.Context, raw *frame.Raw) (frame.ImageData, error) {
	defer raw.Release()

	metrics.ActiveWorkers.Inc()
	start := time.Now()
	out, err := d.engine.Infer(ctx, raw)
	metrics.ActiveWorkers.Dec()
	metrics.StageDuration.WithLabelValues("infer").Observe(time.Since(start).Seconds())

	if err != nil {
		if ctx.Err() != nil {
			return frame.ImageData{}, &Error{Kind: KindCanceled, Op: "process", Frame: raw.Number, Err: ctx.Err()}
		}
		metrics.FrameFailuresTotal.WithLabelValues(d.pt.String()).Inc()
		return frame.ImageData{}, &Error{Kind: KindProcessingError, Op: "process", Frame: raw.Number, Err: err}
	}

	metrics.FramesProcessedTotal.WithLabelValues(d.pt.String()).Inc()
	return frame.ImageData{
		Timestamp:      raw.Timestamp,
		FrameNumber:    raw.Number,
		Content:        out.Content,
		ProcessingType: d.pt,
		Regions:        out.Regions,
	}, nil
}

// drain is the outcome of pumping a source through a dispatcher.
type drain struct {
	frames    frame.Collection
	failed    []FrameFailure
	pulled    uint64
	sourceErr error
}

type job struct {
	seq int
	raw *frame.Raw
}

type result struct {
	seq       int
	number    uint64
	timestamp string
	data      frame.ImageData
	err       error
}

// pump pulls frames from src, processes up to workers of them concurrently
// and assembles the results in source order. observe is called once per
// assembled frame, in order. Closing stop ends the source gracefully: frames
// already pulled are still processed.
func pump(ctx context.Context, src frame.Source, d *Dispatcher, workers int, policy Policy,
	stop <-chan struct{}, observe func(frame.ImageData), logger *slog.Logger) (*drain, error) {

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	jobs := make(chan job, workers)
	results := make(chan result, workers)
	out := &drain{}

	// The source gets its own context so that stop ends capture without
	// cancelling in-flight inference.
	srcCtx, srcCancel := context.WithCancel(gctx)
	defer srcCancel()
	if stop != nil {
		go func() {
			select {
			case <-stop:
				srcCancel()
			case <-srcCtx.Done():
			}
		}()
	}

	g.Go(func() error {
		defer close(jobs)
		for seq := 0; ; seq++ {
			raw, err := src.Next(srcCtx)
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				if isClosed(stop) && gctx.Err() == nil {
					logger.Debug("source stopped", "frames", out.pulled)
					return nil
				}
				err = classify("source", out.pulled+1, err)
				if policy == Partial && KindOf(err) != KindCanceled {
					logger.Warn("source failed mid-stream, keeping frames", "frames", out.pulled, "error", err)
					out.sourceErr = err
					return nil
				}
				return err
			}
			out.pulled++
			select {
			case jobs <- job{seq: seq, raw: raw}:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		g.Go(func() error {
			defer wg.Done()
			for j := range jobs {
				number, ts := j.raw.Number, j.raw.Timestamp
				data, err := d.Process(gctx, j.raw)
				if err != nil && (policy == FailFast || KindOf(err) == KindCanceled) {
					return err
				}
				select {
				case results <- result{seq: j.seq, number: number, timestamp: ts, data: data, err: err}:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	asm := NewAssembler(d.pt)
	var asmErr error
	pending := make(map[int]result)
	next := 0
	for r := range results {
		if asmErr != nil {
			continue
		}
		pending[r.seq] = r
		for {
			r, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)
			next++

			if r.err != nil {
				logger.Warn("frame failed", "frame", r.number, "error", r.err)
				out.failed = append(out.failed, FrameFailure{FrameNumber: r.number, Timestamp: r.timestamp, Error: r.err.Error()})
				continue
			}
			if err := asm.Add(r.data); err != nil {
				asmErr = err
				cancel()
				break
			}
			if observe != nil {
				observe(r.data)
			}
		}
	}

	err := g.Wait()
	if asmErr != nil {
		return nil, asmErr
	}
	if err != nil {
		// A cancelled group context means the parent was cancelled.
		return nil, classify("source", 0, err)
	}

	frames, err := asm.Collection()
	if err != nil {
		return nil, err
	}
	out.frames = frames
	return out, nil
}
