package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kbinani/screenshot"
)

// ErrNoDisplay is returned by ScreenEngine.Start when no display can be captured.
var ErrNoDisplay = errors.New("capture: no active display")

// ScreenEngine grabs a display with github.com/kbinani/screenshot on a ticker.
type ScreenEngine struct {
	mu     sync.Mutex
	ticker *time.Ticker
}

// NewScreenEngine returns an idle engine.
func NewScreenEngine() *ScreenEngine {
	return &ScreenEngine{}
}

// Start validates the display and starts ticking at s.FPS.
func (e *ScreenEngine) Start(ctx context.Context, s Settings) (Stream, error) {
	n := screenshot.NumActiveDisplays()
	if n == 0 {
		return nil, ErrNoDisplay
	}
	if s.Display < 0 || s.Display >= n {
		return nil, fmt.Errorf("%w: display %d of %d", ErrNoDisplay, s.Display, n)
	}

	interval := time.Duration(float64(time.Second) / s.FPS)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ticker != nil {
		e.ticker.Stop()
	}
	e.ticker = time.NewTicker(interval)

	return &screenStream{display: s.Display, ticks: e.ticker.C}, nil
}

// Stop stops the ticker.
func (e *ScreenEngine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ticker != nil {
		e.ticker.Stop()
		e.ticker = nil
	}
	return nil
}

type screenStream struct {
	display int
	ticks   <-chan time.Time
	started bool
}

// Next grabs immediately on the first call, then on every tick.
func (s *screenStream) Next(ctx context.Context) (*Shot, error) {
	at := time.Now()
	if s.started {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case at = <-s.ticks:
		}
	}
	s.started = true

	img, err := screenshot.CaptureDisplay(s.display)
	if err != nil {
		return nil, fmt.Errorf("capture display %d: %w", s.display, err)
	}
	return &Shot{Image: img, At: at}, nil
}
