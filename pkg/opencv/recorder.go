// Package opencv holds the gocv-backed pieces of framescribe: the video
// recorder used during screen capture and the default video decoder for
// uploads. It is the only package that links OpenCV.
package opencv

import (
	"fmt"
	"image"
	"log/slog"
	"math"
	"path/filepath"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// Codec is the FourCC written into recorded chunks.
const Codec = "MJPG"

// Recorder writes captured images into fixed-length AVI chunks named
// capture-<run>-<chunk>.avi.
type Recorder struct {
	dir      string
	runID    string
	fps      float64
	perChunk int
	logger   *slog.Logger

	mu     sync.Mutex
	writer *gocv.VideoWriter
	size   image.Point
	chunk  int
	count  int
	closed bool
}

// NewRecorder returns a recorder that rotates to a new file every chunk of
// wall time, measured in frames at fps.
func NewRecorder(dir, runID string, fps float64, chunk time.Duration, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		dir:      dir,
		runID:    runID,
		fps:      fps,
		perChunk: FramesPerChunk(fps, chunk),
		logger:   logger.With("component", "opencv.recorder", "run", runID),
	}
}

// FramesPerChunk is the number of frames at fps that fill chunk, at least one.
func FramesPerChunk(fps float64, chunk time.Duration) int {
	n := int(math.Round(fps * chunk.Seconds()))
	if n < 1 {
		return 1
	}
	return n
}

// ChunkPath returns the file name of chunk n.
func (r *Recorder) ChunkPath(n int) string {
	return filepath.Join(r.dir, fmt.Sprintf("capture-%s-%d.avi", r.runID, n))
}

// Add appends img to the current chunk, starting a new chunk when the current
// one is full or the image size changed.
func (r *Recorder) Add(img image.Image) error {
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return fmt.Errorf("convert image: %w", err)
	}
	defer mat.Close()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("recorder closed")
	}

	size := image.Pt(mat.Cols(), mat.Rows())
	if r.writer == nil || r.count >= r.perChunk || size != r.size {
		if err := r.rotate(size); err != nil {
			return err
		}
	}

	if err := r.writer.Write(mat); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	r.count++
	return nil
}

func (r *Recorder) rotate(size image.Point) error {
	if r.writer != nil {
		if err := r.writer.Close(); err != nil {
			return fmt.Errorf("close chunk %d: %w", r.chunk, err)
		}
	}

	r.chunk++
	path := r.ChunkPath(r.chunk)
	w, err := gocv.VideoWriterFile(path, Codec, r.fps, size.X, size.Y, true)
	if err != nil {
		r.writer = nil
		return fmt.Errorf("open %s: %w", path, err)
	}
	if !w.IsOpened() {
		w.Close()
		r.writer = nil
		return fmt.Errorf("open %s: writer not opened", path)
	}

	r.writer, r.size, r.count = w, size, 0
	r.logger.Debug("video chunk started", "path", path, "width", size.X, "height", size.Y)
	return nil
}

// Chunks returns how many chunk files have been started.
func (r *Recorder) Chunks() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.chunk
}

// Close finishes the current chunk. It is safe to call more than once.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if r.writer == nil {
		return nil
	}
	err := r.writer.Close()
	r.writer = nil
	return err
}
