package upload

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/teslashibe/go-framescribe/pkg/frame"
)

// FFmpegDecoder decodes videos with an ffmpeg subprocess that streams PNG
// frames over a pipe. ffprobe checks the container first.
type FFmpegDecoder struct {
	// FFmpegPath and FFprobePath default to the binaries on PATH.
	FFmpegPath  string
	FFprobePath string

	// FPS resamples the video. Zero keeps every native frame.
	FPS float64

	Logger *slog.Logger
}

// Open probes path and starts ffmpeg.
func (d *FFmpegDecoder) Open(ctx context.Context, path string) (Stream, error) {
	ffmpeg, ffprobe := d.FFmpegPath, d.FFprobePath
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	if ffprobe == "" {
		ffprobe = "ffprobe"
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if err := probe(ctx, ffprobe, path); err != nil {
		return nil, err
	}

	cmd := exec.Command(ffmpeg, FFmpegArgs(path, d.FPS)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	logger.Debug("ffmpeg started", "pid", cmd.Process.Pid, "fps", d.FPS)
	return &ffmpegStream{cmd: cmd, out: bufio.NewReaderSize(stdout, 256*1024), stderr: &stderr}, nil
}

// FFmpegArgs returns the ffmpeg arguments that decode path to a PNG pipe.
func FFmpegArgs(path string, fps float64) []string {
	args := []string{"-nostdin", "-v", "error", "-i", path}
	if fps > 0 {
		args = append(args, "-vf", "fps="+strconv.FormatFloat(fps, 'f', -1, 64))
	}
	return append(args, "-f", "image2pipe", "-vcodec", "png", "pipe:1")
}

func probe(ctx context.Context, ffprobe, path string) error {
	out, err := exec.CommandContext(ctx, ffprobe,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=codec_type",
		"-of", "csv=p=0",
		path,
	).Output()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("%w: ffprobe: %s", ErrUnsupportedFormat, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return fmt.Errorf("ffprobe: %w", err)
	}
	if !strings.Contains(string(out), "video") {
		return fmt.Errorf("%w: no video stream", ErrUnsupportedFormat)
	}
	return nil
}

type ffmpegStream struct {
	cmd    *exec.Cmd
	out    *bufio.Reader
	stderr *bytes.Buffer

	mu     sync.Mutex
	waited bool
	err    error
}

func (s *ffmpegStream) Next(ctx context.Context) (*frame.Raw, error) {
	stop := context.AfterFunc(ctx, s.kill)
	defer stop()

	img, err := ReadPNG(s.out)
	if err == nil {
		return &frame.Raw{Payload: img, MimeType: frame.MimePNG}, nil
	}
	if ctx.Err() != nil {
		s.wait()
		return nil, ctx.Err()
	}
	if !errors.Is(err, io.EOF) {
		s.kill()
		s.wait()
		return nil, err
	}

	if werr := s.wait(); werr != nil {
		return nil, fmt.Errorf("%w: ffmpeg: %v: %s", ErrDecode, werr, strings.TrimSpace(s.stderr.String()))
	}
	return nil, io.EOF
}

func (s *ffmpegStream) kill() {
	if s.cmd.Process != nil {
		s.cmd.Process.Kill()
	}
}

func (s *ffmpegStream) wait() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.waited {
		s.waited = true
		s.err = s.cmd.Wait()
	}
	return s.err
}

// Close kills ffmpeg if it is still running and reaps it.
func (s *ffmpegStream) Close() error {
	s.mu.Lock()
	waited := s.waited
	s.mu.Unlock()
	if waited {
		return nil
	}
	s.kill()
	s.wait()
	return nil
}

var pngSignature = []byte("\x89PNG\r\n\x1a\n")

// ReadPNG reads exactly one PNG image from r, chunk by chunk up to IEND.
// It returns io.EOF when r is exhausted at an image boundary.
func ReadPNG(r *bufio.Reader) ([]byte, error) {
	sig := make([]byte, len(pngSignature))
	if n, err := io.ReadFull(r, sig); err != nil {
		if n == 0 && errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("%w: truncated png signature", ErrDecode)
	}
	if !bytes.Equal(sig, pngSignature) {
		return nil, fmt.Errorf("%w: bad png signature", ErrDecode)
	}

	var buf bytes.Buffer
	buf.Write(sig)
	header := make([]byte, 8)
	for {
		if _, err := io.ReadFull(r, header); err != nil {
			return nil, fmt.Errorf("%w: truncated png chunk header", ErrDecode)
		}
		length := binary.BigEndian.Uint32(header[:4])
		if length > 1<<30 {
			return nil, fmt.Errorf("%w: png chunk too large", ErrDecode)
		}
		buf.Write(header)
		if _, err := io.CopyN(&buf, r, int64(length)+4); err != nil {
			return nil, fmt.Errorf("%w: truncated png chunk", ErrDecode)
		}
		if string(header[4:]) == "IEND" {
			return buf.Bytes(), nil
		}
	}
}
