package ocr

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"

	"github.com/teslashibe/go-framescribe/pkg/frame"
)

// Tesseract runs the tesseract CLI once per frame, feeding the image on stdin.
type Tesseract struct {
	cfg    Config
	path   string
	logger *slog.Logger
}

// NewTesseract resolves the binary and returns an engine.
func NewTesseract(cfg Config, path string, logger *slog.Logger) (*Tesseract, error) {
	resolved, err := exec.LookPath(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}
	return &Tesseract{cfg: cfg, path: resolved, logger: logger}, nil
}

// Args returns the command-line arguments for cfg, excluding the binary.
func Args(cfg Config) []string {
	args := []string{"stdin", "stdout"}
	if cfg.PSM != nil {
		args = append(args, "--psm", strconv.Itoa(*cfg.PSM))
	}
	if cfg.OEM != nil {
		args = append(args, "--oem", strconv.Itoa(*cfg.OEM))
	}
	if cfg.DPI > 0 {
		args = append(args, "--dpi", strconv.Itoa(cfg.DPI))
	}
	if len(cfg.Languages) > 0 {
		args = append(args, "-l", strings.Join(cfg.Languages, "+"))
	}
	if cfg.BoundingBoxes {
		args = append(args, "tsv")
	}
	return args
}

// Infer recognizes the text in one frame.
func (t *Tesseract) Infer(ctx context.Context, raw *frame.Raw) (frame.Output, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, t.path, Args(t.cfg)...)
	cmd.Stdin = bytes.NewReader(raw.Payload)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return frame.Output{}, ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return frame.Output{}, fmt.Errorf("ocr: tesseract exited %d: %s",
				exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
		}
		return frame.Output{}, fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}

	if !t.cfg.BoundingBoxes {
		return frame.Output{Content: strings.TrimSpace(stdout.String())}, nil
	}

	out, err := ParseTSV(&stdout)
	if err != nil {
		return frame.Output{}, err
	}
	t.logger.Debug("frame recognized", "frame", raw.Number, "words", len(out.Regions))
	return out, nil
}

// Close implements Engine.
func (t *Tesseract) Close() error { return nil }

type lineKey struct{ page, block, par, line int }

// ParseTSV reads tesseract TSV output. Word rows become regions; text is
// rebuilt with one line per tesseract line and a blank line between blocks.
func ParseTSV(r io.Reader) (frame.Output, error) {
	var (
		out     frame.Output
		text    strings.Builder
		cur     lineKey
		started bool
	)

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	header := true
	for sc.Scan() {
		if header {
			header = false
			if strings.HasPrefix(sc.Text(), "level") {
				continue
			}
		}
		cols := strings.Split(sc.Text(), "\t")
		if len(cols) < 12 || cols[0] != "5" {
			continue
		}
		word := strings.TrimSpace(cols[11])
		if word == "" {
			continue
		}

		var nums [10]int
		for i := 1; i < len(nums); i++ {
			n, err := strconv.Atoi(cols[i])
			if err != nil {
				return frame.Output{}, fmt.Errorf("ocr: tsv column %d: %w", i, err)
			}
			nums[i] = n
		}
		conf, err := strconv.ParseFloat(cols[10], 64)
		if err != nil {
			return frame.Output{}, fmt.Errorf("ocr: tsv confidence: %w", err)
		}

		key := lineKey{page: nums[1], block: nums[2], par: nums[3], line: nums[4]}
		switch {
		case !started:
			started = true
		case key.page != cur.page || key.block != cur.block:
			text.WriteString("\n\n")
		case key != cur:
			text.WriteByte('\n')
		default:
			text.WriteByte(' ')
		}
		text.WriteString(word)
		cur = key

		region := frame.Region{
			Text:   word,
			X:      nums[6],
			Y:      nums[7],
			Width:  nums[8],
			Height: nums[9],
		}
		if conf >= 0 {
			region.Confidence = conf / 100
		}
		out.Regions = append(out.Regions, region)
	}
	if err := sc.Err(); err != nil {
		return frame.Output{}, fmt.Errorf("ocr: read tsv: %w", err)
	}

	out.Content = text.String()
	return out, nil
}
