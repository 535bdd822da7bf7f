// Package frame defines the records that flow through a framescribe run:
// raw frames produced by a capture or upload source and the per-frame
// results assembled into a Collection.
package frame

import (
	"context"
	"fmt"
	"time"
)

// TimestampLayout is the layout used for every frame timestamp.
const TimestampLayout = time.RFC3339Nano

// ProcessingType identifies the engine that produced a frame's content.
type ProcessingType string

const (
	// OCR extracts machine-readable text from the frame.
	OCR ProcessingType = "OCR"

	// Vision asks a vision-capable model to describe the frame.
	Vision ProcessingType = "Vision"
)

// ParseProcessingType resolves s against the known processing types.
// Matching is case-sensitive.
func ParseProcessingType(s string) (ProcessingType, error) {
	switch ProcessingType(s) {
	case OCR, Vision:
		return ProcessingType(s), nil
	default:
		return "", fmt.Errorf("unknown processing type %q", s)
	}
}

// String implements fmt.Stringer.
func (p ProcessingType) String() string {
	return string(p)
}

// Raw is a single frame as emitted by a source.
type Raw struct {
	// Timestamp is the capture or extraction instant (TimestampLayout).
	Timestamp string

	// Number starts at 1 and increases strictly within a run.
	Number uint64

	// Payload is the encoded image. It is owned by the source until the
	// frame is handed to the dispatcher.
	Payload []byte

	// MimeType describes Payload, e.g. "image/png".
	MimeType string
}

// NewRaw builds a frame stamped at t.
func NewRaw(number uint64, t time.Time, payload []byte, mimeType string) *Raw {
	return &Raw{
		Timestamp: FormatTimestamp(t),
		Number:    number,
		Payload:   payload,
		MimeType:  mimeType,
	}
}

// Release drops the payload so it can be collected.
func (r *Raw) Release() {
	r.Payload = nil
}

// FormatTimestamp renders t in UTC using TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// Source is a lazy, finite, ordered sequence of frames.
// Next returns io.EOF once the sequence is exhausted.
type Source interface {
	Next(ctx context.Context) (*Raw, error)
	Close() error
}

// Region is a piece of recognized text and where it was found.
type Region struct {
	Text       string  `json:"text"`
	X          int     `json:"x"`
	Y          int     `json:"y"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Output is what an inference engine derives from one frame.
type Output struct {
	Content string
	Regions []Region
}
