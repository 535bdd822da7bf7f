package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/teslashibe/go-framescribe/pkg/capture"
	"github.com/teslashibe/go-framescribe/pkg/ocr"
	"github.com/teslashibe/go-framescribe/pkg/upload"
	"github.com/teslashibe/go-framescribe/pkg/vision"
)

// Kind classifies a run failure.
type Kind int

const (
	KindInvalidConfig Kind = iota + 1
	KindCaptureError
	KindFileNotFound
	KindUnsupportedFormat
	KindDecodeError
	KindProcessingError
	KindInternalError
	KindCanceled
)

var kindNames = map[Kind]string{
	KindInvalidConfig:     "InvalidConfig",
	KindCaptureError:      "CaptureError",
	KindFileNotFound:      "FileNotFound",
	KindUnsupportedFormat: "UnsupportedFormat",
	KindDecodeError:       "DecodeError",
	KindProcessingError:   "ProcessingError",
	KindInternalError:     "InternalError",
	KindCanceled:          "Canceled",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Sentinels matched by errors.Is against any *Error of the same kind.
var (
	ErrInvalidConfig     = errors.New("invalid config")
	ErrCaptureError      = errors.New("capture error")
	ErrFileNotFound      = errors.New("file not found")
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrDecodeError       = errors.New("decode error")
	ErrProcessingError   = errors.New("processing error")
	ErrInternalError     = errors.New("internal error")
	ErrCanceled          = errors.New("canceled")
)

var sentinels = map[Kind]error{
	KindInvalidConfig:     ErrInvalidConfig,
	KindCaptureError:      ErrCaptureError,
	KindFileNotFound:      ErrFileNotFound,
	KindUnsupportedFormat: ErrUnsupportedFormat,
	KindDecodeError:       ErrDecodeError,
	KindProcessingError:   ErrProcessingError,
	KindInternalError:     ErrInternalError,
	KindCanceled:          ErrCanceled,
}

// Error is returned by every Runner operation.
type Error struct {
	Kind Kind

	// Op is the stage that failed: normalize, engine, capture, upload,
	// process or assemble.
	Op string

	// Frame is the frame number involved, or zero.
	Frame uint64

	// RunID is the run that failed. It is set for every error a Runner
	// returns once the run has started, including validation failures.
	RunID uuid.UUID

	Err error
}

func (e *Error) Error() string {
	if e.Frame > 0 {
		return fmt.Sprintf("pipeline: %s: frame %d: %s: %v", e.Op, e.Frame, e.Kind, e.Err)
	}
	return fmt.Sprintf("pipeline: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel for e.Kind.
func (e *Error) Is(target error) bool {
	return sentinels[e.Kind] == target
}

// KindOf returns the Kind of err, or zero if err is not an *Error.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return 0
}

// RunIDOf returns the run ID carried by err, or uuid.Nil.
func RunIDOf(err error) uuid.UUID {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.RunID
	}
	return uuid.Nil
}

// classify wraps err in an *Error, mapping source and engine sentinels to kinds.
func classify(op string, frameNo uint64, err error) error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return err
	}

	kind := KindInternalError
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		kind = KindCanceled
	case errors.Is(err, capture.ErrCapture):
		kind = KindCaptureError
	case errors.Is(err, upload.ErrFileNotFound):
		kind = KindFileNotFound
	case errors.Is(err, upload.ErrUnsupportedFormat):
		kind = KindUnsupportedFormat
	case errors.Is(err, upload.ErrDecode):
		kind = KindDecodeError
	case errors.Is(err, ocr.ErrInvalidConfig), errors.Is(err, vision.ErrInvalidConfig):
		kind = KindInvalidConfig
	}
	return &Error{Kind: kind, Op: op, Frame: frameNo, Err: err}
}
