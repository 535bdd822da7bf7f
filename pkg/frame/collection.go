package frame

import (
	"errors"
	"fmt"
	"time"
)

// ImageData is the terminal per-frame record.
type ImageData struct {
	Timestamp      string         `json:"timestamp"`
	FrameNumber    uint64         `json:"frame_number"`
	Content        string         `json:"content"`
	ProcessingType ProcessingType `json:"processing_type"`

	// Regions is only populated when bounding boxes were requested.
	Regions []Region `json:"regions,omitempty"`
}

// Collection is an ordered sequence of ImageData.
type Collection []ImageData

// ErrInvalidCollection is wrapped by every Validate failure.
var ErrInvalidCollection = errors.New("frame: invalid collection")

// Validate checks the collection invariants: frame numbers start at 1 or
// later and strictly increase, every timestamp parses, and every element
// carries processing type pt.
func (c Collection) Validate(pt ProcessingType) error {
	var prev uint64
	for i, d := range c {
		if d.FrameNumber < 1 {
			return fmt.Errorf("%w: element %d has frame number 0", ErrInvalidCollection, i)
		}
		if i > 0 && d.FrameNumber <= prev {
			return fmt.Errorf("%w: frame %d follows frame %d", ErrInvalidCollection, d.FrameNumber, prev)
		}
		if d.Timestamp == "" {
			return fmt.Errorf("%w: frame %d has no timestamp", ErrInvalidCollection, d.FrameNumber)
		}
		if _, err := time.Parse(TimestampLayout, d.Timestamp); err != nil {
			return fmt.Errorf("%w: frame %d timestamp: %v", ErrInvalidCollection, d.FrameNumber, err)
		}
		if d.ProcessingType != pt {
			return fmt.Errorf("%w: frame %d processed as %s, run is %s",
				ErrInvalidCollection, d.FrameNumber, d.ProcessingType, pt)
		}
		prev = d.FrameNumber
	}
	return nil
}

// FrameNumbers returns the frame numbers in order.
func (c Collection) FrameNumbers() []uint64 {
	out := make([]uint64, len(c))
	for i, d := range c {
		out[i] = d.FrameNumber
	}
	return out
}
