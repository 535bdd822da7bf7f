package pipeline

import (
	"fmt"

	"github.com/teslashibe/go-framescribe/pkg/frame"
)

// Assembler accumulates processed frames into a Collection. It checks order
// and type on every Add and never repairs a violation.
type Assembler struct {
	pt    frame.ProcessingType
	items frame.Collection
}

// NewAssembler returns an empty assembler for a run of type pt.
func NewAssembler(pt frame.ProcessingType) *Assembler {
	return &Assembler{pt: pt, items: frame.Collection{}}
}

// Add appends d. A frame number that does not increase, or a foreign
// processing type, is an InternalError.
func (a *Assembler) Add(d frame.ImageData) error {
	if d.FrameNumber < 1 {
		return &Error{Kind: KindInternalError, Op: "assemble", Err: fmt.Errorf("frame number 0")}
	}
	if n := len(a.items); n > 0 && d.FrameNumber <= a.items[n-1].FrameNumber {
		return &Error{
			Kind:  KindInternalError,
			Op:    "assemble",
			Frame: d.FrameNumber,
			Err:   fmt.Errorf("frame %d arrived after frame %d", d.FrameNumber, a.items[n-1].FrameNumber),
		}
	}
	if d.ProcessingType != a.pt {
		return &Error{
			Kind:  KindInternalError,
			Op:    "assemble",
			Frame: d.FrameNumber,
			Err:   fmt.Errorf("processing type %s in a %s run", d.ProcessingType, a.pt),
		}
	}
	a.items = append(a.items, d)
	return nil
}

// Len returns the number of assembled frames.
func (a *Assembler) Len() int { return len(a.items) }

// Collection validates and returns the assembled frames.
func (a *Assembler) Collection() (frame.Collection, error) {
	if err := a.items.Validate(a.pt); err != nil {
		return nil, &Error{Kind: KindInternalError, Op: "assemble", Err: err}
	}
	return a.items, nil
}
