package opencv

import (
	"context"
	"fmt"
	"io"
	"sync"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-framescribe/pkg/frame"
	"github.com/teslashibe/go-framescribe/pkg/upload"
)

// Decoder reads video files with gocv.VideoCapture and re-encodes each frame
// as PNG.
type Decoder struct {
	// Every keeps one frame out of Every. Zero or one keeps all frames.
	Every int
}

// Open implements upload.Decoder.
func (d Decoder) Open(ctx context.Context, path string) (upload.Stream, error) {
	vc, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", upload.ErrUnsupportedFormat, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("%w: cannot open %s", upload.ErrUnsupportedFormat, path)
	}

	every := d.Every
	if every < 1 {
		every = 1
	}
	return &stream{vc: vc, mat: gocv.NewMat(), every: every}, nil
}

type stream struct {
	vc    *gocv.VideoCapture
	mat   gocv.Mat
	every int
	index int

	once sync.Once
	done bool
}

func (s *stream) Next(ctx context.Context) (*frame.Raw, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if s.done || !s.vc.Read(&s.mat) || s.mat.Empty() {
			s.done = true
			return nil, io.EOF
		}

		s.index++
		if (s.index-1)%s.every != 0 {
			continue
		}

		buf, err := gocv.IMEncode(gocv.PNGFileExt, s.mat)
		if err != nil {
			return nil, fmt.Errorf("%w: encode frame %d: %v", upload.ErrDecode, s.index, err)
		}
		payload := append([]byte(nil), buf.GetBytes()...)
		buf.Close()

		return &frame.Raw{Payload: payload, MimeType: frame.MimePNG}, nil
	}
}

func (s *stream) Close() error {
	var err error
	s.once.Do(func() {
		s.done = true
		s.mat.Close()
		err = s.vc.Close()
	})
	return err
}
