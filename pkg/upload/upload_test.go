package upload

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/teslashibe/go-framescribe/pkg/frame"
)

func writeImage(t *testing.T, dir, name string, encode func(io.Writer, image.Image) error) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	img.Set(3, 3, color.RGBA{R: 200, A: 255})

	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()
	if err := encode(f, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return path
}

func encodePNG(w io.Writer, img image.Image) error { return png.Encode(w, img) }

func encodeJPEG(w io.Writer, img image.Image) error { return jpeg.Encode(w, img, nil) }

func TestClassify(t *testing.T) {
	tests := []struct {
		path    string
		want    Kind
		wantErr bool
	}{
		{"a.png", Still, false},
		{"a.JPG", Still, false},
		{"a.jpeg", Still, false},
		{"a.webp", Still, false},
		{"clip.mp4", Video, false},
		{"clip.MOV", Video, false},
		{"clip.mkv", Video, false},
		{"clip.avi", Video, false},
		{"clip.webm", Video, false},
		{"notes.txt", 0, true},
		{"archive.tar.gz", 0, true},
		{"noext", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := Classify(tt.path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Classify(%q) error = %v", tt.path, err)
			}
			if err != nil && !errors.Is(err, ErrUnsupportedFormat) {
				t.Errorf("error %v should wrap ErrUnsupportedFormat", err)
			}
			if got != tt.want {
				t.Errorf("Classify(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestOpenMissingFile(t *testing.T) {
	_, err := Open(context.Background(), filepath.Join(t.TempDir(), "nope.png"), nil, Options{})
	if !errors.Is(err, ErrFileNotFound) {
		t.Errorf("err = %v, want ErrFileNotFound", err)
	}
}

func TestOpenDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "frames.png")
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(context.Background(), dir, nil, Options{}); !errors.Is(err, ErrFileNotFound) {
		t.Errorf("err = %v, want ErrFileNotFound", err)
	}
}

func TestOpenUnsupportedExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.pdf")
	os.WriteFile(path, []byte("%PDF"), 0o644)

	if _, err := Open(context.Background(), path, nil, Options{}); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("err = %v, want ErrUnsupportedFormat", err)
	}
}

func TestOpenCorruptStill(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.png")
	os.WriteFile(path, []byte("definitely not a png"), 0o644)

	if _, err := Open(context.Background(), path, nil, Options{}); !errors.Is(err, ErrDecode) {
		t.Errorf("err = %v, want ErrDecode", err)
	}
}

func TestStillYieldsOneFrame(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name     string
		encode   func(io.Writer, image.Image) error
		wantMime string
	}{
		{"shot.png", encodePNG, frame.MimePNG},
		{"shot.jpg", encodeJPEG, frame.MimeJPEG},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeImage(t, dir, tt.name, tt.encode)
			src, err := Open(context.Background(), path, nil, Options{})
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer src.Close()

			if src.Kind() != Still {
				t.Errorf("Kind = %v", src.Kind())
			}

			raw, err := src.Next(context.Background())
			if err != nil {
				t.Fatalf("Next: %v", err)
			}
			if raw.Number != 1 {
				t.Errorf("Number = %d, want 1", raw.Number)
			}
			if raw.Timestamp == "" || raw.MimeType != tt.wantMime || len(raw.Payload) == 0 {
				t.Errorf("raw = %+v", raw)
			}

			if _, err := src.Next(context.Background()); !errors.Is(err, io.EOF) {
				t.Errorf("second Next = %v, want io.EOF", err)
			}
		})
	}
}

type fakeStream struct {
	frames [][]byte
	err    error
	closed int
}

func (s *fakeStream) Next(ctx context.Context) (*frame.Raw, error) {
	if len(s.frames) == 0 {
		if s.err != nil {
			return nil, s.err
		}
		return nil, io.EOF
	}
	p := s.frames[0]
	s.frames = s.frames[1:]
	return &frame.Raw{Payload: p, MimeType: frame.MimePNG}, nil
}

func (s *fakeStream) Close() error { s.closed++; return nil }

type fakeDecoder struct {
	OpenFunc func(ctx context.Context, path string) (Stream, error)
}

func (d *fakeDecoder) Open(ctx context.Context, path string) (Stream, error) {
	return d.OpenFunc(ctx, path)
}

func videoFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.mp4")
	if err := os.WriteFile(path, []byte("fake"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestVideoNumbersFrames(t *testing.T) {
	stream := &fakeStream{frames: [][]byte{{1}, {2}, {3}}}
	dec := &fakeDecoder{OpenFunc: func(ctx context.Context, path string) (Stream, error) { return stream, nil }}

	src, err := Open(context.Background(), videoFile(t), dec, Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	var numbers []uint64
	for {
		raw, err := src.Next(context.Background())
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		numbers = append(numbers, raw.Number)
	}
	if !reflect.DeepEqual(numbers, []uint64{1, 2, 3}) {
		t.Errorf("numbers = %v", numbers)
	}

	src.Close()
	src.Close()
	if stream.closed != 1 {
		t.Errorf("stream closed %d times, want 1", stream.closed)
	}
}

func TestVideoDecodeFailureMidStream(t *testing.T) {
	stream := &fakeStream{frames: [][]byte{{1}}, err: errors.New("corrupt packet")}
	dec := &fakeDecoder{OpenFunc: func(ctx context.Context, path string) (Stream, error) { return stream, nil }}

	src, _ := Open(context.Background(), videoFile(t), dec, Options{})
	defer src.Close()

	if _, err := src.Next(context.Background()); err != nil {
		t.Fatalf("first Next: %v", err)
	}
	if _, err := src.Next(context.Background()); !errors.Is(err, ErrDecode) {
		t.Errorf("err = %v, want ErrDecode", err)
	}
}

func TestVideoDecoderOpenFailure(t *testing.T) {
	dec := &fakeDecoder{OpenFunc: func(ctx context.Context, path string) (Stream, error) {
		return nil, errors.New("moov atom not found")
	}}
	if _, err := Open(context.Background(), videoFile(t), dec, Options{}); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("err = %v, want ErrUnsupportedFormat", err)
	}
}

func TestVideoWithoutDecoder(t *testing.T) {
	if _, err := Open(context.Background(), videoFile(t), nil, Options{}); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("err = %v, want ErrUnsupportedFormat", err)
	}
}

func TestNextHonorsCancellation(t *testing.T) {
	stream := &fakeStream{frames: [][]byte{{1}}}
	dec := &fakeDecoder{OpenFunc: func(ctx context.Context, path string) (Stream, error) { return stream, nil }}
	src, _ := Open(context.Background(), videoFile(t), dec, Options{})
	defer src.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := src.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestReadPNG(t *testing.T) {
	var stream bytes.Buffer
	var images [][]byte
	for i := 0; i < 3; i++ {
		var one bytes.Buffer
		img := image.NewGray(image.Rect(0, 0, 4+i, 4))
		if err := png.Encode(&one, img); err != nil {
			t.Fatal(err)
		}
		images = append(images, one.Bytes())
		stream.Write(one.Bytes())
	}

	r := bufio.NewReader(&stream)
	for i, want := range images {
		got, err := ReadPNG(r)
		if err != nil {
			t.Fatalf("ReadPNG #%d: %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("image %d differs", i)
		}
	}
	if _, err := ReadPNG(r); !errors.Is(err, io.EOF) {
		t.Errorf("after last image err = %v, want io.EOF", err)
	}
}

func TestReadPNGTruncated(t *testing.T) {
	var one bytes.Buffer
	png.Encode(&one, image.NewGray(image.Rect(0, 0, 4, 4)))
	truncated := one.Bytes()[:one.Len()-6]

	if _, err := ReadPNG(bufio.NewReader(bytes.NewReader(truncated))); !errors.Is(err, ErrDecode) {
		t.Errorf("err = %v, want ErrDecode", err)
	}
	if _, err := ReadPNG(bufio.NewReader(bytes.NewReader([]byte("GIF89a..")))); !errors.Is(err, ErrDecode) {
		t.Errorf("bad signature err = %v, want ErrDecode", err)
	}
}

func TestFFmpegArgs(t *testing.T) {
	got := FFmpegArgs("in.mp4", 2.5)
	want := []string{"-nostdin", "-v", "error", "-i", "in.mp4", "-vf", "fps=2.5", "-f", "image2pipe", "-vcodec", "png", "pipe:1"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("FFmpegArgs = %v", got)
	}
	if args := FFmpegArgs("in.mp4", 0); len(args) != len(want)-2 {
		t.Errorf("native rate should omit -vf: %v", args)
	}
}

func TestFFmpegDecoder(t *testing.T) {
	for _, bin := range []string{"ffmpeg", "ffprobe"} {
		if _, err := exec.LookPath(bin); err != nil {
			t.Skipf("%s not installed", bin)
		}
	}

	path := filepath.Join(t.TempDir(), "test.mp4")
	gen := exec.Command("ffmpeg", "-v", "error", "-f", "lavfi", "-i", "testsrc=duration=1:size=64x48:rate=5",
		"-pix_fmt", "yuv420p", path)
	if out, err := gen.CombinedOutput(); err != nil {
		t.Skipf("cannot generate test video: %v: %s", err, out)
	}

	src, err := Open(context.Background(), path, &FFmpegDecoder{}, Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer src.Close()

	n := 0
	for {
		raw, err := src.Next(context.Background())
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		n++
		if raw.Number != uint64(n) {
			t.Errorf("frame %d numbered %d", n, raw.Number)
		}
		if _, err := png.Decode(bytes.NewReader(raw.Payload)); err != nil {
			t.Errorf("frame %d is not a png: %v", n, err)
		}
	}
	if n != 5 {
		t.Errorf("decoded %d frames, want 5", n)
	}
}

func TestFFprobeRejectsNonVideo(t *testing.T) {
	if _, err := exec.LookPath("ffprobe"); err != nil {
		t.Skip("ffprobe not installed")
	}
	path := filepath.Join(t.TempDir(), "junk.mp4")
	os.WriteFile(path, []byte("not a container"), 0o644)

	_, err := Open(context.Background(), path, &FFmpegDecoder{}, Options{})
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("err = %v, want ErrUnsupportedFormat", err)
	}
}
