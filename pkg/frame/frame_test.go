package frame

import (
	"bytes"
	"encoding/json"
	"errors"
	"image"
	"testing"
	"time"
)

func TestParseProcessingType(t *testing.T) {
	tests := []struct {
		in      string
		want    ProcessingType
		wantErr bool
	}{
		{"OCR", OCR, false},
		{"Vision", Vision, false},
		{"ocr", "", true},
		{"vision", "", true},
		{"Unknown", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseProcessingType(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseProcessingType(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseProcessingType(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNewRawTimestamp(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 30, 0, 500, time.FixedZone("X", 3600))
	raw := NewRaw(1, at, []byte{1, 2, 3}, "image/png")

	if raw.Timestamp == "" {
		t.Fatal("timestamp should not be empty")
	}
	parsed, err := time.Parse(TimestampLayout, raw.Timestamp)
	if err != nil {
		t.Fatalf("timestamp does not parse: %v", err)
	}
	if !parsed.Equal(at) {
		t.Errorf("parsed = %v, want %v", parsed, at)
	}

	raw.Release()
	if raw.Payload != nil {
		t.Error("Release should drop the payload")
	}
}

func validCollection() Collection {
	ts := FormatTimestamp(time.Now())
	return Collection{
		{Timestamp: ts, FrameNumber: 1, Content: "a", ProcessingType: OCR},
		{Timestamp: ts, FrameNumber: 2, Content: "", ProcessingType: OCR},
		{Timestamp: ts, FrameNumber: 5, Content: "c", ProcessingType: OCR},
	}
}

func TestCollectionValidate(t *testing.T) {
	if err := validCollection().Validate(OCR); err != nil {
		t.Fatalf("valid collection rejected: %v", err)
	}
	if err := (Collection{}).Validate(Vision); err != nil {
		t.Fatalf("empty collection rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(Collection) Collection
		pt     ProcessingType
	}{
		{"zero frame number", func(c Collection) Collection { c[0].FrameNumber = 0; return c }, OCR},
		{"duplicate", func(c Collection) Collection { c[1].FrameNumber = 1; return c }, OCR},
		{"descending", func(c Collection) Collection { c[2].FrameNumber = 2; return c }, OCR},
		{"empty timestamp", func(c Collection) Collection { c[1].Timestamp = ""; return c }, OCR},
		{"bad timestamp", func(c Collection) Collection { c[1].Timestamp = "yesterday"; return c }, OCR},
		{"mixed type", func(c Collection) Collection { c[2].ProcessingType = Vision; return c }, OCR},
		{"wrong run type", func(c Collection) Collection { return c }, Vision},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.mutate(validCollection()).Validate(tt.pt)
			if !errors.Is(err, ErrInvalidCollection) {
				t.Errorf("Validate() = %v, want ErrInvalidCollection", err)
			}
		})
	}
}

func TestImageDataWireShape(t *testing.T) {
	d := ImageData{
		Timestamp:      "2026-01-01T00:00:00Z",
		FrameNumber:    3,
		Content:        "hello",
		ProcessingType: Vision,
	}

	data, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	for _, key := range []string{"timestamp", "frame_number", "content", "processing_type"} {
		if _, ok := fields[key]; !ok {
			t.Errorf("missing wire field %q in %s", key, data)
		}
	}
	if _, ok := fields["regions"]; ok {
		t.Error("regions should be omitted when empty")
	}
	if fields["processing_type"] != "Vision" {
		t.Errorf("processing_type = %v, want Vision", fields["processing_type"])
	}
}

func TestEncode(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))

	tests := []struct {
		quality  int
		wantMime string
		wantExt  string
	}{
		{100, MimePNG, ".png"},
		{90, MimeJPEG, ".jpg"},
		{0, MimeJPEG, ".jpg"},
	}

	for _, tt := range tests {
		data, mime, err := Encode(img, tt.quality)
		if err != nil {
			t.Fatalf("Encode(q=%d): %v", tt.quality, err)
		}
		if mime != tt.wantMime {
			t.Errorf("Encode(q=%d) mime = %s, want %s", tt.quality, mime, tt.wantMime)
		}
		if Extension(mime) != tt.wantExt {
			t.Errorf("Extension(%s) = %s", mime, Extension(mime))
		}
		decoded, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			t.Fatalf("decode q=%d: %v", tt.quality, err)
		}
		if decoded.Bounds() != img.Bounds() {
			t.Errorf("bounds = %v", decoded.Bounds())
		}
	}
}
