package frame

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
)

// MIME types of encoded payloads.
const (
	MimePNG  = "image/png"
	MimeJPEG = "image/jpeg"
)

// LosslessQuality selects PNG encoding in Encode.
const LosslessQuality = 100

// Encode renders img as PNG when quality is LosslessQuality and as JPEG at
// that quality otherwise.
func Encode(img image.Image, quality int) ([]byte, string, error) {
	var buf bytes.Buffer
	if quality >= LosslessQuality {
		enc := png.Encoder{CompressionLevel: png.BestSpeed}
		if err := enc.Encode(&buf, img); err != nil {
			return nil, "", fmt.Errorf("encode png: %w", err)
		}
		return buf.Bytes(), MimePNG, nil
	}

	if quality < 1 {
		quality = 1
	}
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, "", fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), MimeJPEG, nil
}

// Extension returns the file extension, with dot, for a payload MIME type.
func Extension(mimeType string) string {
	if mimeType == MimeJPEG {
		return ".jpg"
	}
	return ".png"
}
