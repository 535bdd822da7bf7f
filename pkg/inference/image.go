package inference

import (
	"encoding/base64"
	"net/http"
	"strings"
)

// DetectMimeType returns mimeType when set, otherwise sniffs data.
// Anything that does not sniff as an image is reported as image/png.
func DetectMimeType(data []byte, mimeType string) string {
	if mimeType != "" {
		return mimeType
	}
	if sniffed := http.DetectContentType(data); strings.HasPrefix(sniffed, "image/") {
		return sniffed
	}
	return "image/png"
}

// EncodeBase64 encodes raw image bytes to standard base64.
func EncodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DataURL renders data as a base64 data URL.
func DataURL(data []byte, mimeType string) string {
	return "data:" + DetectMimeType(data, mimeType) + ";base64," + EncodeBase64(data)
}

// DecodeDataURL splits a base64 data URL into its payload and mime type.
func DecodeDataURL(url string) ([]byte, string, error) {
	rest, ok := strings.CutPrefix(url, "data:")
	if !ok {
		return nil, "", ErrNoImage
	}
	meta, b64, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, "", ErrNoImage
	}
	mimeType, _ := strings.CutSuffix(meta, ";base64")
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, "", err
	}
	return data, mimeType, nil
}
