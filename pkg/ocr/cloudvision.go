package ocr

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	visionapi "google.golang.org/api/vision/v1"

	"github.com/teslashibe/go-framescribe/pkg/frame"
)

const featureDocumentText = "DOCUMENT_TEXT_DETECTION"

// CloudVision recognizes text with Google Cloud Vision document text detection.
type CloudVision struct {
	cfg     Config
	service *visionapi.Service
	logger  *slog.Logger
}

// NewCloudVision builds the Cloud Vision client. An API key is used when set;
// otherwise application default credentials are exchanged through oauth2.
func NewCloudVision(ctx context.Context, cfg Config, logger *slog.Logger, hc *http.Client) (*CloudVision, error) {
	var opts []option.ClientOption
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	} else {
		if hc != nil {
			ctx = context.WithValue(ctx, oauth2.HTTPClient, hc)
		}
		ts, err := google.DefaultTokenSource(ctx, visionapi.CloudVisionScope)
		if err != nil {
			return nil, fmt.Errorf("%w: google credentials: %v", ErrEngineUnavailable, err)
		}
		opts = append(opts, option.WithHTTPClient(oauth2.NewClient(ctx, ts)))
	}

	service, err := visionapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}

	return &CloudVision{cfg: cfg, service: service, logger: logger}, nil
}

// Infer recognizes the text in one frame.
func (c *CloudVision) Infer(ctx context.Context, raw *frame.Raw) (frame.Output, error) {
	req := &visionapi.AnnotateImageRequest{
		Image:    &visionapi.Image{Content: base64.StdEncoding.EncodeToString(raw.Payload)},
		Features: []*visionapi.Feature{{Type: featureDocumentText}},
	}
	if len(c.cfg.Languages) > 0 {
		req.ImageContext = &visionapi.ImageContext{LanguageHints: c.cfg.Languages}
	}

	resp, err := c.service.Images.Annotate(&visionapi.BatchAnnotateImagesRequest{
		Requests: []*visionapi.AnnotateImageRequest{req},
	}).Context(ctx).Do()
	if err != nil {
		if ctx.Err() != nil {
			return frame.Output{}, ctx.Err()
		}
		return frame.Output{}, fmt.Errorf("ocr: cloud vision: %w", err)
	}
	if len(resp.Responses) == 0 {
		return frame.Output{}, nil
	}

	r := resp.Responses[0]
	if r.Error != nil && r.Error.Code != 0 {
		return frame.Output{}, fmt.Errorf("ocr: cloud vision: code %d: %s", r.Error.Code, r.Error.Message)
	}

	var out frame.Output
	switch {
	case r.FullTextAnnotation != nil:
		out.Content = strings.TrimSpace(r.FullTextAnnotation.Text)
	case len(r.TextAnnotations) > 0:
		out.Content = strings.TrimSpace(r.TextAnnotations[0].Description)
	}

	if c.cfg.BoundingBoxes && len(r.TextAnnotations) > 1 {
		// The first annotation spans the whole image; the rest are words.
		for _, a := range r.TextAnnotations[1:] {
			out.Regions = append(out.Regions, regionFromAnnotation(a))
		}
	}

	c.logger.Debug("frame recognized", "frame", raw.Number, "words", len(out.Regions))
	return out, nil
}

// Close implements Engine.
func (c *CloudVision) Close() error { return nil }

func regionFromAnnotation(a *visionapi.EntityAnnotation) frame.Region {
	region := frame.Region{Text: a.Description, Confidence: a.Confidence}
	if a.BoundingPoly == nil || len(a.BoundingPoly.Vertices) == 0 {
		return region
	}

	minX, minY := a.BoundingPoly.Vertices[0].X, a.BoundingPoly.Vertices[0].Y
	maxX, maxY := minX, minY
	for _, v := range a.BoundingPoly.Vertices[1:] {
		minX, maxX = min(minX, v.X), max(maxX, v.X)
		minY, maxY = min(minY, v.Y), max(maxY, v.Y)
	}

	region.X = int(minX)
	region.Y = int(minY)
	region.Width = int(maxX - minX)
	region.Height = int(maxY - minY)
	return region
}
