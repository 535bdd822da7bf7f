package inference

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const providerGemini = "gemini"

// Gemini defaults.
const (
	GeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	GeminiModel   = "gemini-2.0-flash"
)

// Gemini calls Google's generateContent API. The key is sent in the
// x-goog-api-key header.
type Gemini struct {
	baseURL string
	config  *Config
	t       *transport
}

// NewGemini creates a Gemini provider. An API key is required.
func NewGemini(opts ...Option) (*Gemini, error) {
	cfg := DefaultConfig()
	cfg.BaseURL = GeminiBaseURL
	cfg.VisionModel = GeminiModel
	cfg.Apply(opts...)

	if cfg.APIKey == "" {
		return nil, WrapError(providerGemini, ErrNoAPIKey)
	}

	t := newTransport(providerGemini, cfg)
	t.header = func(req *http.Request) {
		req.Header.Set("x-goog-api-key", cfg.APIKey)
	}
	return &Gemini{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		config:  cfg,
		t:       t,
	}, nil
}

// Name implements Provider.
func (g *Gemini) Name() string { return providerGemini }

type geminiRequest struct {
	Contents         []geminiContent  `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string      `json:"text,omitempty"`
	InlineData *geminiBlob `json:"inline_data,omitempty"`
}

type geminiBlob struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

// Vision sends the prompt and the image inline.
func (g *Gemini) Vision(ctx context.Context, req *VisionRequest) (*VisionResponse, error) {
	if len(req.Image) == 0 {
		return nil, WrapError(providerGemini, ErrNoImage)
	}
	start := time.Now()
	model, maxTokens, temp := g.config.resolve(req)

	body := geminiRequest{
		Contents: []geminiContent{{Parts: []geminiPart{
			{Text: req.Prompt},
			{InlineData: &geminiBlob{
				MimeType: DetectMimeType(req.Image, req.MimeType),
				Data:     EncodeBase64(req.Image),
			}},
		}}},
		GenerationConfig: generationConfig{Temperature: temp, MaxOutputTokens: maxTokens},
	}

	var out geminiResponse
	endpoint := fmt.Sprintf("%s/models/%s:generateContent", g.baseURL, url.PathEscape(model))
	if err := g.t.postJSON(ctx, endpoint, body, &out); err != nil {
		return nil, err
	}
	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 {
		return nil, WrapError(providerGemini, ErrEmptyResponse)
	}

	var text strings.Builder
	for _, part := range out.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}

	return &VisionResponse{
		Content: text.String(),
		Usage: Usage{
			PromptTokens:     out.UsageMetadata.PromptTokenCount,
			CompletionTokens: out.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      out.UsageMetadata.TotalTokenCount,
		},
		Model:     model,
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

// Health lists models.
func (g *Gemini) Health(ctx context.Context) error {
	return g.t.get(ctx, g.baseURL+"/models")
}

// Close releases idle connections.
func (g *Gemini) Close() error {
	g.t.close()
	return nil
}

var _ Provider = (*Gemini)(nil)
