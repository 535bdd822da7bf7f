// Package inference provides a unified interface for vision-capable model
// providers. Frames are sent as encoded images together with a prompt and
// the provider returns a natural-language description.
//
// Two wire formats are supported: any OpenAI-compatible API (OpenAI,
// Ollama, vLLM, Together, Groq, ...) through Client, and Google's Gemini
// API through Gemini.
//
// Example usage:
//
//	client, _ := inference.NewClient(
//	    inference.WithAPIKey(os.Getenv("OPENAI_API_KEY")),
//	    inference.WithVisionModel("gpt-4o"),
//	)
//	defer client.Close()
//
//	resp, _ := client.Vision(ctx, &inference.VisionRequest{
//	    Image:    pngBytes,
//	    MimeType: "image/png",
//	    Prompt:   "Describe this screen.",
//	})
package inference

import "context"

// Provider is implemented by every vision backend.
type Provider interface {
	// Vision describes an image guided by a text prompt.
	Vision(ctx context.Context, req *VisionRequest) (*VisionResponse, error)

	// Health checks provider connectivity and API key validity.
	Health(ctx context.Context) error

	// Name identifies the provider in logs and errors.
	Name() string

	// Close releases any resources held by the provider.
	Close() error
}

// VisionRequest for image analysis.
type VisionRequest struct {
	// Image is the encoded image (PNG or JPEG).
	Image []byte

	// MimeType of Image. Sniffed from the bytes when empty.
	MimeType string

	// Prompt describing what to analyze or ask about the image.
	Prompt string

	// Model overrides the default vision model.
	Model string

	// MaxTokens limits the response length.
	MaxTokens int

	// Temperature controls randomness.
	Temperature float64
}

// VisionResponse from image analysis.
type VisionResponse struct {
	// Content is the natural language response.
	Content string

	// Usage tracks token consumption.
	Usage Usage

	// Model used for analysis.
	Model string

	// LatencyMs is the response time in milliseconds.
	LatencyMs int64
}

// Usage tracks token consumption for billing and limits.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}
