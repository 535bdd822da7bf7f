package inference

import (
	"context"
	"net/http"
	"strings"
	"time"
)

const providerOpenAI = "openai"

// OpenAI speaks the chat completions wire format. Any compatible server
// works: OpenAI itself, Ollama, vLLM, LM Studio and similar.
type OpenAI struct {
	baseURL string
	config  *Config
	t       *transport
}

// NewOpenAI creates an OpenAI-compatible provider. An API key is optional so
// that local servers can be used.
func NewOpenAI(opts ...Option) (*OpenAI, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	t := newTransport(providerOpenAI, cfg)
	if cfg.APIKey != "" {
		t.header = func(req *http.Request) {
			req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
		}
	}
	return &OpenAI{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		config:  cfg,
		t:       t,
	}, nil
}

// Name implements Provider.
func (o *OpenAI) Name() string { return providerOpenAI }

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatMessage struct {
	Role    string     `json:"role"`
	Content []chatPart `json:"content"`
}

type chatPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Vision sends the prompt and the image as one user message.
func (o *OpenAI) Vision(ctx context.Context, req *VisionRequest) (*VisionResponse, error) {
	if len(req.Image) == 0 {
		return nil, WrapError(providerOpenAI, ErrNoImage)
	}
	start := time.Now()
	model, maxTokens, temp := o.config.resolve(req)

	body := chatRequest{
		Model: model,
		Messages: []chatMessage{{
			Role: "user",
			Content: []chatPart{
				{Type: "text", Text: req.Prompt},
				{Type: "image_url", ImageURL: &imageURL{URL: DataURL(req.Image, req.MimeType)}},
			},
		}},
		MaxTokens:   maxTokens,
		Temperature: temp,
	}

	var out chatResponse
	if err := o.t.postJSON(ctx, o.baseURL+"/chat/completions", body, &out); err != nil {
		return nil, err
	}
	if len(out.Choices) == 0 {
		return nil, WrapError(providerOpenAI, ErrEmptyResponse)
	}
	if out.Model != "" {
		model = out.Model
	}

	return &VisionResponse{
		Content: out.Choices[0].Message.Content,
		Usage: Usage{
			PromptTokens:     out.Usage.PromptTokens,
			CompletionTokens: out.Usage.CompletionTokens,
			TotalTokens:      out.Usage.TotalTokens,
		},
		Model:     model,
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

// Health lists models, which checks both reachability and the key.
func (o *OpenAI) Health(ctx context.Context) error {
	return o.t.get(ctx, o.baseURL+"/models")
}

// Close releases idle connections.
func (o *OpenAI) Close() error {
	o.t.close()
	return nil
}

var _ Provider = (*OpenAI)(nil)
