package inference

import (
	"context"
	"sync"
)

// Mock is a Provider for tests. Unset funcs fall back to defaults: Vision
// answers from Script, then with DefaultMockContent.
type Mock struct {
	VisionFunc func(ctx context.Context, req *VisionRequest) (*VisionResponse, error)
	HealthFunc func(ctx context.Context) error
	CloseFunc  func() error

	// ProviderName is returned by Name. Defaults to "mock".
	ProviderName string

	// Script holds answers returned in order, one per Vision call.
	Script []string

	mu    sync.Mutex
	calls []MockCall
}

// DefaultMockContent is what an unscripted Mock describes every frame as.
const DefaultMockContent = "I see a mock image"

// MockCall records one invocation.
type MockCall struct {
	Method   string
	Prompt   string
	MimeType string
	Bytes    int
}

// NewMock returns a Mock that answers every frame.
func NewMock() *Mock { return &Mock{} }

// Scripted returns a Mock that answers with contents in order and
// DefaultMockContent once they run out.
func Scripted(contents ...string) *Mock { return &Mock{Script: contents} }

// WithError returns a Mock whose Vision and Health always fail with err.
func WithError(err error) *Mock {
	return &Mock{
		VisionFunc: func(context.Context, *VisionRequest) (*VisionResponse, error) { return nil, err },
		HealthFunc: func(context.Context) error { return err },
	}
}

// Name implements Provider.
func (m *Mock) Name() string {
	if m.ProviderName != "" {
		return m.ProviderName
	}
	return "mock"
}

// Vision implements Provider.
func (m *Mock) Vision(ctx context.Context, req *VisionRequest) (*VisionResponse, error) {
	n := m.record(MockCall{Method: "Vision", Prompt: req.Prompt, MimeType: req.MimeType, Bytes: len(req.Image)})
	if m.VisionFunc != nil {
		return m.VisionFunc(ctx, req)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	content := DefaultMockContent
	if n < len(m.Script) {
		content = m.Script[n]
	}
	return &VisionResponse{
		Content: content,
		Usage:   Usage{PromptTokens: 100, CompletionTokens: 20, TotalTokens: 120},
		Model:   m.Name(),
	}, nil
}

// Health implements Provider.
func (m *Mock) Health(ctx context.Context) error {
	m.record(MockCall{Method: "Health"})
	if m.HealthFunc != nil {
		return m.HealthFunc(ctx)
	}
	return nil
}

// Close implements Provider.
func (m *Mock) Close() error {
	m.record(MockCall{Method: "Close"})
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

// record stores c and returns how many earlier calls share its method.
func (m *Mock) record(c MockCall) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, prev := range m.calls {
		if prev.Method == c.Method {
			n++
		}
	}
	m.calls = append(m.calls, c)
	return n
}

// Calls returns a copy of the recorded calls.
func (m *Mock) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockCall(nil), m.calls...)
}

// CallCount returns how many times method was called.
func (m *Mock) CallCount(method string) int {
	n := 0
	for _, c := range m.Calls() {
		if c.Method == method {
			n++
		}
	}
	return n
}

// LastCall returns the most recent call, or nil.
func (m *Mock) LastCall() *MockCall {
	calls := m.Calls()
	if len(calls) == 0 {
		return nil
	}
	return &calls[len(calls)-1]
}

// Reset clears recorded calls. Script restarts from the beginning.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

var _ Provider = (*Mock)(nil)
