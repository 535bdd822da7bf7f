package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// transport is the HTTP plumbing both providers share: JSON bodies, retries
// on 429 and 5xx, and error body decoding.
type transport struct {
	provider string
	http     *http.Client
	logger   *slog.Logger
	retries  int
	delay    time.Duration

	// header decorates every request, e.g. with credentials.
	header func(*http.Request)
}

func newTransport(provider string, cfg *Config) *transport {
	return &transport{
		provider: provider,
		http:     cfg.httpClient(),
		logger:   cfg.Logger.With("component", "inference."+provider),
		retries:  max(cfg.MaxRetries, 0),
		delay:    cfg.RetryDelay,
		header:   func(*http.Request) {},
	}
}

// postJSON sends payload and decodes a 200 response into out.
func (t *transport) postJSON(ctx context.Context, url string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return WrapError(t.provider, fmt.Errorf("marshal payload: %w", err))
	}

	resp, err := t.send(ctx, http.MethodPost, url, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return WrapError(t.provider, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// get issues a GET and discards a 200 body.
func (t *transport) get(ctx context.Context, url string) error {
	resp, err := t.send(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	io.Copy(io.Discard, resp.Body)
	return resp.Body.Close()
}

// send returns only 200 responses; anything else becomes an *APIError.
func (t *transport) send(ctx context.Context, method, url string, body []byte) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= t.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(t.delay * time.Duration(attempt)):
			}
		}

		var r io.Reader
		if body != nil {
			r = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, r)
		if err != nil {
			return nil, WrapError(t.provider, fmt.Errorf("create request: %w", err))
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		t.header(req)

		resp, err := t.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = WrapError(t.provider, err)
			t.logger.Warn("request failed", "attempt", attempt+1, "error", err)
			continue
		}

		if resp.StatusCode == http.StatusOK {
			return resp, nil
		}
		apiErr := t.decodeError(resp)
		resp.Body.Close()
		if !apiErr.IsRetryable() {
			return nil, apiErr
		}
		lastErr = apiErr
		t.logger.Warn("retrying request", "attempt", attempt+1, "status", resp.StatusCode)
	}
	return nil, lastErr
}

// decodeError understands both {"error":{"message","code"}} and Google's
// {"error":{"message","status"}} bodies. Anything else is kept verbatim.
func (t *transport) decodeError(resp *http.Response) *APIError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var e struct {
		Error struct {
			Message string `json:"message"`
			Code    any    `json:"code"`
			Status  string `json:"status"`
		} `json:"error"`
	}
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: string(body), Provider: t.provider}
	if json.Unmarshal(body, &e) == nil && e.Error.Message != "" {
		apiErr.Message = e.Error.Message
		apiErr.Code = e.Error.Status
		if code, ok := e.Error.Code.(string); ok && code != "" {
			apiErr.Code = code
		}
	}
	return apiErr
}

func (t *transport) close() {
	t.http.CloseIdleConnections()
}
