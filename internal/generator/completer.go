package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrRateLimited means no completion was attempted because the global
	// limiter or the provider refused the call. It triggers template fallback.
	ErrRateLimited = errors.New("generation rate limited")
	// ErrProviderAuth means the provider rejected the API key.
	ErrProviderAuth = errors.New("generation provider rejected credentials")
	// ErrEmptyCompletion means the provider returned no usable text.
	ErrEmptyCompletion = errors.New("empty completion")
)

// ProviderError is a non-2xx answer from the completion provider.
type ProviderError struct {
	Status int
	Body   string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("generation provider: status %d: %s", e.Status, e.Body)
}

// CompletionRequest is a chat-style completion call.
type CompletionRequest struct {
	System      string
	User        string
	MaxTokens   int
	Temperature float64
}

// Completion is the provider's answer.
type Completion struct {
	Text       string
	TokensUsed int
}

// Completer is the generation provider contract.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (Completion, error)
}

// HTTPCompleter calls an OpenAI-compatible chat completions endpoint.
type HTTPCompleter struct {
	url    string
	apiKey string
	model  string
	client *http.Client
}

// NewHTTPCompleter returns a completer bound to url and model.
func NewHTTPCompleter(url, apiKey, model string, timeout time.Duration) *HTTPCompleter {
	return &HTTPCompleter{
		url:    url,
		apiKey: apiKey,
		model:  model,
		client: &http.Client{Timeout: timeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// Complete implements Completer.
func (c *HTTPCompleter) Complete(ctx context.Context, req CompletionRequest) (Completion, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.User},
		},
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return Completion{}, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return Completion{}, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return Completion{}, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Completion{}, fmt.Errorf("reading response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return Completion{}, ErrRateLimited
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return Completion{}, ErrProviderAuth
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return Completion{}, &ProviderError{Status: resp.StatusCode, Body: truncate(string(raw), 256)}
	}

	var out chatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return Completion{}, fmt.Errorf("decoding response: %w", err)
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return Completion{}, ErrEmptyCompletion
	}
	return Completion{
		Text:       out.Choices[0].Message.Content,
		TokensUsed: out.Usage.TotalTokens,
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
