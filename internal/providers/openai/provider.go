// Package openai implements the counterpart provider against any endpoint
// speaking the OpenAI Chat Completions API.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"podium/internal/domain"
	"podium/internal/ports"
)

const (
	// DefaultBaseURL is the default OpenAI API endpoint.
	DefaultBaseURL = "https://api.openai.com/v1"

	DefaultModel     = "gpt-4o-mini"
	DefaultMaxTokens = 256
)

// Option configures the provider.
type Option func(*Provider)

// WithBaseURL sets a custom base URL (for testing or compatible gateways).
func WithBaseURL(url string) Option {
	return func(p *Provider) {
		if url != "" {
			p.baseURL = url
		}
	}
}

// WithModel overrides the model name sent with each request.
func WithModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Provider) {
		if client != nil {
			p.httpClient = client
		}
	}
}

// Provider sends counterpart prompts to a chat completions endpoint.
type Provider struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// New creates a provider. The API key is required.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("openai api key is required")
	}
	p := &Provider{
		apiKey:     apiKey,
		baseURL:    DefaultBaseURL,
		model:      DefaultModel,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *Provider) Name() string { return "openai" }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Complete returns the first choice of a non-streaming completion.
func (p *Provider) Complete(ctx context.Context, prompt ports.TurnPrompt) (string, error) {
	body, err := json.Marshal(p.buildRequest(prompt))
	if err != nil {
		return "", &domain.ServiceError{Op: "openai marshal request", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.chatCompletionsURL(), bytes.NewReader(body))
	if err != nil {
		return "", &domain.ServiceError{Op: "openai create request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &domain.ServiceError{Op: "openai http request", Transient: true, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", parseError(resp)
	}

	var decoded chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", &domain.ServiceError{Op: "openai decode response", Err: err}
	}
	if len(decoded.Choices) == 0 {
		return "", &domain.ServiceError{Op: "openai decode response", Err: errors.New("response has no choices")}
	}
	return strings.TrimSpace(decoded.Choices[0].Message.Content), nil
}

func (p *Provider) buildRequest(prompt ports.TurnPrompt) chatRequest {
	messages := make([]chatMessage, 0, len(prompt.Messages)+1)
	if prompt.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: prompt.System})
	}
	for _, msg := range prompt.Messages {
		messages = append(messages, chatMessage{Role: msg.Role, Content: msg.Text})
	}
	maxTokens := prompt.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return chatRequest{Model: p.model, Messages: messages, MaxTokens: maxTokens}
}

func (p *Provider) chatCompletionsURL() string {
	return strings.TrimRight(p.baseURL, "/") + "/chat/completions"
}

// parseError maps an HTTP failure onto a ServiceError. Any status the
// service answers with is final, including rate and quota limits.
func parseError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	message := strings.TrimSpace(string(raw))
	var decoded errorResponse
	if err := json.Unmarshal(raw, &decoded); err == nil && decoded.Error.Message != "" {
		message = decoded.Error.Message
	}
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}

	if decoded.Error.Type != "" {
		message = decoded.Error.Type + ": " + message
	}
	return &domain.ServiceError{
		Op:  "openai chat completion",
		Err: fmt.Errorf("status %d: %s", resp.StatusCode, message),
	}
}
