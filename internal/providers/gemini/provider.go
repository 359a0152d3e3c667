// Package gemini implements the counterpart provider on the Gemini API.
package gemini

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/genai"

	"podium/internal/domain"
	"podium/internal/ports"
)

const (
	DefaultModel     = "gemini-2.5-flash"
	DefaultMaxTokens = 256
)

// Config selects credentials and the model.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
}

// Provider sends counterpart prompts through the genai client.
type Provider struct {
	client *genai.Client
	model  string
}

func New(ctx context.Context, cfg Config) (*Provider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("gemini api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, err
	}
	return &Provider{client: client, model: cfg.Model}, nil
}

func (p *Provider) Name() string { return "gemini" }

func (p *Provider) Complete(ctx context.Context, prompt ports.TurnPrompt) (string, error) {
	contents := buildContents(prompt.Messages)
	if len(contents) == 0 {
		return "", &domain.ServiceError{Op: "gemini generate", Err: errors.New("prompt has no messages")}
	}

	maxTokens := prompt.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	config := &genai.GenerateContentConfig{MaxOutputTokens: int32(maxTokens)}
	if prompt.System != "" {
		config.SystemInstruction = genai.NewContentFromText(prompt.System, genai.RoleUser)
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, config)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", classify(err)
	}
	return strings.TrimSpace(resp.Text()), nil
}

func buildContents(messages []ports.PromptMessage) []*genai.Content {
	contents := make([]*genai.Content, 0, len(messages))
	for _, msg := range messages {
		if strings.TrimSpace(msg.Text) == "" {
			continue
		}
		role := genai.Role(genai.RoleUser)
		if msg.Role == "assistant" {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(msg.Text, role))
	}
	return contents
}

// classify marks only failures that never reached the API as transient.
// An APIError is the service's own answer and is final.
func classify(err error) error {
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErr) || errors.As(err, &apiErrPtr) {
		return &domain.ServiceError{Op: "gemini generate", Err: err}
	}
	return &domain.ServiceError{Op: "gemini generate", Transient: true, Err: err}
}
