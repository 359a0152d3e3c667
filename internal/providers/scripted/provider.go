// Package scripted is the offline counterpart: it speaks the round's
// scripted counterpart line, or a generic follow-up when none is set.
package scripted

import (
	"context"
	"errors"
	"strings"

	"podium/internal/domain"
	"podium/internal/ports"
)

var fallbackLines = []string{
	"Can you say more about that?",
	"What would you do if that did not work?",
	"Why should I believe that?",
	"Give me a concrete example.",
}

type Provider struct{}

func New() Provider { return Provider{} }

func (Provider) Name() string { return "scripted" }

// Complete never blocks. Scoring prompts are refused so callers fall back
// to an offline scorer.
func (Provider) Complete(ctx context.Context, prompt ports.TurnPrompt) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if prompt.Purpose == ports.PurposeScore {
		return "", &domain.ServiceError{Op: "scripted score", Err: errors.New("scripted provider does not score")}
	}
	if line := strings.TrimSpace(prompt.Script); line != "" {
		return line, nil
	}
	userTurns := 0
	for _, msg := range prompt.Messages {
		if msg.Role == "user" {
			userTurns++
		}
	}
	if userTurns == 0 {
		userTurns = 1
	}
	return fallbackLines[(userTurns-1)%len(fallbackLines)], nil
}
