package scripted

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"podium/internal/domain"
	"podium/internal/ports"
)

func TestCompleteSpeaksScript(t *testing.T) {
	reply, err := New().Complete(context.Background(), ports.TurnPrompt{Script: " We already have a vendor. "})
	require.NoError(t, err)
	assert.Equal(t, "We already have a vendor.", reply)
}

func TestCompleteFallsBackByTurn(t *testing.T) {
	first, err := New().Complete(context.Background(), ports.TurnPrompt{Messages: []ports.PromptMessage{{Role: "user", Text: "a"}}})
	require.NoError(t, err)
	second, err := New().Complete(context.Background(), ports.TurnPrompt{Messages: []ports.PromptMessage{
		{Role: "user", Text: "a"}, {Role: "assistant", Text: first}, {Role: "user", Text: "b"},
	}})
	require.NoError(t, err)
	assert.Equal(t, fallbackLines[0], first)
	assert.Equal(t, fallbackLines[1], second)
}

func TestCompleteRefusesScoring(t *testing.T) {
	_, err := New().Complete(context.Background(), ports.TurnPrompt{Purpose: ports.PurposeScore})
	var svcErr *domain.ServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.False(t, svcErr.Transient)
}

func TestCompleteHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().Complete(ctx, ports.TurnPrompt{Script: "x"})
	require.ErrorIs(t, err, context.Canceled)
}
