package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"podium/internal/domain"
	"podium/internal/ports"
	"podium/internal/usecase"
)

func TestCompleteSendsSystemAndConversation(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody chatRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices":[{"index":0,"message":{"role":"assistant","content":"  Why now?  "}}]}`)
	}))
	defer server.Close()

	p, err := New("test-key", WithBaseURL(server.URL+"/"), WithModel("gpt-test"))
	require.NoError(t, err)

	reply, err := p.Complete(context.Background(), ports.TurnPrompt{
		Purpose: ports.PurposeTurn,
		System:  "You are a buyer.",
		Messages: []ports.PromptMessage{
			{Role: "user", Text: "Pitch"},
			{Role: "assistant", Text: "Go on"},
			{Role: "user", Text: "It is cheap"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "Why now?", reply)
	assert.Equal(t, "/chat/completions", gotPath)
	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, "gpt-test", gotBody.Model)
	assert.Equal(t, DefaultMaxTokens, gotBody.MaxTokens)
	require.Len(t, gotBody.Messages, 4)
	assert.Equal(t, "system", gotBody.Messages[0].Role)
	assert.Equal(t, "assistant", gotBody.Messages[2].Role)
}

func TestCompleteClassifiesFailures(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		body      string
		transient bool
		contains  string
	}{
		{name: "rate limited", status: http.StatusTooManyRequests, body: `{"error":{"message":"slow down"}}`, transient: false, contains: "slow down"},
		{name: "quota exhausted", status: http.StatusTooManyRequests, body: `{"error":{"message":"check your plan","type":"insufficient_quota"}}`, transient: false, contains: "insufficient_quota"},
		{name: "server error", status: http.StatusBadGateway, body: "upstream", transient: false, contains: "upstream"},
		{name: "bad key", status: http.StatusUnauthorized, body: `{"error":{"message":"invalid api key"}}`, transient: false, contains: "invalid api key"},
		{name: "bad request", status: http.StatusBadRequest, body: "", transient: false, contains: "Bad Request"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				fmt.Fprint(w, tc.body)
			}))
			defer server.Close()

			p, err := New("k", WithBaseURL(server.URL))
			require.NoError(t, err)

			_, err = p.Complete(context.Background(), ports.TurnPrompt{})
			var svcErr *domain.ServiceError
			require.True(t, errors.As(err, &svcErr), "expected service error, got %v", err)
			assert.Equal(t, tc.transient, svcErr.Transient)
			assert.Contains(t, err.Error(), tc.contains)
		})
	}
}

func TestTurnAdvisorDoesNotRetryQuotaExhaustion(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"You exceeded your current quota","type":"insufficient_quota"}}`)
	}))
	defer server.Close()

	p, err := New("k", WithBaseURL(server.URL))
	require.NoError(t, err)
	advisor := usecase.NewTurnAdvisor(p, nil, usecase.AdvisorConfig{Timeout: time.Second})

	_, err = advisor.RequestTurn(context.Background(), domain.TurnRequest{Kind: domain.KindInterview, RoundNumber: 1, Prompt: "Tell me about yourself."})
	var svcErr *domain.ServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.False(t, svcErr.Transient)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCompleteMalformedResponseIsPermanent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[]}`)
	}))
	defer server.Close()

	p, err := New("k", WithBaseURL(server.URL))
	require.NoError(t, err)

	_, err = p.Complete(context.Background(), ports.TurnPrompt{})
	var svcErr *domain.ServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.False(t, svcErr.Transient)
}

func TestCompleteNetworkFailureIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	p, err := New("k", WithBaseURL(url))
	require.NoError(t, err)

	_, err = p.Complete(context.Background(), ports.TurnPrompt{})
	var svcErr *domain.ServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.True(t, svcErr.Transient)
}

func TestNewRequiresAPIKey(t *testing.T) {
	_, err := New("  ")
	require.Error(t, err)
}
