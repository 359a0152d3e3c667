package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"podium/internal/domain"
	"podium/internal/ports"
)

const (
	DefaultAdvisoryTimeout = 15 * time.Second
	defaultTurnTokens      = 256
	defaultScoreTokens     = 16
)

var errEmptyReply = errors.New("empty reply")

// AdvisorConfig tunes the advisory call policy.
type AdvisorConfig struct {
	Timeout    time.Duration
	RetryDelay time.Duration
	Logger     *slog.Logger
}

// TurnAdvisor normalizes counterpart calls for every activity kind into one
// request/response contract with a per-attempt timeout and a single retry
// on transient failure.
type TurnAdvisor struct {
	provider   ports.AdvisoryProvider
	filter     ports.ReplyFilter
	retryDelay time.Duration
	timeout    atomic.Int64
	logger     *slog.Logger
}

func NewTurnAdvisor(provider ports.AdvisoryProvider, filter ports.ReplyFilter, cfg AdvisorConfig) *TurnAdvisor {
	a := &TurnAdvisor{
		provider:   provider,
		filter:     filter,
		retryDelay: cfg.RetryDelay,
		logger:     loggerOrDefault(cfg.Logger),
	}
	a.SetTimeout(cfg.Timeout)
	return a
}

// SetTimeout changes the per-attempt timeout for subsequent calls.
func (a *TurnAdvisor) SetTimeout(timeout time.Duration) {
	if timeout <= 0 {
		timeout = DefaultAdvisoryTimeout
	}
	a.timeout.Store(int64(timeout))
}

// Timeout is the per-attempt timeout currently in effect.
func (a *TurnAdvisor) Timeout() time.Duration {
	return time.Duration(a.timeout.Load())
}

// RequestTurn asks the counterpart for its reply to the latest round.
func (a *TurnAdvisor) RequestTurn(ctx context.Context, req domain.TurnRequest) (string, error) {
	prompt := buildTurnPrompt(req)
	reply, err := a.call(ctx, "request turn", prompt)
	if err != nil {
		return "", err
	}
	return reply, nil
}

// Score asks the provider to rate a round from 0 to 100.
func (a *TurnAdvisor) Score(ctx context.Context, req domain.ScoreRequest) (float64, error) {
	reply, err := a.call(ctx, "score round", buildScorePrompt(req))
	if err != nil {
		return 0, err
	}
	score, err := parseScore(reply)
	if err != nil {
		return 0, &domain.ServiceError{Op: "score round", Err: err}
	}
	return score, nil
}

func (a *TurnAdvisor) call(ctx context.Context, op string, prompt ports.TurnPrompt) (string, error) {
	var (
		reply   string
		attempt int
	)
	operation := func() error {
		attempt++
		text, err := a.attempt(ctx, op, prompt)
		if err == nil {
			reply = text
			return nil
		}
		if !isTransient(err) || ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		a.logger.Warn("advisory attempt failed", "provider", a.provider.Name(), "op", op, "attempt", attempt, "err", err)
		return err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(a.retryDelay), 1), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		var svcErr *domain.ServiceError
		if errors.As(err, &svcErr) {
			return "", err
		}
		return "", &domain.ServiceError{Op: op, Transient: isTransient(err), Err: err}
	}
	return reply, nil
}

func (a *TurnAdvisor) attempt(ctx context.Context, op string, prompt ports.TurnPrompt) (string, error) {
	timeout := a.Timeout()
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	text, err := a.provider.Complete(attemptCtx, prompt)
	if err != nil {
		if ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return "", &domain.ServiceError{Op: op, Transient: true, Err: fmt.Errorf("timed out after %s: %w", timeout, err)}
		}
		return "", err
	}

	if a.filter != nil && prompt.Purpose == ports.PurposeTurn {
		filtered, err := a.filter.Apply(text)
		if err != nil {
			return "", &domain.ServiceError{Op: op, Err: fmt.Errorf("filter reply: %w", err)}
		}
		text = filtered
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", &domain.ServiceError{Op: op, Err: errEmptyReply}
	}
	return text, nil
}

func isTransient(err error) bool {
	var svcErr *domain.ServiceError
	if errors.As(err, &svcErr) {
		return svcErr.Transient
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func buildTurnPrompt(req domain.TurnRequest) ports.TurnPrompt {
	messages := make([]ports.PromptMessage, 0, len(req.PriorRounds)*2+1)
	for _, prior := range req.PriorRounds {
		messages = append(messages, ports.PromptMessage{Role: "user", Text: userTurnText(prior.Prompt, prior.UserText)})
		if prior.AdvisoryText != "" {
			messages = append(messages, ports.PromptMessage{Role: "assistant", Text: prior.AdvisoryText})
		}
	}
	messages = append(messages, ports.PromptMessage{Role: "user", Text: userTurnText(req.Prompt, req.UserText)})

	return ports.TurnPrompt{
		Purpose:   ports.PurposeTurn,
		System:    systemPrompt(req.Kind, req.Persona),
		Messages:  messages,
		Script:    req.Counterpart,
		MaxTokens: defaultTurnTokens,
	}
}

func userTurnText(prompt, userText string) string {
	if userText == "" {
		return prompt
	}
	return fmt.Sprintf("%s\n\nMy answer: %s", prompt, userText)
}

func systemPrompt(kind domain.ActivityKind, persona string) string {
	if persona == "" {
		persona = "a practice partner"
	}
	switch kind {
	case domain.KindInterview:
		return fmt.Sprintf("You are %s conducting a mock job interview. Reply with one short follow-up question based on the candidate's last answer.", persona)
	case domain.KindSales:
		return fmt.Sprintf("You are %s, a prospective customer hearing a sales pitch. Reply with one realistic objection or question in two sentences or fewer.", persona)
	case domain.KindNegotiation:
		return fmt.Sprintf("You are %s, the other side of a negotiation. Respond to the latest offer with a counter-position in two sentences or fewer.", persona)
	case domain.KindDebate:
		return fmt.Sprintf("You are %s, arguing the opposing side of a debate. Give a short rebuttal to the speaker's last argument.", persona)
	default:
		return fmt.Sprintf("You are %s, a public speaking coach. Give one sentence of specific, encouraging feedback on the speaker's last answer.", persona)
	}
}

func buildScorePrompt(req domain.ScoreRequest) ports.TurnPrompt {
	text := fmt.Sprintf(
		"Activity: %s\nPrompt: %s\nTime limit: %s\nSpoken for: %s\nTranscript: %s\n\nRate the response from 0 to 100. Reply with the number only.",
		req.Kind, req.Spec.Prompt, req.Spec.TimeLimit, time.Duration(req.Round.DurationMs)*time.Millisecond, req.UserText,
	)
	return ports.TurnPrompt{
		Purpose:   ports.PurposeScore,
		System:    "You grade short speaking exercises.",
		Messages:  []ports.PromptMessage{{Role: "user", Text: text}},
		MaxTokens: defaultScoreTokens,
	}
}

var scorePattern = regexp.MustCompile(`\d+(\.\d+)?`)

func parseScore(reply string) (float64, error) {
	match := scorePattern.FindString(reply)
	if match == "" {
		return 0, fmt.Errorf("no score in reply %q", reply)
	}
	score, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0, err
	}
	return clampScore(score), nil
}

func clampScore(score float64) float64 {
	switch {
	case score < 0:
		return 0
	case score > 100:
		return 100
	default:
		return score
	}
}

// PlaceholderTranscriber stands in for speech recognition.
type PlaceholderTranscriber struct{}

func (PlaceholderTranscriber) Transcribe(_ context.Context, rec domain.RecordingHandle) (string, error) {
	return fmt.Sprintf("[spoken response, %.1fs]", float64(rec.DurationMs)/1000), nil
}

// PaceScorer rates a round by how much of its time limit the speaker used.
// Using half the limit or more earns full marks.
type PaceScorer struct{}

func (PaceScorer) Score(_ context.Context, req domain.ScoreRequest) (float64, error) {
	limit := req.Spec.TimeLimit.Milliseconds()
	if limit <= 0 {
		return 0, errors.New("round has no time limit")
	}
	ratio := float64(req.Round.DurationMs) / (float64(limit) / 2)
	return clampScore(ratio * 100), nil
}
