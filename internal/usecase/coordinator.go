package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"podium/internal/domain"
	"podium/internal/ports"
)

// CoordinatorConfig tunes completion persistence.
type CoordinatorConfig struct {
	UserID     string
	RetryDelay time.Duration
	Logger     *slog.Logger
}

// Completion is the outcome of persisting a completed session.
type Completion struct {
	Record           domain.SessionRecord `json:"record"`
	Progress         domain.UserProgress  `json:"progress"`
	Rounds           []domain.RoundResult `json:"rounds"`
	AlreadyPersisted bool                 `json:"alreadyPersisted"`
}

// Coordinator writes a completed session back to durable storage. Writes
// are sequenced so the session record gates the progress update, which makes
// repeated completion of the same session id a no-op.
type Coordinator struct {
	store       ports.Store
	artifacts   ports.ArtifactStore
	scorer      ports.Scorer
	transcriber ports.Transcriber
	clock       ports.Clock
	userID      string
	retryDelay  time.Duration
	logger      *slog.Logger
}

func NewCoordinator(
	store ports.Store,
	artifacts ports.ArtifactStore,
	scorer ports.Scorer,
	transcriber ports.Transcriber,
	clock ports.Clock,
	cfg CoordinatorConfig,
) *Coordinator {
	if transcriber == nil {
		transcriber = PlaceholderTranscriber{}
	}
	if clock == nil {
		clock = SystemClock{}
	}
	if cfg.UserID == "" {
		cfg.UserID = "local"
	}
	return &Coordinator{
		store:       store,
		artifacts:   artifacts,
		scorer:      scorer,
		transcriber: transcriber,
		clock:       clock,
		userID:      cfg.UserID,
		retryDelay:  cfg.RetryDelay,
		logger:      loggerOrDefault(cfg.Logger),
	}
}

// Complete persists a session that reached the completed phase.
func (c *Coordinator) Complete(ctx context.Context, cfg domain.SessionConfig, state domain.SessionState) (Completion, error) {
	if state.Phase != domain.PhaseCompleted {
		return Completion{}, domain.ErrActionNotAllowed
	}

	prior, found, err := c.lookup(ctx, state.SessionID)
	if err != nil {
		return Completion{}, &domain.PersistenceError{Op: "load session", Err: err}
	}
	if found && prior.Completed && prior.ProgressApplied {
		c.logger.Info("session already persisted", "session", state.SessionID)
		return Completion{Record: prior, Rounds: prior.Rounds, AlreadyPersisted: true}, nil
	}

	rounds := c.scoreRounds(ctx, cfg, state.RoundHistory)
	now := c.clock.Now()

	for _, round := range rounds {
		if err := c.persistRecording(ctx, state.SessionID, round, now); err != nil {
			return Completion{Rounds: rounds}, err
		}
	}

	completedAt := state.CompletedAt
	if completedAt.IsZero() {
		completedAt = now
	}
	record := domain.SessionRecord{
		ID:             state.SessionID,
		ActivityID:     cfg.ActivityID,
		Kind:           cfg.Kind,
		UserID:         c.userID,
		StartedAt:      state.StartedAt,
		CompletedAt:    completedAt,
		Completed:      true,
		FinishedEarly:  state.FinishedEarly,
		AggregateScore: domain.AggregateScore(rounds),
		RoundCount:     len(rounds),
		Rounds:         rounds,
		UpdatedAt:      now,
	}
	if found {
		record.ProgressApplied = prior.ProgressApplied
	}
	if err := c.retry(ctx, func() error { return c.store.UpsertSession(ctx, record) }); err != nil {
		return Completion{Rounds: rounds}, &domain.PersistenceError{Op: "session", Err: err}
	}

	progress, err := c.applyProgress(ctx, record, completedAt)
	if err != nil {
		return Completion{Record: record, Rounds: rounds}, err
	}

	record.ProgressApplied = true
	if err := c.retry(ctx, func() error { return c.store.UpsertSession(ctx, record) }); err != nil {
		return Completion{Record: record, Progress: progress, Rounds: rounds}, &domain.PersistenceError{Op: "session", Err: err}
	}

	c.logger.Info("session persisted",
		"session", record.ID,
		"activity", record.ActivityID,
		"rounds", record.RoundCount,
		"score", record.AggregateScore,
	)
	return Completion{Record: record, Progress: progress, Rounds: rounds}, nil
}

// SavePartial writes the in-progress marker of an abandoned resumable session.
// A completed record is never overwritten.
func (c *Coordinator) SavePartial(ctx context.Context, cfg domain.SessionConfig, state domain.SessionState) error {
	prior, found, err := c.lookup(ctx, state.SessionID)
	if err != nil {
		return &domain.PersistenceError{Op: "load session", Err: err}
	}
	if found && prior.Completed {
		return nil
	}
	record := domain.SessionRecord{
		ID:         state.SessionID,
		ActivityID: cfg.ActivityID,
		Kind:       cfg.Kind,
		UserID:     c.userID,
		StartedAt:  state.StartedAt,
		RoundCount: len(state.RoundHistory),
		Rounds:     state.RoundHistory,
		UpdatedAt:  c.clock.Now(),
	}
	if err := c.retry(ctx, func() error { return c.store.UpsertSession(ctx, record) }); err != nil {
		return &domain.PersistenceError{Op: "partial session", Err: err}
	}
	return nil
}

// Resume returns the history of an in-progress marker for the session id.
// It reports domain.ErrAlreadyCompleted if the session was finished.
func (c *Coordinator) Resume(ctx context.Context, sessionID string) ([]domain.RoundResult, error) {
	prior, found, err := c.lookup(ctx, sessionID)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "load session", Err: err}
	}
	if !found {
		return nil, nil
	}
	if prior.Completed {
		return nil, domain.ErrAlreadyCompleted
	}
	return prior.Rounds, nil
}

func (c *Coordinator) lookup(ctx context.Context, id string) (domain.SessionRecord, bool, error) {
	var (
		rec   domain.SessionRecord
		found bool
	)
	err := c.retry(ctx, func() error {
		got, err := c.store.GetSession(ctx, id)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			found = false
			return nil
		case err != nil:
			return err
		}
		rec, found = got, true
		return nil
	})
	return rec, found, err
}

func (c *Coordinator) persistRecording(ctx context.Context, sessionID string, round domain.RoundResult, now time.Time) error {
	var uri string
	err := c.retry(ctx, func() error {
		var err error
		uri, err = c.artifacts.Put(ctx, round.RecordingID, round.RecordingPath)
		return err
	})
	if err != nil {
		return &domain.PersistenceError{Op: "recording artifact", Err: err}
	}

	rec := domain.RecordingRecord{
		ID:         round.RecordingID,
		SessionID:  sessionID,
		Round:      round.Round,
		URI:        uri,
		DurationMs: round.DurationMs,
		SizeBytes:  round.SizeBytes,
		CreatedAt:  now,
	}
	if err := c.retry(ctx, func() error { return c.store.UpsertRecording(ctx, rec) }); err != nil {
		return &domain.PersistenceError{Op: "recording", Err: err}
	}
	return nil
}

func (c *Coordinator) applyProgress(ctx context.Context, record domain.SessionRecord, day time.Time) (domain.UserProgress, error) {
	var progress domain.UserProgress
	err := c.retry(ctx, func() error {
		got, err := c.store.GetProgress(ctx, c.userID)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			progress = domain.UserProgress{UserID: c.userID}
			return nil
		case err != nil:
			return err
		}
		progress = got
		return nil
	})
	if err != nil {
		return domain.UserProgress{}, &domain.PersistenceError{Op: "load progress", Err: err}
	}
	// A session finished before any round was recorded is kept in history
	// but does not count towards totals or the streak.
	if progress.LastSessionID == record.ID || record.RoundCount == 0 {
		return progress, nil
	}

	next := progress.Apply(record, day)
	if err := c.retry(ctx, func() error { return c.store.UpsertProgress(ctx, next) }); err != nil {
		return domain.UserProgress{}, &domain.PersistenceError{Op: "progress", Err: err}
	}
	return next, nil
}

func (c *Coordinator) scoreRounds(ctx context.Context, cfg domain.SessionConfig, rounds []domain.RoundResult) []domain.RoundResult {
	out := make([]domain.RoundResult, len(rounds))
	copy(out, rounds)
	if c.scorer == nil {
		return out
	}

	for i, round := range out {
		if round.Score != nil {
			continue
		}
		spec, _ := cfg.Round(round.Round - 1)
		handle := domain.RecordingHandle{ID: round.RecordingID, Path: round.RecordingPath, DurationMs: round.DurationMs, SizeBytes: round.SizeBytes}
		userText, _ := c.transcriber.Transcribe(ctx, handle)

		score, err := c.scorer.Score(ctx, domain.ScoreRequest{
			ActivityID: cfg.ActivityID,
			Kind:       cfg.Kind,
			Round:      round,
			Spec:       spec,
			UserText:   userText,
		})
		if err != nil {
			c.logger.Warn("score round", "activity", cfg.ActivityID, "round", round.Round, "err", err)
			continue
		}
		out[i].Score = &score
	}
	return out
}

// retry runs op and retries it once synchronously on failure.
func (c *Coordinator) retry(ctx context.Context, op func() error) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(c.retryDelay), 1), ctx)
	return backoff.RetryNotify(op, policy, func(err error, _ time.Duration) {
		c.logger.Warn("persistence retry", "err", err)
	})
}
