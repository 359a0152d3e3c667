// Package storetest checks that a durable backend honours the store contract.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"podium/internal/domain"
	"podium/internal/ports"
)

// Run exercises a fresh, empty store produced by open.
func Run(t *testing.T, open func(t *testing.T) ports.Store) {
	t.Run("session round trip", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		_, err := s.GetSession(ctx, "missing")
		require.ErrorIs(t, err, domain.ErrNotFound)

		score := 80.0
		started := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
		rec := domain.SessionRecord{
			ID:         "daily_challenge:2026-03-01",
			ActivityID: "daily_challenge",
			Kind:       domain.KindDailyChallenge,
			UserID:     "local",
			StartedAt:  started,
			Completed:  false,
			RoundCount: 2,
			Rounds:     []domain.RoundResult{{Round: 1, RecordingID: "r1", DurationMs: 3000, Score: &score}},
			UpdatedAt:  started,
		}
		require.NoError(t, s.UpsertSession(ctx, rec))

		got, err := s.GetSession(ctx, rec.ID)
		require.NoError(t, err)
		assert.False(t, got.Completed)
		assert.True(t, got.CompletedAt.IsZero())
		assert.True(t, got.StartedAt.Equal(started))
		require.Len(t, got.Rounds, 1)
		require.NotNil(t, got.Rounds[0].Score)
		assert.Equal(t, 80.0, *got.Rounds[0].Score)

		rec.Completed = true
		rec.ProgressApplied = true
		rec.FinishedEarly = true
		rec.AggregateScore = 80
		rec.CompletedAt = started.Add(time.Minute)
		require.NoError(t, s.UpsertSession(ctx, rec))

		got, err = s.GetSession(ctx, rec.ID)
		require.NoError(t, err)
		assert.True(t, got.Completed)
		assert.True(t, got.ProgressApplied)
		assert.True(t, got.FinishedEarly)
		assert.Equal(t, 80.0, got.AggregateScore)
		assert.True(t, got.CompletedAt.Equal(started.Add(time.Minute)))
		assert.Equal(t, domain.KindDailyChallenge, got.Kind)
	})

	t.Run("sessions listed newest first", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
		for i, id := range []string{"a", "b", "c"} {
			require.NoError(t, s.UpsertSession(ctx, domain.SessionRecord{
				ID: id, ActivityID: "lesson", Kind: domain.KindLesson, UserID: "local",
				StartedAt: base.Add(time.Duration(i) * time.Hour), UpdatedAt: base,
			}))
		}

		list, err := s.ListSessions(ctx, 2)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "c", list[0].ID)
		assert.Equal(t, "b", list[1].ID)

		all, err := s.ListSessions(ctx, 0)
		require.NoError(t, err)
		assert.Len(t, all, 3)
	})

	t.Run("sub-second starts listed newest first", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
		for _, rec := range []domain.SessionRecord{
			{ID: "older", StartedAt: base},
			{ID: "newer", StartedAt: base.Add(500 * time.Millisecond)},
		} {
			rec.ActivityID, rec.Kind, rec.UserID, rec.UpdatedAt = "lesson", domain.KindLesson, "local", base
			require.NoError(t, s.UpsertSession(ctx, rec))
		}

		list, err := s.ListSessions(ctx, 0)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "newer", list[0].ID)
		assert.Equal(t, "older", list[1].ID)
	})

	t.Run("recordings", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		_, err := s.GetRecording(ctx, "missing")
		require.ErrorIs(t, err, domain.ErrNotFound)

		created := time.Date(2026, 3, 1, 9, 5, 0, 0, time.UTC)
		for _, rec := range []domain.RecordingRecord{
			{ID: "r2", SessionID: "s", Round: 2, URI: "file:///r2.wav", DurationMs: 4000, SizeBytes: 9000, CreatedAt: created},
			{ID: "r1", SessionID: "s", Round: 1, URI: "file:///r1.wav", DurationMs: 3000, SizeBytes: 8000, CreatedAt: created},
			{ID: "other", SessionID: "t", Round: 1, URI: "file:///o.wav", CreatedAt: created},
		} {
			require.NoError(t, s.UpsertRecording(ctx, rec))
		}
		require.NoError(t, s.UpsertRecording(ctx, domain.RecordingRecord{ID: "r1", SessionID: "s", Round: 1, URI: "s3://bucket/r1.wav", DurationMs: 3000, SizeBytes: 8000, CreatedAt: created}))

		list, err := s.ListRecordings(ctx, "s")
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "r1", list[0].ID)
		assert.Equal(t, "s3://bucket/r1.wav", list[0].URI)

		got, err := s.GetRecording(ctx, "r2")
		require.NoError(t, err)
		assert.Equal(t, int64(9000), got.SizeBytes)
		assert.True(t, got.CreatedAt.Equal(created))
	})

	t.Run("progress", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		_, err := s.GetProgress(ctx, "local")
		require.ErrorIs(t, err, domain.ErrNotFound)

		progress := domain.UserProgress{
			UserID:           "local",
			TotalSessions:    3,
			TotalRounds:      7,
			TotalPracticeMs:  42000,
			CurrentStreak:    2,
			LongestStreak:    4,
			LastPracticeDate: "2026-03-01",
			PracticeDays:     5,
			ActivityCounts:   map[string]int{"lesson": 2, "debate": 1},
			LastSessionID:    "s-3",
			UpdatedAt:        time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		}
		require.NoError(t, s.UpsertProgress(ctx, progress))
		progress.TotalSessions = 4
		require.NoError(t, s.UpsertProgress(ctx, progress))

		got, err := s.GetProgress(ctx, "local")
		require.NoError(t, err)
		assert.Equal(t, 4, got.TotalSessions)
		assert.Equal(t, progress.ActivityCounts, got.ActivityCounts)
		assert.Equal(t, "s-3", got.LastSessionID)
		assert.Equal(t, "2026-03-01", got.LastPracticeDate)
		assert.True(t, got.UpdatedAt.Equal(progress.UpdatedAt))
	})
}
