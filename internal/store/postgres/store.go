// Package postgres is the durable store for shared deployments.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"podium/internal/domain"
	"podium/internal/store"
)

//go:embed migrations/*.sql
var migrations embed.FS

type Store struct {
	pool *pgxpool.Pool
}

// Open connects, pings and migrates the database behind dsn.
func Open(ctx context.Context, dsn string) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	poolConfig.MaxConns = 10
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if err := migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func migrate(ctx context.Context, pool *pgxpool.Pool) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return fmt.Errorf("create migration provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("migrate postgres: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

const sessionColumns = `id, activity_id, kind, user_id, started_at, completed_at, completed, finished_early, aggregate_score, round_count, rounds, progress_applied, updated_at`

func (s *Store) GetSession(ctx context.Context, id string) (domain.SessionRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	rec, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.SessionRecord{}, domain.ErrNotFound
		}
		return domain.SessionRecord{}, fmt.Errorf("get session: %w", err)
	}
	return rec, nil
}

func (s *Store) UpsertSession(ctx context.Context, rec domain.SessionRecord) error {
	rounds, err := store.EncodeRounds(rec.Rounds)
	if err != nil {
		return err
	}
	const stmt = `
INSERT INTO sessions (` + sessionColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT (id) DO UPDATE SET
  activity_id = EXCLUDED.activity_id,
  kind = EXCLUDED.kind,
  user_id = EXCLUDED.user_id,
  started_at = EXCLUDED.started_at,
  completed_at = EXCLUDED.completed_at,
  completed = EXCLUDED.completed,
  finished_early = EXCLUDED.finished_early,
  aggregate_score = EXCLUDED.aggregate_score,
  round_count = EXCLUDED.round_count,
  rounds = EXCLUDED.rounds,
  progress_applied = EXCLUDED.progress_applied,
  updated_at = EXCLUDED.updated_at`

	_, err = s.pool.Exec(ctx, stmt,
		rec.ID,
		rec.ActivityID,
		string(rec.Kind),
		rec.UserID,
		rec.StartedAt,
		nullableTime(rec.CompletedAt),
		rec.Completed,
		rec.FinishedEarly,
		rec.AggregateScore,
		rec.RoundCount,
		rounds,
		rec.ProgressApplied,
		rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// ListSessions returns the most recently started sessions first.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]domain.SessionRecord, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+sessionColumns+` FROM sessions ORDER BY started_at DESC, id LIMIT $1`, store.Limit(limit))
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []domain.SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("list sessions: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return out, nil
}

func scanSession(row pgx.Row) (domain.SessionRecord, error) {
	var (
		rec         domain.SessionRecord
		kind        string
		completedAt *time.Time
		rounds      []byte
	)
	if err := row.Scan(
		&rec.ID,
		&rec.ActivityID,
		&kind,
		&rec.UserID,
		&rec.StartedAt,
		&completedAt,
		&rec.Completed,
		&rec.FinishedEarly,
		&rec.AggregateScore,
		&rec.RoundCount,
		&rounds,
		&rec.ProgressApplied,
		&rec.UpdatedAt,
	); err != nil {
		return domain.SessionRecord{}, err
	}
	rec.Kind = domain.ActivityKind(kind)
	if completedAt != nil {
		rec.CompletedAt = *completedAt
	}
	var err error
	if rec.Rounds, err = store.DecodeRounds(rounds); err != nil {
		return domain.SessionRecord{}, err
	}
	return rec, nil
}

const recordingColumns = `id, session_id, round, uri, duration_ms, size_bytes, created_at`

func (s *Store) GetRecording(ctx context.Context, id string) (domain.RecordingRecord, error) {
	var rec domain.RecordingRecord
	err := s.pool.QueryRow(ctx, `SELECT `+recordingColumns+` FROM recordings WHERE id = $1`, id).
		Scan(&rec.ID, &rec.SessionID, &rec.Round, &rec.URI, &rec.DurationMs, &rec.SizeBytes, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.RecordingRecord{}, domain.ErrNotFound
		}
		return domain.RecordingRecord{}, fmt.Errorf("get recording: %w", err)
	}
	return rec, nil
}

func (s *Store) UpsertRecording(ctx context.Context, rec domain.RecordingRecord) error {
	const stmt = `
INSERT INTO recordings (` + recordingColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO UPDATE SET
  session_id = EXCLUDED.session_id,
  round = EXCLUDED.round,
  uri = EXCLUDED.uri,
  duration_ms = EXCLUDED.duration_ms,
  size_bytes = EXCLUDED.size_bytes,
  created_at = EXCLUDED.created_at`

	_, err := s.pool.Exec(ctx, stmt, rec.ID, rec.SessionID, rec.Round, rec.URI, rec.DurationMs, rec.SizeBytes, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert recording: %w", err)
	}
	return nil
}

func (s *Store) ListRecordings(ctx context.Context, sessionID string) ([]domain.RecordingRecord, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+recordingColumns+` FROM recordings WHERE session_id = $1 ORDER BY round, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list recordings: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.RecordingRecord, error) {
		var rec domain.RecordingRecord
		err := row.Scan(&rec.ID, &rec.SessionID, &rec.Round, &rec.URI, &rec.DurationMs, &rec.SizeBytes, &rec.CreatedAt)
		return rec, err
	})
	if err != nil {
		return nil, fmt.Errorf("list recordings: %w", err)
	}
	return out, nil
}

func (s *Store) GetProgress(ctx context.Context, userID string) (domain.UserProgress, error) {
	const query = `
SELECT user_id, total_sessions, total_rounds, total_practice_ms, current_streak, longest_streak,
  last_practice_date, practice_days, activity_counts, last_session_id, updated_at
FROM user_progress WHERE user_id = $1`

	var (
		progress domain.UserProgress
		counts   []byte
	)
	err := s.pool.QueryRow(ctx, query, userID).Scan(
		&progress.UserID,
		&progress.TotalSessions,
		&progress.TotalRounds,
		&progress.TotalPracticeMs,
		&progress.CurrentStreak,
		&progress.LongestStreak,
		&progress.LastPracticeDate,
		&progress.PracticeDays,
		&counts,
		&progress.LastSessionID,
		&progress.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.UserProgress{}, domain.ErrNotFound
		}
		return domain.UserProgress{}, fmt.Errorf("get progress: %w", err)
	}
	if progress.ActivityCounts, err = store.DecodeCounts(counts); err != nil {
		return domain.UserProgress{}, err
	}
	return progress, nil
}

func (s *Store) UpsertProgress(ctx context.Context, progress domain.UserProgress) error {
	counts, err := store.EncodeCounts(progress.ActivityCounts)
	if err != nil {
		return err
	}
	const stmt = `
INSERT INTO user_progress (user_id, total_sessions, total_rounds, total_practice_ms, current_streak, longest_streak,
  last_practice_date, practice_days, activity_counts, last_session_id, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (user_id) DO UPDATE SET
  total_sessions = EXCLUDED.total_sessions,
  total_rounds = EXCLUDED.total_rounds,
  total_practice_ms = EXCLUDED.total_practice_ms,
  current_streak = EXCLUDED.current_streak,
  longest_streak = EXCLUDED.longest_streak,
  last_practice_date = EXCLUDED.last_practice_date,
  practice_days = EXCLUDED.practice_days,
  activity_counts = EXCLUDED.activity_counts,
  last_session_id = EXCLUDED.last_session_id,
  updated_at = EXCLUDED.updated_at`

	_, err = s.pool.Exec(ctx, stmt,
		progress.UserID,
		progress.TotalSessions,
		progress.TotalRounds,
		progress.TotalPracticeMs,
		progress.CurrentStreak,
		progress.LongestStreak,
		progress.LastPracticeDate,
		progress.PracticeDays,
		counts,
		progress.LastSessionID,
		progress.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert progress: %w", err)
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
