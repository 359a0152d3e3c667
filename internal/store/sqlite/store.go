// Package sqlite is the default local durable store.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pressly/goose/v3"

	"podium/internal/domain"
	"podium/internal/store"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

type Store struct {
	db *sql.DB
}

// Open creates the database file if needed and applies pending migrations.
func Open(ctx context.Context, dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer keeps sqlite from reporting SQLITE_BUSY under concurrent upserts.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("configure sqlite: %w", err)
	}
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		return fmt.Errorf("create migration provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("migrate sqlite: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

const sessionColumns = `id, activity_id, kind, user_id, started_at, completed_at, completed, finished_early, aggregate_score, round_count, rounds, progress_applied, updated_at`

func (s *Store) GetSession(ctx context.Context, id string) (domain.SessionRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	rec, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
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
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  activity_id=excluded.activity_id,
  kind=excluded.kind,
  user_id=excluded.user_id,
  started_at=excluded.started_at,
  completed_at=excluded.completed_at,
  completed=excluded.completed,
  finished_early=excluded.finished_early,
  aggregate_score=excluded.aggregate_score,
  round_count=excluded.round_count,
  rounds=excluded.rounds,
  progress_applied=excluded.progress_applied,
  updated_at=excluded.updated_at;
`
	_, err = s.db.ExecContext(ctx, stmt,
		rec.ID,
		rec.ActivityID,
		string(rec.Kind),
		rec.UserID,
		store.FormatTime(rec.StartedAt),
		store.FormatTime(rec.CompletedAt),
		rec.Completed,
		rec.FinishedEarly,
		rec.AggregateScore,
		rec.RoundCount,
		string(rounds),
		rec.ProgressApplied,
		store.FormatTime(rec.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// ListSessions returns the most recently started sessions first.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]domain.SessionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM sessions ORDER BY started_at DESC, id LIMIT ?`, store.Limit(limit))
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

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (domain.SessionRecord, error) {
	var (
		rec                            domain.SessionRecord
		kind, startedAt, completedAt   string
		rounds, updatedAt              string
		completed, early, progressFlag bool
	)
	if err := row.Scan(
		&rec.ID,
		&rec.ActivityID,
		&kind,
		&rec.UserID,
		&startedAt,
		&completedAt,
		&completed,
		&early,
		&rec.AggregateScore,
		&rec.RoundCount,
		&rounds,
		&progressFlag,
		&updatedAt,
	); err != nil {
		return domain.SessionRecord{}, err
	}
	rec.Kind = domain.ActivityKind(kind)
	rec.Completed = completed
	rec.FinishedEarly = early
	rec.ProgressApplied = progressFlag

	var err error
	if rec.StartedAt, err = store.ParseTime(startedAt); err != nil {
		return domain.SessionRecord{}, err
	}
	if rec.CompletedAt, err = store.ParseTime(completedAt); err != nil {
		return domain.SessionRecord{}, err
	}
	if rec.UpdatedAt, err = store.ParseTime(updatedAt); err != nil {
		return domain.SessionRecord{}, err
	}
	if rec.Rounds, err = store.DecodeRounds([]byte(rounds)); err != nil {
		return domain.SessionRecord{}, err
	}
	return rec, nil
}

const recordingColumns = `id, session_id, round, uri, duration_ms, size_bytes, created_at`

func (s *Store) GetRecording(ctx context.Context, id string) (domain.RecordingRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordingColumns+` FROM recordings WHERE id = ?`, id)
	rec, err := scanRecording(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.RecordingRecord{}, domain.ErrNotFound
		}
		return domain.RecordingRecord{}, fmt.Errorf("get recording: %w", err)
	}
	return rec, nil
}

func (s *Store) UpsertRecording(ctx context.Context, rec domain.RecordingRecord) error {
	const stmt = `
INSERT INTO recordings (` + recordingColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  session_id=excluded.session_id,
  round=excluded.round,
  uri=excluded.uri,
  duration_ms=excluded.duration_ms,
  size_bytes=excluded.size_bytes,
  created_at=excluded.created_at;
`
	_, err := s.db.ExecContext(ctx, stmt,
		rec.ID,
		rec.SessionID,
		rec.Round,
		rec.URI,
		rec.DurationMs,
		rec.SizeBytes,
		store.FormatTime(rec.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert recording: %w", err)
	}
	return nil
}

func (s *Store) ListRecordings(ctx context.Context, sessionID string) ([]domain.RecordingRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+recordingColumns+` FROM recordings WHERE session_id = ? ORDER BY round, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list recordings: %w", err)
	}
	defer rows.Close()

	var out []domain.RecordingRecord
	for rows.Next() {
		rec, err := scanRecording(rows)
		if err != nil {
			return nil, fmt.Errorf("list recordings: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list recordings: %w", err)
	}
	return out, nil
}

func scanRecording(row scanner) (domain.RecordingRecord, error) {
	var (
		rec       domain.RecordingRecord
		createdAt string
	)
	if err := row.Scan(&rec.ID, &rec.SessionID, &rec.Round, &rec.URI, &rec.DurationMs, &rec.SizeBytes, &createdAt); err != nil {
		return domain.RecordingRecord{}, err
	}
	var err error
	if rec.CreatedAt, err = store.ParseTime(createdAt); err != nil {
		return domain.RecordingRecord{}, err
	}
	return rec, nil
}

func (s *Store) GetProgress(ctx context.Context, userID string) (domain.UserProgress, error) {
	const query = `
SELECT user_id, total_sessions, total_rounds, total_practice_ms, current_streak, longest_streak,
  last_practice_date, practice_days, activity_counts, last_session_id, updated_at
FROM user_progress WHERE user_id = ?`

	var (
		progress          domain.UserProgress
		counts, updatedAt string
	)
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
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
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.UserProgress{}, domain.ErrNotFound
		}
		return domain.UserProgress{}, fmt.Errorf("get progress: %w", err)
	}
	if progress.ActivityCounts, err = store.DecodeCounts([]byte(counts)); err != nil {
		return domain.UserProgress{}, err
	}
	if progress.UpdatedAt, err = store.ParseTime(updatedAt); err != nil {
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
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(user_id) DO UPDATE SET
  total_sessions=excluded.total_sessions,
  total_rounds=excluded.total_rounds,
  total_practice_ms=excluded.total_practice_ms,
  current_streak=excluded.current_streak,
  longest_streak=excluded.longest_streak,
  last_practice_date=excluded.last_practice_date,
  practice_days=excluded.practice_days,
  activity_counts=excluded.activity_counts,
  last_session_id=excluded.last_session_id,
  updated_at=excluded.updated_at;
`
	_, err = s.db.ExecContext(ctx, stmt,
		progress.UserID,
		progress.TotalSessions,
		progress.TotalRounds,
		progress.TotalPracticeMs,
		progress.CurrentStreak,
		progress.LongestStreak,
		progress.LastPracticeDate,
		progress.PracticeDays,
		string(counts),
		progress.LastSessionID,
		store.FormatTime(progress.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert progress: %w", err)
	}
	return nil
}
