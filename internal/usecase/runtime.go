package usecase

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"podium/internal/domain"
	"podium/internal/ports"
)

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// UUIDs generates random v4 ids.
type UUIDs struct{}

func (UUIDs) NewID() string { return uuid.NewString() }

// MultiSink fans events out to every sink in order.
type MultiSink []ports.EventSink

func (m MultiSink) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	for _, sink := range m {
		sink.SessionStateChanged(state, reason)
	}
}

func (m MultiSink) CountdownTick(sessionID string, phase domain.Phase, remaining time.Duration) {
	for _, sink := range m {
		sink.CountdownTick(sessionID, phase, remaining)
	}
}

func (m MultiSink) SessionError(code domain.ErrorCode, detail string) {
	for _, sink := range m {
		sink.SessionError(code, detail)
	}
}

// LogSink records transitions and errors on a structured logger.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func (s LogSink) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	s.logger().Debug("session state changed",
		"session", state.SessionID,
		"phase", state.Phase,
		"round", state.CurrentRoundIndex+1,
		"reason", reason,
	)
}

func (s LogSink) CountdownTick(string, domain.Phase, time.Duration) {}

func (s LogSink) SessionError(code domain.ErrorCode, detail string) {
	s.logger().Warn("session error", "code", code, "err", detail)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) SessionStateChanged(domain.SessionState, domain.SessionStateReason) {}
func (NopSink) CountdownTick(string, domain.Phase, time.Duration)                  {}
func (NopSink) SessionError(domain.ErrorCode, string)                              {}

func loggerOrDefault(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}
