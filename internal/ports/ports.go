package ports

import (
	"context"
	"time"

	"podium/internal/domain"
)

// AudioConfig describes how the microphone should be captured.
type AudioConfig struct {
	SampleRate  int
	Channels    int
	InputFormat string
	InputDevice string
}

// Recording is a capture in progress writing to a file.
type Recording interface {
	Stop() error
}

// Playback is an audio file being played.
type Playback interface {
	Wait() error
	Stop() error
}

// CaptureDevice records microphone audio to files and plays files back.
type CaptureDevice interface {
	Record(ctx context.Context, cfg AudioConfig, path string) (Recording, error)
	Play(ctx context.Context, path string) (Playback, error)
}

// PromptPurpose separates conversational turns from scoring calls.
type PromptPurpose string

const (
	PurposeTurn  PromptPurpose = "turn"
	PurposeScore PromptPurpose = "score"
)

// PromptMessage is one entry of the conversation sent to a provider.
// Role is "user" or "assistant".
type PromptMessage struct {
	Role string
	Text string
}

// TurnPrompt is the provider-agnostic request built by the advisor.
type TurnPrompt struct {
	Purpose   PromptPurpose
	System    string
	Messages  []PromptMessage
	Script    string
	MaxTokens int
}

// AdvisoryProvider produces counterpart text from a prompt.
type AdvisoryProvider interface {
	Name() string
	Complete(ctx context.Context, prompt TurnPrompt) (string, error)
}

// Advisor is the single turn contract the session machine depends on.
type Advisor interface {
	RequestTurn(ctx context.Context, req domain.TurnRequest) (string, error)
}

// Scorer rates a finished round from 0 to 100.
type Scorer interface {
	Score(ctx context.Context, req domain.ScoreRequest) (float64, error)
}

// Transcriber converts a recording into text.
type Transcriber interface {
	Transcribe(ctx context.Context, rec domain.RecordingHandle) (string, error)
}

// ReplyFilter transforms advisory replies using deterministic rules.
type ReplyFilter interface {
	Apply(text string) (string, error)
}

// SessionStore persists session and recording records.
type SessionStore interface {
	GetSession(ctx context.Context, id string) (domain.SessionRecord, error)
	UpsertSession(ctx context.Context, rec domain.SessionRecord) error
	ListSessions(ctx context.Context, limit int) ([]domain.SessionRecord, error)
	GetRecording(ctx context.Context, id string) (domain.RecordingRecord, error)
	UpsertRecording(ctx context.Context, rec domain.RecordingRecord) error
	ListRecordings(ctx context.Context, sessionID string) ([]domain.RecordingRecord, error)
}

// ProgressStore persists the user progress aggregate.
type ProgressStore interface {
	GetProgress(ctx context.Context, userID string) (domain.UserProgress, error)
	UpsertProgress(ctx context.Context, progress domain.UserProgress) error
}

// Store is a durable backend. Lookups report domain.ErrNotFound.
type Store interface {
	SessionStore
	ProgressStore
	Close() error
}

// ArtifactStore keeps durable copies of round recordings keyed by recording id.
type ArtifactStore interface {
	Put(ctx context.Context, id string, srcPath string) (string, error)
	Local(ctx context.Context, uri string) (string, error)
}

// EventSink emits backend state/events to observers.
type EventSink interface {
	SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason)
	CountdownTick(sessionID string, phase domain.Phase, remaining time.Duration)
	SessionError(code domain.ErrorCode, detail string)
}

// Clock reports the current time.
type Clock interface {
	Now() time.Time
}

// IDGenerator creates unique ids.
type IDGenerator interface {
	NewID() string
}
