package domain

import "time"

// Phase models the practice session lifecycle.
type Phase string

const (
	PhaseSetup           Phase = "setup"
	PhasePreparation     Phase = "preparation"
	PhaseCapturing       Phase = "capturing"
	PhaseAdvisoryPending Phase = "advisory_pending"
	PhaseRoundCheck      Phase = "round_check"
	PhaseCompleted       Phase = "completed"
	PhaseExited          Phase = "exited"
)

// Terminal reports whether no further transitions are possible.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseExited
}

// SessionStateReason provides a structured reason for state transitions.
type SessionStateReason string

const (
	SessionReasonStarted            SessionStateReason = "session_started"
	SessionReasonResumed            SessionStateReason = "session_resumed"
	SessionReasonPreparationStarted SessionStateReason = "preparation_started"
	SessionReasonPreparationSkipped SessionStateReason = "preparation_skipped"
	SessionReasonPreparationElapsed SessionStateReason = "preparation_elapsed"
	SessionReasonCaptureRestarted   SessionStateReason = "capture_restarted"
	SessionReasonCaptureStopped     SessionStateReason = "capture_stopped"
	SessionReasonCaptureTimeLimit   SessionStateReason = "capture_time_limit"
	SessionReasonCaptureRejected    SessionStateReason = "capture_rejected"
	SessionReasonDeviceFailed       SessionStateReason = "device_failed"
	SessionReasonAdvisoryRequested  SessionStateReason = "advisory_requested"
	SessionReasonRoundRecorded      SessionStateReason = "round_recorded"
	SessionReasonFinishedEarly      SessionStateReason = "session_finished_early"
	SessionReasonCompleted          SessionStateReason = "session_completed"
	SessionReasonExited             SessionStateReason = "session_exited"
	SessionReasonPersisted          SessionStateReason = "session_persisted"
	SessionReasonPersistenceFailed  SessionStateReason = "persistence_failed"
)

// ErrorCode identifies the category of a surfaced error.
type ErrorCode string

const (
	ErrorCodeStartup     ErrorCode = "startup"
	ErrorCodeDevice      ErrorCode = "device"
	ErrorCodeAdvisory    ErrorCode = "advisory"
	ErrorCodeValidation  ErrorCode = "validation"
	ErrorCodePersistence ErrorCode = "persistence"
	ErrorCodeConfig      ErrorCode = "config"
	ErrorCodePlayback    ErrorCode = "playback"
	ErrorCodeInternal    ErrorCode = "internal"
)

// ActivityKind classifies catalog activities.
type ActivityKind string

const (
	KindLesson         ActivityKind = "lesson"
	KindImprovisation  ActivityKind = "improvisation"
	KindDailyChallenge ActivityKind = "daily_challenge"
	KindStorytelling   ActivityKind = "storytelling"
	KindInterview      ActivityKind = "interview"
	KindSales          ActivityKind = "sales"
	KindNegotiation    ActivityKind = "negotiation"
	KindDebate         ActivityKind = "debate"
)

// Conversational reports whether the kind talks back between rounds by default.
func (k ActivityKind) Conversational() bool {
	switch k {
	case KindInterview, KindSales, KindNegotiation, KindDebate:
		return true
	default:
		return false
	}
}

// RoundSpec describes one round of a session.
type RoundSpec struct {
	Prompt      string        `json:"prompt"`
	Hint        string        `json:"hint,omitempty"`
	Counterpart string        `json:"counterpart,omitempty"`
	TimeLimit   time.Duration `json:"timeLimit"`
}

// SessionConfig is the immutable description of one practice run.
type SessionConfig struct {
	SessionID            string            `json:"sessionId"`
	ActivityID           string            `json:"activityId"`
	Kind                 ActivityKind      `json:"kind"`
	Title                string            `json:"title"`
	Persona              string            `json:"persona,omitempty"`
	Rounds               []RoundSpec       `json:"rounds"`
	RequiresAdvisoryTurn bool              `json:"requiresAdvisoryTurn"`
	MinRecordingDuration time.Duration     `json:"minRecordingDuration"`
	Preparation          time.Duration     `json:"preparation"`
	Resumable            bool              `json:"resumable"`
	Params               map[string]string `json:"params,omitempty"`
}

// Round returns the round definition at a zero-based round index.
func (c SessionConfig) Round(index int) (RoundSpec, bool) {
	if index < 0 || index >= len(c.Rounds) {
		return RoundSpec{}, false
	}
	return c.Rounds[index], true
}

// RecordingHandle identifies a capture in flight or just finished.
type RecordingHandle struct {
	ID         string    `json:"id"`
	Path       string    `json:"path"`
	StartedAt  time.Time `json:"startedAt"`
	DurationMs int64     `json:"durationMs"`
	SizeBytes  int64     `json:"sizeBytes"`
}

// RoundResult is the outcome of a completed round.
type RoundResult struct {
	Round         int       `json:"round"`
	RecordingID   string    `json:"recordingId"`
	RecordingPath string    `json:"recordingPath"`
	DurationMs    int64     `json:"durationMs"`
	SizeBytes     int64     `json:"sizeBytes"`
	Prompt        string    `json:"prompt"`
	AdvisoryText  string    `json:"advisoryText,omitempty"`
	Score         *float64  `json:"score,omitempty"`
	CompletedAt   time.Time `json:"completedAt"`
}

// SessionState is the published snapshot of a running session.
type SessionState struct {
	SessionID         string           `json:"sessionId"`
	ActivityID        string           `json:"activityId"`
	Phase             Phase            `json:"phase"`
	CurrentRoundIndex int              `json:"currentRoundIndex"`
	RoundCount        int              `json:"roundCount"`
	RoundHistory      []RoundResult    `json:"roundHistory"`
	ActiveRecording   *RecordingHandle `json:"activeRecording,omitempty"`
	RemainingMs       int64            `json:"remainingMs"`
	LastError         *ErrorInfo       `json:"lastError,omitempty"`
	FinishedEarly     bool             `json:"finishedEarly"`
	Persisted         bool             `json:"persisted"`
	StartedAt         time.Time        `json:"startedAt"`
	CompletedAt       time.Time        `json:"completedAt,omitzero"`
}

// Clone returns a deep copy safe to hand to other goroutines.
func (s SessionState) Clone() SessionState {
	out := s
	if s.RoundHistory != nil {
		out.RoundHistory = make([]RoundResult, len(s.RoundHistory))
		for i, r := range s.RoundHistory {
			if r.Score != nil {
				score := *r.Score
				r.Score = &score
			}
			out.RoundHistory[i] = r
		}
	}
	if s.ActiveRecording != nil {
		rec := *s.ActiveRecording
		out.ActiveRecording = &rec
	}
	if s.LastError != nil {
		info := *s.LastError
		out.LastError = &info
	}
	return out
}

// Status summarizes the current runtime status.
type Status struct {
	Phase     Phase  `json:"phase"`
	Active    bool   `json:"active"`
	SessionID string `json:"sessionId,omitempty"`
	Message   string `json:"message,omitempty"`
}

// Selection is a user's choice of activity plus its parameters.
type Selection struct {
	ActivityID string            `json:"activityId"`
	Params     map[string]string `json:"params,omitempty"`
	Variant    int               `json:"variant,omitempty"`
	Date       time.Time         `json:"date,omitzero"`
}
