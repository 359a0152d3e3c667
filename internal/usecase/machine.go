package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"podium/internal/domain"
	"podium/internal/ports"
	"podium/internal/timer"
)

const (
	defaultTickInterval     = time.Second
	defaultMinArtifactBytes = 1024
)

// Capturer is the part of the capture controller a session drives.
type Capturer interface {
	BeginCapture(ctx context.Context, destinationID string) (domain.RecordingHandle, error)
	EndCapture(ctx context.Context) (domain.RecordingHandle, error)
	Release(ctx context.Context, id string) error
	DiscardArtifact(handle domain.RecordingHandle) error
}

// Checkpointer persists the resumable marker of an abandoned session.
type Checkpointer interface {
	SavePartial(ctx context.Context, cfg domain.SessionConfig, state domain.SessionState) error
}

// Ticker is a running countdown.
type Ticker interface {
	Events() <-chan timer.Event
	Cancel()
}

// TimerFactory starts countdowns for the machine.
type TimerFactory func(total, interval time.Duration) Ticker

func startCountdown(total, interval time.Duration) Ticker {
	return timer.Start(total, interval)
}

// MachineDeps are the collaborators of a session machine.
type MachineDeps struct {
	Capture     Capturer
	Advisor     ports.Advisor
	Transcriber ports.Transcriber
	Checkpoint  Checkpointer
	Events      ports.EventSink
	Clock       ports.Clock
	IDs         ports.IDGenerator
	Logger      *slog.Logger
}

// MachineOptions tune a session machine.
type MachineOptions struct {
	TickInterval     time.Duration
	MinArtifactBytes int64
	History          []domain.RoundResult
	Timers           TimerFactory
}

type action string

const (
	actionSkipPreparation action = "skip_preparation"
	actionStopCapture     action = "stop_capture"
	actionRerecord        action = "rerecord"
	actionFinishEarly     action = "finish_early"
	actionExit            action = "exit"
)

type command struct {
	action action
	reply  chan error
}

type timerFired struct {
	gen uint64
	ev  timer.Event
}

type turnFinished struct {
	gen  uint64
	text string
	err  error
}

// Machine runs one practice session. Transitions are applied by a single
// goroutine; callers interact through commands and read published snapshots.
type Machine struct {
	cfg  domain.SessionConfig
	deps MachineDeps
	opts MachineOptions

	inbox     chan any
	closed    chan struct{}
	started   atomic.Bool
	startOnce sync.Once
	state     atomic.Pointer[domain.SessionState]

	// Owned by the run loop.
	timer      Ticker
	timerGen   uint64
	turnGen    uint64
	turnCancel context.CancelFunc
	pending    *domain.RecordingHandle
	terminal   bool
}

func NewMachine(cfg domain.SessionConfig, deps MachineDeps, opts MachineOptions) (*Machine, error) {
	if len(cfg.Rounds) == 0 {
		return nil, &domain.ConfigError{ActivityID: cfg.ActivityID, Detail: "no rounds configured"}
	}
	for i, round := range cfg.Rounds {
		if round.TimeLimit <= 0 {
			return nil, &domain.ConfigError{ActivityID: cfg.ActivityID, Detail: fmt.Sprintf("round %d has no time limit", i+1)}
		}
	}
	if len(opts.History) >= len(cfg.Rounds) {
		return nil, &domain.ConfigError{ActivityID: cfg.ActivityID, Detail: "resumed history covers every round"}
	}
	if deps.Capture == nil || deps.Advisor == nil {
		return nil, fmt.Errorf("session machine requires capture and advisor")
	}
	if deps.Transcriber == nil {
		deps.Transcriber = PlaceholderTranscriber{}
	}
	if deps.Events == nil {
		deps.Events = NopSink{}
	}
	if deps.Clock == nil {
		deps.Clock = SystemClock{}
	}
	if deps.IDs == nil {
		deps.IDs = UUIDs{}
	}
	deps.Logger = loggerOrDefault(deps.Logger)
	if opts.TickInterval <= 0 {
		opts.TickInterval = defaultTickInterval
	}
	if opts.MinArtifactBytes <= 0 {
		opts.MinArtifactBytes = defaultMinArtifactBytes
	}
	if opts.Timers == nil {
		opts.Timers = startCountdown
	}

	history := append([]domain.RoundResult(nil), opts.History...)
	initial := &domain.SessionState{
		SessionID:         cfg.SessionID,
		ActivityID:        cfg.ActivityID,
		Phase:             domain.PhaseSetup,
		CurrentRoundIndex: len(history),
		RoundCount:        len(cfg.Rounds),
		RoundHistory:      history,
		StartedAt:         deps.Clock.Now(),
	}

	m := &Machine{
		cfg:    cfg,
		deps:   deps,
		opts:   opts,
		inbox:  make(chan any),
		closed: make(chan struct{}),
	}
	m.state.Store(initial)
	return m, nil
}

// Start runs the session until it completes or exits. Cancelling ctx exits
// the session.
func (m *Machine) Start(ctx context.Context) {
	m.startOnce.Do(func() {
		m.started.Store(true)
		go m.run(ctx)
	})
}

// Config is the immutable configuration the machine was built from.
func (m *Machine) Config() domain.SessionConfig {
	return m.cfg
}

// Snapshot returns a consistent copy of the latest published state.
func (m *Machine) Snapshot() domain.SessionState {
	return m.state.Load().Clone()
}

// Done is closed once the session reached a terminal phase.
func (m *Machine) Done() <-chan struct{} {
	return m.closed
}

func (m *Machine) SkipPreparation() error { return m.send(actionSkipPreparation) }
func (m *Machine) StopCapture() error     { return m.send(actionStopCapture) }
func (m *Machine) Rerecord() error        { return m.send(actionRerecord) }
func (m *Machine) FinishEarly() error     { return m.send(actionFinishEarly) }
func (m *Machine) Exit() error            { return m.send(actionExit) }

func (m *Machine) send(a action) error {
	if !m.started.Load() {
		return domain.ErrActionNotAllowed
	}
	reply := make(chan error, 1)
	select {
	case m.inbox <- command{action: a, reply: reply}:
	case <-m.closed:
		return domain.ErrSessionClosed
	}
	select {
	case err := <-reply:
		return err
	case <-m.closed:
		select {
		case err := <-reply:
			return err
		default:
			return domain.ErrSessionClosed
		}
	}
}

func (m *Machine) run(ctx context.Context) {
	defer close(m.closed)

	reason := domain.SessionReasonStarted
	if len(m.opts.History) > 0 {
		reason = domain.SessionReasonResumed
	}
	m.deps.Logger.Info("session started",
		"session", m.cfg.SessionID,
		"activity", m.cfg.ActivityID,
		"round", m.current().CurrentRoundIndex+1,
	)
	m.enterPreparation(reason)

	for !m.terminal {
		select {
		case <-ctx.Done():
			m.exit(context.WithoutCancel(ctx))
		case msg := <-m.inbox:
			switch msg := msg.(type) {
			case command:
				msg.reply <- m.handle(ctx, msg.action)
			case timerFired:
				m.onTimer(ctx, msg)
			case turnFinished:
				m.onTurn(ctx, msg)
			}
		}
	}
}

func (m *Machine) handle(ctx context.Context, a action) error {
	state := m.current()
	if state.Phase.Terminal() {
		return domain.ErrSessionClosed
	}

	switch a {
	case actionSkipPreparation:
		if state.Phase != domain.PhasePreparation {
			return domain.ErrActionNotAllowed
		}
		m.cancelTimer()
		return m.beginCapture(ctx, domain.SessionReasonPreparationSkipped)
	case actionStopCapture:
		if state.Phase != domain.PhaseCapturing || state.ActiveRecording == nil {
			return domain.ErrActionNotAllowed
		}
		return m.stopCapture(ctx, domain.SessionReasonCaptureStopped)
	case actionRerecord:
		if state.Phase != domain.PhaseCapturing || state.ActiveRecording != nil {
			return domain.ErrActionNotAllowed
		}
		return m.beginCapture(ctx, domain.SessionReasonCaptureRestarted)
	case actionFinishEarly:
		m.finishEarly(ctx)
		return nil
	case actionExit:
		m.exit(ctx)
		return nil
	}
	return domain.ErrActionNotAllowed
}

func (m *Machine) onTimer(ctx context.Context, msg timerFired) {
	if msg.gen != m.timerGen || m.timer == nil {
		return
	}
	state := m.current()
	if !msg.ev.Done {
		m.deps.Events.CountdownTick(state.SessionID, state.Phase, msg.ev.Remaining)
		m.publishQuiet(func(s *domain.SessionState) { s.RemainingMs = msg.ev.Remaining.Milliseconds() })
		return
	}

	m.timer = nil
	switch state.Phase {
	case domain.PhasePreparation:
		_ = m.beginCapture(ctx, domain.SessionReasonPreparationElapsed)
	case domain.PhaseCapturing:
		if state.ActiveRecording != nil {
			_ = m.stopCapture(ctx, domain.SessionReasonCaptureTimeLimit)
		}
	}
}

func (m *Machine) onTurn(ctx context.Context, msg turnFinished) {
	if msg.gen != m.turnGen || m.current().Phase != domain.PhaseAdvisoryPending || m.pending == nil {
		return
	}
	m.clearTurn()

	handle := *m.pending
	m.pending = nil
	if msg.err != nil {
		m.deps.Logger.Warn("advisory turn degraded",
			"session", m.cfg.SessionID,
			"round", m.current().CurrentRoundIndex+1,
			"err", msg.err,
		)
		m.deps.Events.SessionError(domain.ErrorCodeAdvisory, msg.err.Error())
	}
	m.appendRound(handle, msg.text, msg.err)
	m.advance()
}

func (m *Machine) enterPreparation(reason domain.SessionStateReason) {
	m.publish(reason, func(s *domain.SessionState) {
		s.Phase = domain.PhasePreparation
		s.ActiveRecording = nil
		s.RemainingMs = m.cfg.Preparation.Milliseconds()
	})
	m.startTimer(m.cfg.Preparation)
}

func (m *Machine) beginCapture(ctx context.Context, reason domain.SessionStateReason) error {
	spec, _ := m.cfg.Round(m.current().CurrentRoundIndex)

	handle, err := m.deps.Capture.BeginCapture(ctx, m.deps.IDs.NewID())
	if err != nil {
		m.publish(domain.SessionReasonDeviceFailed, func(s *domain.SessionState) {
			s.LastError = domain.Describe(err)
			s.RemainingMs = 0
		})
		m.deps.Events.SessionError(domain.ErrorCodeDevice, err.Error())
		return err
	}

	m.publish(reason, func(s *domain.SessionState) {
		s.Phase = domain.PhaseCapturing
		s.ActiveRecording = &handle
		s.LastError = nil
		s.RemainingMs = spec.TimeLimit.Milliseconds()
	})
	m.startTimer(spec.TimeLimit)
	return nil
}

func (m *Machine) stopCapture(ctx context.Context, reason domain.SessionStateReason) error {
	m.cancelTimer()

	handle, err := m.deps.Capture.EndCapture(ctx)
	if err != nil {
		_ = m.deps.Capture.DiscardArtifact(handle)
		m.publish(domain.SessionReasonDeviceFailed, func(s *domain.SessionState) {
			s.ActiveRecording = nil
			s.LastError = domain.Describe(err)
			s.RemainingMs = 0
		})
		m.deps.Events.SessionError(domain.ErrorCodeDevice, err.Error())
		return err
	}

	if verr := m.validate(handle); verr != nil {
		_ = m.deps.Capture.DiscardArtifact(handle)
		m.publish(domain.SessionReasonCaptureRejected, func(s *domain.SessionState) {
			s.ActiveRecording = nil
			s.LastError = domain.Describe(verr)
			s.RemainingMs = 0
		})
		m.deps.Events.SessionError(domain.ErrorCodeValidation, verr.Error())
		return verr
	}
	m.deps.Logger.Debug("capture accepted",
		"session", m.cfg.SessionID,
		"round", m.current().CurrentRoundIndex+1,
		"reason", reason,
		"duration_ms", handle.DurationMs,
	)

	if !m.cfg.RequiresAdvisoryTurn {
		m.publishQuiet(func(s *domain.SessionState) { s.ActiveRecording = nil })
		m.appendRound(handle, "", nil)
		m.advance()
		return nil
	}

	m.pending = &handle
	m.publish(domain.SessionReasonAdvisoryRequested, func(s *domain.SessionState) {
		s.Phase = domain.PhaseAdvisoryPending
		s.ActiveRecording = nil
		s.RemainingMs = 0
	})
	m.requestTurn(ctx, handle)
	return nil
}

func (m *Machine) validate(handle domain.RecordingHandle) *domain.ValidationError {
	minDuration := m.cfg.MinRecordingDuration.Milliseconds()
	if handle.DurationMs < minDuration {
		return &domain.ValidationError{
			Reason: domain.ValidationTooShort,
			Message: fmt.Sprintf("Recording too short (%.1fs). Speak for at least %.1fs and record again.",
				float64(handle.DurationMs)/1000, float64(minDuration)/1000),
		}
	}
	if handle.SizeBytes < m.opts.MinArtifactBytes {
		return &domain.ValidationError{
			Reason:  domain.ValidationTooSmall,
			Message: "The recording is empty. Check your microphone and record again.",
		}
	}
	return nil
}

func (m *Machine) requestTurn(ctx context.Context, handle domain.RecordingHandle) {
	m.turnGen++
	gen := m.turnGen
	turnCtx, cancel := context.WithCancel(ctx)
	m.turnCancel = cancel

	state := m.current()
	spec, _ := m.cfg.Round(state.CurrentRoundIndex)
	req := domain.TurnRequest{
		ActivityID:  m.cfg.ActivityID,
		Kind:        m.cfg.Kind,
		Persona:     m.cfg.Persona,
		RoundNumber: state.CurrentRoundIndex + 1,
		Prompt:      spec.Prompt,
		Counterpart: spec.Counterpart,
		PriorRounds: domain.Summaries(state.RoundHistory),
	}

	go func() {
		if text, err := m.deps.Transcriber.Transcribe(turnCtx, handle); err == nil {
			req.UserText = text
		}
		text, err := m.deps.Advisor.RequestTurn(turnCtx, req)
		select {
		case m.inbox <- turnFinished{gen: gen, text: text, err: err}:
		case <-m.closed:
		}
	}()
}

func (m *Machine) appendRound(handle domain.RecordingHandle, advisory string, turnErr error) {
	state := m.current()
	spec, _ := m.cfg.Round(state.CurrentRoundIndex)
	result := domain.RoundResult{
		Round:         state.CurrentRoundIndex + 1,
		RecordingID:   handle.ID,
		RecordingPath: handle.Path,
		DurationMs:    handle.DurationMs,
		SizeBytes:     handle.SizeBytes,
		Prompt:        spec.Prompt,
		AdvisoryText:  advisory,
		CompletedAt:   m.deps.Clock.Now(),
	}
	m.publish(domain.SessionReasonRoundRecorded, func(s *domain.SessionState) {
		s.Phase = domain.PhaseRoundCheck
		s.RoundHistory = append(s.RoundHistory, result)
		s.RemainingMs = 0
		if turnErr != nil {
			s.LastError = domain.Describe(turnErr)
		}
	})
}

func (m *Machine) advance() {
	state := m.current()
	if state.CurrentRoundIndex+1 >= len(m.cfg.Rounds) {
		m.complete(domain.SessionReasonCompleted, false)
		return
	}
	m.publishQuiet(func(s *domain.SessionState) { s.CurrentRoundIndex++ })
	m.enterPreparation(domain.SessionReasonPreparationStarted)
}

func (m *Machine) finishEarly(ctx context.Context) {
	m.cancelTimer()
	state := m.current()

	switch state.Phase {
	case domain.PhaseCapturing:
		if state.ActiveRecording != nil {
			_ = m.deps.Capture.Release(ctx, state.ActiveRecording.ID)
		}
	case domain.PhaseAdvisoryPending:
		m.clearTurn()
		if m.pending != nil {
			handle := *m.pending
			m.pending = nil
			m.appendRound(handle, "", nil)
		}
	}
	m.complete(domain.SessionReasonFinishedEarly, true)
}

func (m *Machine) complete(reason domain.SessionStateReason, early bool) {
	m.cancelTimer()
	m.clearTurn()
	m.publish(reason, func(s *domain.SessionState) {
		s.Phase = domain.PhaseCompleted
		s.ActiveRecording = nil
		s.FinishedEarly = early
		s.RemainingMs = 0
		s.CompletedAt = m.deps.Clock.Now()
	})
	m.terminal = true
	m.deps.Logger.Info("session completed",
		"session", m.cfg.SessionID,
		"activity", m.cfg.ActivityID,
		"rounds", len(m.current().RoundHistory),
		"early", early,
	)
}

func (m *Machine) exit(ctx context.Context) {
	m.cancelTimer()
	m.clearTurn()

	state := m.current()
	if state.ActiveRecording != nil {
		if err := m.deps.Capture.Release(ctx, state.ActiveRecording.ID); err != nil {
			m.deps.Logger.Warn("release capture on exit", "session", m.cfg.SessionID, "err", err)
		}
	}
	resumable := m.cfg.Resumable && m.deps.Checkpoint != nil
	if m.pending != nil {
		handle := *m.pending
		m.pending = nil
		// A validated take waiting on its turn is kept for the resume point.
		if resumable {
			m.appendRound(handle, "", nil)
		} else {
			_ = m.deps.Capture.DiscardArtifact(handle)
		}
	}

	if resumable {
		if err := m.deps.Checkpoint.SavePartial(ctx, m.cfg, m.current()); err != nil {
			m.deps.Logger.Warn("save partial session", "session", m.cfg.SessionID, "err", err)
			m.deps.Events.SessionError(domain.ErrorCodePersistence, err.Error())
		}
	}

	m.publish(domain.SessionReasonExited, func(s *domain.SessionState) {
		s.Phase = domain.PhaseExited
		s.ActiveRecording = nil
		s.RemainingMs = 0
	})
	m.terminal = true
	m.deps.Logger.Info("session exited", "session", m.cfg.SessionID, "activity", m.cfg.ActivityID)
}

func (m *Machine) startTimer(total time.Duration) {
	m.cancelTimer()
	m.timerGen++
	gen := m.timerGen
	countdown := m.opts.Timers(total, m.opts.TickInterval)
	m.timer = countdown

	go func() {
		for ev := range countdown.Events() {
			select {
			case m.inbox <- timerFired{gen: gen, ev: ev}:
			case <-m.closed:
				return
			}
		}
	}()
}

func (m *Machine) cancelTimer() {
	if m.timer == nil {
		return
	}
	m.timer.Cancel()
	m.timer = nil
	m.timerGen++
}

func (m *Machine) clearTurn() {
	if m.turnCancel != nil {
		m.turnCancel()
		m.turnCancel = nil
	}
	m.turnGen++
}

func (m *Machine) current() domain.SessionState {
	return *m.state.Load()
}

// publish replaces the state wholesale and notifies observers.
func (m *Machine) publish(reason domain.SessionStateReason, mutate func(*domain.SessionState)) {
	next := m.publishQuiet(mutate)
	m.deps.Events.SessionStateChanged(next.Clone(), reason)
}

func (m *Machine) publishQuiet(mutate func(*domain.SessionState)) domain.SessionState {
	next := m.state.Load().Clone()
	mutate(&next)
	m.state.Store(&next)
	return next
}
