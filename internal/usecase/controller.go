package usecase

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"podium/internal/domain"
	"podium/internal/ports"
)

// ErrNoActiveSession is returned when no practice session is running.
var ErrNoActiveSession = domain.ErrNoActiveSession

// Resolver maps an activity selection onto a session configuration.
type Resolver interface {
	Resolve(sel domain.Selection) (domain.SessionConfig, error)
}

// Config controls session behaviour shared by every activity.
type Config struct {
	TickInterval     time.Duration
	MinArtifactBytes int64
	Timers           TimerFactory
}

// ControllerDeps are the collaborators of a practice controller.
type ControllerDeps struct {
	Resolver    Resolver
	Capture     *CaptureController
	Advisor     ports.Advisor
	Transcriber ports.Transcriber
	Coordinator *Coordinator
	Events      ports.EventSink
	Clock       ports.Clock
	IDs         ports.IDGenerator
	Logger      *slog.Logger
}

// PracticeController holds the session the user is currently running and
// persists it once it completes.
type PracticeController struct {
	deps ControllerDeps
	cfg  Config

	mu      sync.Mutex
	current *activeSession
}

func NewPracticeController(deps ControllerDeps, cfg Config) *PracticeController {
	if deps.Events == nil {
		deps.Events = NopSink{}
	}
	if deps.Transcriber == nil {
		deps.Transcriber = PlaceholderTranscriber{}
	}
	if deps.Clock == nil {
		deps.Clock = SystemClock{}
	}
	if deps.IDs == nil {
		deps.IDs = UUIDs{}
	}
	deps.Logger = loggerOrDefault(deps.Logger)
	return &PracticeController{deps: deps, cfg: cfg}
}

// Start resolves the selection and begins a new session. A session that is
// still running is exited first.
func (c *PracticeController) Start(ctx context.Context, sel domain.Selection) (domain.SessionState, error) {
	var previous *activeSession

	c.mu.Lock()
	if c.current != nil {
		previous = c.current
		c.current = nil
	}
	c.mu.Unlock()

	if previous != nil {
		c.stopSession(previous)
	}

	cfg, err := c.deps.Resolver.Resolve(sel)
	if err != nil {
		c.deps.Events.SessionError(domain.ErrorCodeConfig, err.Error())
		return domain.SessionState{}, err
	}
	if cfg.SessionID == "" {
		cfg.SessionID = c.deps.IDs.NewID()
	}

	var history []domain.RoundResult
	if cfg.Resumable {
		history, err = c.deps.Coordinator.Resume(ctx, cfg.SessionID)
		if err != nil {
			return domain.SessionState{}, err
		}
	}

	machine, err := NewMachine(cfg, MachineDeps{
		Capture:     c.deps.Capture,
		Advisor:     c.deps.Advisor,
		Transcriber: c.deps.Transcriber,
		Checkpoint:  c.deps.Coordinator,
		Events:      c.deps.Events,
		Clock:       c.deps.Clock,
		IDs:         c.deps.IDs,
		Logger:      c.deps.Logger,
	}, MachineOptions{
		TickInterval:     c.cfg.TickInterval,
		MinArtifactBytes: c.cfg.MinArtifactBytes,
		History:          history,
		Timers:           c.cfg.Timers,
	})
	if err != nil {
		return domain.SessionState{}, err
	}

	// Sessions outlive the request that started them.
	sessionCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	active := &activeSession{
		machine: machine,
		config:  cfg,
		cancel:  cancel,
		settled: make(chan struct{}),
	}

	c.mu.Lock()
	c.current = active
	c.mu.Unlock()

	machine.Start(sessionCtx)
	go c.watch(context.WithoutCancel(sessionCtx), active)
	return machine.Snapshot(), nil
}

func (c *PracticeController) SkipPreparation() error {
	return c.withMachine(func(m *Machine) error { return m.SkipPreparation() })
}

func (c *PracticeController) StopCapture() error {
	return c.withMachine(func(m *Machine) error { return m.StopCapture() })
}

func (c *PracticeController) Rerecord() error {
	return c.withMachine(func(m *Machine) error { return m.Rerecord() })
}

func (c *PracticeController) FinishEarly() error {
	return c.withMachine(func(m *Machine) error { return m.FinishEarly() })
}

// Exit abandons the running session, or dismisses a finished one.
func (c *PracticeController) Exit() error {
	active, err := c.getCurrent()
	if err != nil {
		return err
	}

	c.stopSession(active)

	c.mu.Lock()
	if c.current == active {
		c.current = nil
	}
	c.mu.Unlock()
	return nil
}

// RetryCompletion re-runs persistence for a completed session whose first
// write-back failed. Nothing is re-recorded.
func (c *PracticeController) RetryCompletion(ctx context.Context) (Completion, error) {
	active, err := c.getCurrent()
	if err != nil {
		return Completion{}, err
	}
	<-active.settled

	completion, persistErr := active.persistResult()
	if persistErr == nil {
		if completion != nil {
			return *completion, nil
		}
		return Completion{}, domain.ErrActionNotAllowed
	}

	active.stateMu.Lock()
	if active.persisting {
		active.stateMu.Unlock()
		return Completion{}, domain.ErrActionNotAllowed
	}
	active.persisting = true
	active.stateMu.Unlock()

	defer func() {
		active.stateMu.Lock()
		active.persisting = false
		active.stateMu.Unlock()
	}()
	return c.persist(ctx, active, active.snapshot())
}

// Wait blocks until the current session has stopped and its completion, if
// any, was attempted. It returns the final state and any persistence error.
func (c *PracticeController) Wait(ctx context.Context) (domain.SessionState, error) {
	active, err := c.getCurrent()
	if err != nil {
		return domain.SessionState{}, err
	}
	select {
	case <-active.settled:
	case <-ctx.Done():
		return active.snapshot(), ctx.Err()
	}
	_, persistErr := active.persistResult()
	return active.snapshot(), persistErr
}

// Snapshot returns the latest published state of the current session.
func (c *PracticeController) Snapshot() (domain.SessionState, error) {
	active, err := c.getCurrent()
	if err != nil {
		return domain.SessionState{}, err
	}
	return active.snapshot(), nil
}

// Status returns the current backend status.
func (c *PracticeController) Status() domain.Status {
	c.mu.Lock()
	active := c.current
	c.mu.Unlock()

	if active == nil {
		return domain.Status{Phase: domain.PhaseSetup, Active: false}
	}
	state := active.snapshot()
	status := domain.Status{
		Phase:     state.Phase,
		Active:    !state.Phase.Terminal(),
		SessionID: state.SessionID,
	}
	if state.LastError != nil {
		status.Message = state.LastError.Message
	}
	return status
}

// Playback plays a recording through the capture device.
func (c *PracticeController) Playback(ctx context.Context, path string, onDone func(error)) error {
	return c.deps.Capture.Playback(ctx, path, onDone)
}

func (c *PracticeController) StopPlayback() error {
	return c.deps.Capture.StopPlayback()
}

// Close exits the running session, if any.
func (c *PracticeController) Close() {
	c.mu.Lock()
	active := c.current
	c.current = nil
	c.mu.Unlock()
	if active != nil {
		c.stopSession(active)
	}
	_ = c.deps.Capture.StopPlayback()
}

func (c *PracticeController) withMachine(fn func(*Machine) error) error {
	active, err := c.getCurrent()
	if err != nil {
		return err
	}
	return fn(active.machine)
}

func (c *PracticeController) getCurrent() (*activeSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil, ErrNoActiveSession
	}
	return c.current, nil
}

func (c *PracticeController) stopSession(active *activeSession) {
	_ = active.machine.Exit()
	active.cancel()
	<-active.settled
}

func (c *PracticeController) watch(ctx context.Context, active *activeSession) {
	defer close(active.settled)
	<-active.machine.Done()

	state := active.machine.Snapshot()
	if state.Phase != domain.PhaseCompleted {
		active.setFinal(state)
		c.mu.Lock()
		if c.current == active {
			c.current = nil
		}
		c.mu.Unlock()
		return
	}
	_, _ = c.persist(ctx, active, state)
}

func (c *PracticeController) persist(ctx context.Context, active *activeSession, state domain.SessionState) (Completion, error) {
	completion, err := c.deps.Coordinator.Complete(ctx, active.config, state)
	if err != nil {
		state.LastError = domain.Describe(err)
		active.stateMu.Lock()
		active.final = &state
		active.persistErr = err
		active.stateMu.Unlock()

		c.deps.Logger.Error("persist session", "session", state.SessionID, "err", err)
		c.deps.Events.SessionError(domain.ErrorCodePersistence, err.Error())
		c.deps.Events.SessionStateChanged(state.Clone(), domain.SessionReasonPersistenceFailed)
		return Completion{}, err
	}

	state.Persisted = true
	if len(completion.Rounds) == len(state.RoundHistory) {
		state.RoundHistory = completion.Rounds
	}
	if state.LastError != nil && state.LastError.Code == domain.ErrorCodePersistence {
		state.LastError = nil
	}
	active.stateMu.Lock()
	active.final = &state
	active.completion = &completion
	active.persistErr = nil
	active.stateMu.Unlock()

	c.deps.Events.SessionStateChanged(state.Clone(), domain.SessionReasonPersisted)
	return completion, nil
}
