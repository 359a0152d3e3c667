// Package desktop binds the practice engine to the Wails shell.
package desktop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"podium/internal/bootstrap"
	"podium/internal/config"
	"podium/internal/domain"
	"podium/internal/live"
	"podium/internal/usecase"
)

const (
	eventSession = "podium:session"
	eventTick    = "podium:tick"
	eventError   = "podium:error"
	eventPlayed  = "podium:playback"
)

// App is the Wails application root.
type App struct {
	ctx    context.Context
	cfg    config.Config
	logger *slog.Logger
	hub    *live.Hub

	mu       sync.RWMutex
	services *bootstrap.Services
	api      http.Handler
	bootErr  error
}

func NewApp(cfg config.Config, logger *slog.Logger) *App {
	if logger == nil {
		logger = slog.Default()
	}
	return &App{
		cfg:    cfg,
		logger: logger,
		hub:    live.NewHub(cfg.Server.AllowedOrigins, logger),
	}
}

// Startup builds the backend once the window exists.
func (a *App) Startup(ctx context.Context) {
	a.ctx = ctx

	services, err := bootstrap.Build(ctx, a.cfg, a.logger, a, a.hub)
	if err != nil {
		a.mu.Lock()
		a.bootErr = err
		a.mu.Unlock()
		a.SessionError(domain.ErrorCodeStartup, err.Error())
		return
	}

	api := live.NewServer(live.ServerDeps{
		Practice: services.Controller,
		Catalog:  services.Resolver.Catalog(),
		Store:    services.Store,
		Hub:      a.hub,
		UserID:   a.cfg.UserID,
		Logger:   a.logger,
	}, a.cfg.Server.AllowedOrigins)

	a.mu.Lock()
	a.services = &services
	a.api = api.Handler()
	a.mu.Unlock()
}

// Shutdown releases the backend when the window closes.
func (a *App) Shutdown(context.Context) {
	a.hub.Close()
	services, err := a.ready()
	if err != nil {
		return
	}
	if err := services.Close(); err != nil {
		a.logger.Warn("close services", "err", err)
	}
}

// Reload applies a changed configuration file.
func (a *App) Reload(cfg config.Config) {
	if services, err := a.ready(); err == nil {
		services.Reload(cfg)
	}
}

// ServeHTTP serves the local API to the frontend through the asset server.
func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.mu.RLock()
	api, bootErr := a.api, a.bootErr
	a.mu.RUnlock()

	if api == nil {
		msg := "backend is starting"
		if bootErr != nil {
			msg = bootErr.Error()
		}
		http.Error(w, msg, http.StatusServiceUnavailable)
		return
	}
	api.ServeHTTP(w, r)
}

// ListActivities returns the catalog.
func (a *App) ListActivities() ([]string, error) {
	services, err := a.ready()
	if err != nil {
		return nil, err
	}
	activities := services.Resolver.Catalog().List()
	ids := make([]string, 0, len(activities))
	for _, activity := range activities {
		ids = append(ids, activity.ID)
	}
	return ids, nil
}

// StartSession begins the selected activity.
func (a *App) StartSession(sel domain.Selection) (domain.SessionState, error) {
	services, err := a.ready()
	if err != nil {
		return domain.SessionState{}, err
	}
	state, err := services.Controller.Start(a.ctx, sel)
	if err != nil {
		a.reportError(err)
		return domain.SessionState{}, err
	}
	return state, nil
}

// SkipPreparation ends the preparation countdown early.
func (a *App) SkipPreparation() error {
	return a.act(func(c *usecase.PracticeController) error { return c.SkipPreparation() })
}

// StopCapture ends the current recording.
func (a *App) StopCapture() error {
	return a.act(func(c *usecase.PracticeController) error { return c.StopCapture() })
}

// Rerecord discards the current take and records again.
func (a *App) Rerecord() error {
	return a.act(func(c *usecase.PracticeController) error { return c.Rerecord() })
}

// FinishEarly completes the session with the rounds recorded so far.
func (a *App) FinishEarly() error {
	return a.act(func(c *usecase.PracticeController) error { return c.FinishEarly() })
}

// ExitSession abandons the session.
func (a *App) ExitSession() error {
	err := a.act(func(c *usecase.PracticeController) error { return c.Exit() })
	if errors.Is(err, usecase.ErrNoActiveSession) {
		return nil
	}
	return err
}

// RetryCompletion re-runs a failed write-back.
func (a *App) RetryCompletion() (usecase.Completion, error) {
	services, err := a.ready()
	if err != nil {
		return usecase.Completion{}, err
	}
	completion, err := services.Controller.RetryCompletion(a.ctx)
	if err != nil {
		a.reportError(err)
		return usecase.Completion{}, err
	}
	return completion, nil
}

// GetStatus returns the current session status.
func (a *App) GetStatus() domain.Status {
	services, err := a.ready()
	if err != nil {
		a.mu.RLock()
		bootErr := a.bootErr
		a.mu.RUnlock()
		if bootErr != nil {
			return domain.Status{Phase: domain.PhaseSetup, Active: false, Message: bootErr.Error()}
		}
		return domain.Status{Phase: domain.PhaseSetup, Active: false}
	}
	return services.Controller.Status()
}

// GetProgress returns the stored practice aggregate.
func (a *App) GetProgress() (domain.UserProgress, error) {
	services, err := a.ready()
	if err != nil {
		return domain.UserProgress{}, err
	}
	progress, err := services.Store.GetProgress(a.ctx, a.cfg.UserID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.UserProgress{UserID: a.cfg.UserID}, nil
	}
	return progress, err
}

// GetHistory returns recent session records.
func (a *App) GetHistory(limit int) ([]domain.SessionRecord, error) {
	services, err := a.ready()
	if err != nil {
		return nil, err
	}
	return services.Store.ListSessions(a.ctx, limit)
}

// PlayRecording plays a stored recording and emits an event when it ends.
func (a *App) PlayRecording(recordingID string) error {
	services, err := a.ready()
	if err != nil {
		return err
	}
	err = services.Play(a.ctx, recordingID, func(playErr error) {
		payload := map[string]string{"recordingId": recordingID}
		if playErr != nil {
			payload["error"] = playErr.Error()
		}
		a.emit(eventPlayed, payload)
	})
	if err != nil {
		a.SessionError(domain.ErrorCodePlayback, err.Error())
	}
	return err
}

// StopPlayback stops any playing recording.
func (a *App) StopPlayback() error {
	services, err := a.ready()
	if err != nil {
		return err
	}
	return services.Controller.StopPlayback()
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	a.mu.RLock()
	bootErr := a.bootErr
	a.mu.RUnlock()
	if bootErr != nil {
		return map[string]string{"error": bootErr.Error()}
	}

	return map[string]string{
		"provider":         a.cfg.Advisory.Provider,
		"model":            a.cfg.Advisory.Model,
		"store":            a.cfg.Store.Driver,
		"artifacts":        a.cfg.Artifacts.Backend,
		"rulesFile":        a.cfg.Advisory.RulesFile,
		"audioInput":       a.cfg.Audio.InputDevice,
		"audioInputFormat": a.cfg.Audio.InputFormat,
	}
}

func (a *App) ready() (*bootstrap.Services, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.bootErr != nil {
		return nil, a.bootErr
	}
	if a.services == nil {
		return nil, fmt.Errorf("application is not initialized")
	}
	return a.services, nil
}

func (a *App) act(fn func(*usecase.PracticeController) error) error {
	services, err := a.ready()
	if err != nil {
		return err
	}
	if err := fn(services.Controller); err != nil {
		a.reportError(err)
		return err
	}
	return nil
}

func (a *App) reportError(err error) {
	if errors.Is(err, usecase.ErrNoActiveSession) {
		return
	}
	info := domain.Describe(err)
	a.SessionError(info.Code, info.Detail)
}

// SessionStateChanged emits session lifecycle updates to the frontend.
func (a *App) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	a.emit(eventSession, map[string]any{
		"state":   state,
		"reason":  string(reason),
		"message": sessionReasonMessage(reason),
	})
}

// CountdownTick emits the remaining time of the current phase.
func (a *App) CountdownTick(sessionID string, phase domain.Phase, remaining time.Duration) {
	a.emit(eventTick, map[string]any{
		"sessionId":   sessionID,
		"phase":       string(phase),
		"remainingMs": remaining.Milliseconds(),
	})
}

// SessionError emits backend errors to the UI.
func (a *App) SessionError(code domain.ErrorCode, detail string) {
	a.emit(eventError, map[string]string{
		"code":    string(code),
		"message": errorMessage(code, detail),
		"detail":  detail,
	})
}

func (a *App) emit(name string, payload any) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, name, payload)
}

func sessionReasonMessage(reason domain.SessionStateReason) string {
	switch reason {
	case domain.SessionReasonStarted:
		return "Session started"
	case domain.SessionReasonResumed:
		return "Picking up where you left off"
	case domain.SessionReasonPreparationStarted:
		return "Get ready"
	case domain.SessionReasonPreparationSkipped, domain.SessionReasonPreparationElapsed:
		return "Recording"
	case domain.SessionReasonCaptureRestarted:
		return "Recording restarted; previous take discarded"
	case domain.SessionReasonCaptureStopped:
		return "Recording stopped"
	case domain.SessionReasonCaptureTimeLimit:
		return "Time is up"
	case domain.SessionReasonCaptureRejected:
		return "Recording too short; try again"
	case domain.SessionReasonDeviceFailed:
		return "Microphone unavailable"
	case domain.SessionReasonAdvisoryRequested:
		return "Waiting for your counterpart..."
	case domain.SessionReasonRoundRecorded:
		return "Round recorded"
	case domain.SessionReasonFinishedEarly:
		return "Session finished early"
	case domain.SessionReasonCompleted:
		return "Session complete"
	case domain.SessionReasonExited:
		return "Session exited"
	case domain.SessionReasonPersisted:
		return "Progress saved"
	case domain.SessionReasonPersistenceFailed:
		return "Could not save progress"
	default:
		return ""
	}
}

func errorMessage(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeStartup:
		return "Startup failed"
	case domain.ErrorCodeDevice:
		return "Audio device issue"
	case domain.ErrorCodeAdvisory:
		return "Counterpart unavailable"
	case domain.ErrorCodeValidation:
		return "Recording rejected"
	case domain.ErrorCodePersistence:
		return "Saving failed"
	case domain.ErrorCodeConfig:
		return "Activity could not be configured"
	case domain.ErrorCodePlayback:
		return "Playback failed"
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}
