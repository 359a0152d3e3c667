package usecase

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"podium/internal/domain"
	"podium/internal/ports"
)

// CaptureController owns the system-wide capture device. At most one
// recording is active at a time across all sessions.
type CaptureController struct {
	device ports.CaptureDevice
	audio  ports.AudioConfig
	dir    string
	clock  ports.Clock

	mu     sync.Mutex
	active *activeCapture

	playMu  sync.Mutex
	playing *activePlayback
}

type activeCapture struct {
	handle domain.RecordingHandle
	rec    ports.Recording
	cancel context.CancelFunc
}

type activePlayback struct {
	playback ports.Playback
	stopped  bool
}

func NewCaptureController(device ports.CaptureDevice, audio ports.AudioConfig, dir string, clock ports.Clock) *CaptureController {
	if clock == nil {
		clock = SystemClock{}
	}
	return &CaptureController{device: device, audio: audio, dir: dir, clock: clock}
}

// BeginCapture starts recording into a file named after destinationID.
func (c *CaptureController) BeginCapture(ctx context.Context, destinationID string) (domain.RecordingHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != nil {
		return domain.RecordingHandle{}, &domain.DeviceError{Kind: domain.DeviceBusy}
	}
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return domain.RecordingHandle{}, &domain.DeviceError{Kind: domain.DeviceUnavailable, Err: fmt.Errorf("create capture dir: %w", err)}
	}

	path := filepath.Join(c.dir, destinationID+".wav")
	// The recording outlives the caller's request; only EndCapture or Release stop it.
	captureCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	rec, err := c.device.Record(captureCtx, c.audio, path)
	if err != nil {
		cancel()
		var devErr *domain.DeviceError
		if errors.As(err, &devErr) {
			return domain.RecordingHandle{}, err
		}
		return domain.RecordingHandle{}, &domain.DeviceError{Kind: domain.DeviceUnavailable, Err: err}
	}

	handle := domain.RecordingHandle{ID: destinationID, Path: path, StartedAt: c.clock.Now()}
	c.active = &activeCapture{handle: handle, rec: rec, cancel: cancel}
	return handle, nil
}

// EndCapture stops the active recording and returns its final metadata.
// The device is released even when stopping fails.
func (c *CaptureController) EndCapture(ctx context.Context) (domain.RecordingHandle, error) {
	c.mu.Lock()
	active := c.active
	c.active = nil
	c.mu.Unlock()

	if active == nil {
		return domain.RecordingHandle{}, &domain.DeviceError{Kind: domain.DeviceNoActiveCapture}
	}

	stopErr := active.rec.Stop()
	active.cancel()

	handle := active.handle
	handle.DurationMs = c.clock.Now().Sub(handle.StartedAt).Milliseconds()
	if info, err := os.Stat(handle.Path); err == nil {
		handle.SizeBytes = info.Size()
	}
	if stopErr != nil {
		return handle, &domain.DeviceError{Kind: domain.DeviceStopFailed, Err: stopErr}
	}
	return handle, nil
}

// Release stops the capture with the given id, if it is the active one, and
// deletes its partial artifact.
func (c *CaptureController) Release(ctx context.Context, id string) error {
	c.mu.Lock()
	active := c.active
	if active == nil || active.handle.ID != id {
		c.mu.Unlock()
		return nil
	}
	c.active = nil
	c.mu.Unlock()

	err := active.rec.Stop()
	active.cancel()
	if removeErr := removeArtifact(active.handle.Path); removeErr != nil && err == nil {
		err = removeErr
	}
	return err
}

// DiscardArtifact deletes a finished recording that will not be kept.
func (c *CaptureController) DiscardArtifact(handle domain.RecordingHandle) error {
	return removeArtifact(handle.Path)
}

// Active reports whether a recording currently holds the device.
func (c *CaptureController) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil
}

// Playback plays a file, stopping any playback already running. onDone runs
// when playback ends on its own; it is not called after StopPlayback.
func (c *CaptureController) Playback(ctx context.Context, path string, onDone func(error)) error {
	c.playMu.Lock()
	defer c.playMu.Unlock()

	c.stopPlaybackLocked()

	if _, err := os.Stat(path); err != nil {
		return &domain.DeviceError{Kind: domain.DevicePlaybackFailed, Err: err}
	}
	pb, err := c.device.Play(ctx, path)
	if err != nil {
		return &domain.DeviceError{Kind: domain.DevicePlaybackFailed, Err: err}
	}

	current := &activePlayback{playback: pb}
	c.playing = current
	go func() {
		waitErr := pb.Wait()

		c.playMu.Lock()
		stopped := current.stopped
		if c.playing == current {
			c.playing = nil
		}
		c.playMu.Unlock()

		if !stopped && onDone != nil {
			onDone(waitErr)
		}
	}()
	return nil
}

// StopPlayback stops the active playback, if any.
func (c *CaptureController) StopPlayback() error {
	c.playMu.Lock()
	defer c.playMu.Unlock()
	return c.stopPlaybackLocked()
}

func (c *CaptureController) stopPlaybackLocked() error {
	if c.playing == nil {
		return nil
	}
	current := c.playing
	c.playing = nil
	current.stopped = true
	return current.playback.Stop()
}

func removeArtifact(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
