package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"podium/internal/ports"
)

const (
	startSettle = 250 * time.Millisecond
	stopGrace   = 1200 * time.Millisecond
)

// FFMPEGDevice records the microphone to WAV files with ffmpeg and plays
// files back with ffplay.
type FFMPEGDevice struct {
	recorder string
	player   string
}

func NewFFMPEGDevice(recorder, player string) *FFMPEGDevice {
	if recorder == "" {
		recorder = "ffmpeg"
	}
	if player == "" {
		player = "ffplay"
	}
	return &FFMPEGDevice{recorder: recorder, player: player}
}

// Record starts ffmpeg writing the configured input to path.
func (d *FFMPEGDevice) Record(ctx context.Context, cfg ports.AudioConfig, path string) (ports.Recording, error) {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = "pulse"
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = "default"
	}

	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", cfg.InputFormat,
		"-i", cfg.InputDevice,
		"-ac", strconv.Itoa(cfg.Channels),
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-y",
		path,
	}

	proc, err := startProcess(ctx, d.recorder, args)
	if err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	select {
	case err, ok := <-proc.waitErr:
		proc.exited(err, ok)
		if err != nil {
			return nil, fmt.Errorf("ffmpeg exited before capture started: %w: %s", err, stringsTrimSpaceSafe(proc.stderr.String()))
		}
		return nil, errors.New("ffmpeg exited before capture started")
	case <-time.After(startSettle):
	}
	return proc, nil
}

// Play starts ffplay on path without a window.
func (d *FFMPEGDevice) Play(ctx context.Context, path string) (ports.Playback, error) {
	args := []string{"-nodisp", "-autoexit", "-loglevel", "error", path}
	proc, err := startProcess(ctx, d.player, args)
	if err != nil {
		return nil, fmt.Errorf("failed to start ffplay: %w", err)
	}
	return proc, nil
}

type process struct {
	proc    *os.Process
	stderr  *bytes.Buffer
	waitErr chan error

	mu       sync.Mutex
	done     bool
	finalErr error

	stopOnce sync.Once
	stopErr  error
}

func startProcess(ctx context.Context, command string, args []string) (*process, error) {
	cmd := exec.CommandContext(ctx, command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	p := &process{proc: cmd.Process, stderr: &stderr, waitErr: make(chan error, 1)}
	go func() {
		p.waitErr <- cmd.Wait()
		close(p.waitErr)
	}()
	return p, nil
}

func (p *process) exited(err error, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ok {
		p.finalErr = err
	}
	p.done = true
}

func (p *process) result() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done, p.finalErr
}

// Wait blocks until the process exits on its own or is stopped.
func (p *process) Wait() error {
	if done, err := p.result(); done {
		return normalizeStopErr(err)
	}
	err, ok := <-p.waitErr
	p.exited(err, ok)
	if !ok {
		_, err = p.result()
	}
	return normalizeStopErr(err)
}

// Stop interrupts the process so ffmpeg can finalize its output, and kills
// it if it does not exit within the grace period.
func (p *process) Stop() error {
	p.stopOnce.Do(func() {
		if done, err := p.result(); done {
			p.stopErr = normalizeStopErr(err)
			return
		}
		if p.proc != nil {
			_ = p.proc.Signal(os.Interrupt)
		}

		select {
		case err, ok := <-p.waitErr:
			p.exited(err, ok)
		case <-time.After(stopGrace):
			if p.proc != nil {
				_ = p.proc.Kill()
			}
			err, ok := <-p.waitErr
			p.exited(err, ok)
		}
		_, err := p.result()
		p.stopErr = normalizeStopErr(err)

		if p.stopErr != nil && p.stderr != nil && p.stderr.Len() > 0 {
			p.stopErr = fmt.Errorf("%w: %s", p.stopErr, stringsTrimSpaceSafe(p.stderr.String()))
		}
	})

	return p.stopErr
}

func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

func stringsTrimSpaceSafe(input string) string {
	if input == "" {
		return input
	}
	return string(bytes.TrimSpace([]byte(input)))
}
