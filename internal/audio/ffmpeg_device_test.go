package audio

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"podium/internal/ports"
)

func TestFFMPEGDeviceRecordWritesFileAndStops(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "record.sh", "#!/usr/bin/env bash\nout=\"${@: -1}\"\nprintf 'RIFFdata' > \"$out\"\nsleep 2\n")
	device := NewFFMPEGDevice(script, "")
	path := filepath.Join(t.TempDir(), "take.wav")

	rec, err := device.Record(context.Background(), ports.AudioConfig{}, path)
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if err := rec.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if err := rec.Stop(); err != nil {
		t.Fatalf("second stop should be a no-op, got %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected recording file: %v", err)
	}
	if !strings.HasPrefix(string(data), "RIFF") {
		t.Fatalf("unexpected file contents: %q", string(data))
	}
}

func TestFFMPEGDeviceRecordEarlyExit(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "fail.sh", "#!/usr/bin/env bash\necho 'no such device' 1>&2\nexit 1\n")
	device := NewFFMPEGDevice(script, "")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := device.Record(ctx, ports.AudioConfig{}, filepath.Join(t.TempDir(), "x.wav"))
	if err == nil {
		t.Fatalf("expected early exit error")
	}
	if !strings.Contains(err.Error(), "exited before capture started") || !strings.Contains(err.Error(), "no such device") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestFFMPEGDeviceRecordMissingBinary(t *testing.T) {
	t.Parallel()

	device := NewFFMPEGDevice(filepath.Join(t.TempDir(), "missing-ffmpeg"), "")
	if _, err := device.Record(context.Background(), ports.AudioConfig{}, filepath.Join(t.TempDir(), "x.wav")); err == nil {
		t.Fatalf("expected start error for missing binary")
	}
}

func TestFFMPEGDevicePlayRunsToCompletion(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "play.sh", "#!/usr/bin/env bash\nexit 0\n")
	device := NewFFMPEGDevice("", script)

	pb, err := device.Play(context.Background(), "clip.wav")
	if err != nil {
		t.Fatalf("play failed: %v", err)
	}
	if err := pb.Wait(); err != nil {
		t.Fatalf("wait failed: %v", err)
	}
	if err := pb.Stop(); err != nil {
		t.Fatalf("stop after completion failed: %v", err)
	}
}

func TestFFMPEGDevicePlayStop(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "play.sh", "#!/usr/bin/env bash\nsleep 5\n")
	device := NewFFMPEGDevice("", script)

	pb, err := device.Play(context.Background(), "clip.wav")
	if err != nil {
		t.Fatalf("play failed: %v", err)
	}
	start := time.Now()
	if err := pb.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if time.Since(start) > 4*time.Second {
		t.Fatalf("stop did not terminate playback")
	}
}

func TestNormalizeStopErrExitErrorIsIgnored(t *testing.T) {
	t.Parallel()

	err := exec.Command("bash", "-lc", "exit 1").Run()
	if err == nil {
		t.Fatalf("expected command to fail")
	}
	if got := normalizeStopErr(err); got != nil {
		t.Fatalf("expected nil for exit error, got %v", got)
	}
}

func TestStringsTrimSpaceSafe(t *testing.T) {
	t.Parallel()

	if got := stringsTrimSpaceSafe("  hi\n"); got != "hi" {
		t.Fatalf("unexpected trim result: %q", got)
	}
}

func writeScript(t *testing.T, name string, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(contents), 0o700); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}
	return path
}
