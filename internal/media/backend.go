package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"mediatrigger/internal/storage"
)

const (
	ffmpegBinary  = "ffmpeg"
	ffprobeBinary = "ffprobe"
	// stderrTail bounds how much subprocess stderr is carried in errors.
	stderrTail = 2048
)

// waitDelay bounds how long a cancelled command may keep its output pipes
// open, e.g. through a grandchild process that inherited stderr.
var waitDelay = 5 * time.Second

// Backend holds the resolved locations of the codec and probe binaries.
type Backend struct {
	FFmpeg  string
	FFprobe string
}

// LocateBackend resolves the binaries, preferring an explicit directory, then
// the storage adapter's sandbox layout, then PATH.
func LocateBackend(dir string, adapter storage.Adapter) (Backend, error) {
	resolve := func(name string) (string, error) {
		if dir != "" {
			return filepath.Join(dir, name), nil
		}
		if locator, ok := adapter.(storage.ExecutableLocator); ok {
			if path, err := locator.LocateExecutable(name); err == nil {
				return path, nil
			}
		}
		path, err := exec.LookPath(name)
		if err != nil {
			return "", fmt.Errorf("%w: %s: %w", ErrNotAvailable, name, err)
		}
		return path, nil
	}

	ffmpeg, err := resolve(ffmpegBinary)
	if err != nil {
		return Backend{}, err
	}
	ffprobe, err := resolve(ffprobeBinary)
	if err != nil {
		return Backend{}, err
	}
	return Backend{FFmpeg: ffmpeg, FFprobe: ffprobe}, nil
}

// IsAvailable reports whether both binaries exist and are executable.
func (b Backend) IsAvailable() error {
	for _, path := range []string{b.FFmpeg, b.FFprobe} {
		if _, err := exec.LookPath(path); err != nil {
			return fmt.Errorf("%w: %w", ErrNotAvailable, err)
		}
	}
	return nil
}

func (b Backend) buildCmd(ctx context.Context, binary, dir string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Dir = dir
	cmd.WaitDelay = waitDelay
	return cmd
}

func (b Backend) setupLogOutput(cmd *exec.Cmd, buffer *bytes.Buffer) {
	cmd.Stderr = buffer
}

// describeExit turns a failed Run into a message naming the exit code or
// signal, followed by the tail of stderr.
func describeExit(err error, stderr *bytes.Buffer) string {
	var msg string
	var exitErr *exec.ExitError
	switch {
	case errors.As(err, &exitErr) && exitErr.ExitCode() == -1:
		msg = "terminated by " + exitErr.String()
	case errors.As(err, &exitErr):
		msg = fmt.Sprintf("exit code %d", exitErr.ExitCode())
	default:
		msg = err.Error()
	}

	tail := strings.TrimSpace(stderr.String())
	if len(tail) > stderrTail {
		tail = tail[len(tail)-stderrTail:]
	}
	if tail != "" {
		msg += ": " + tail
	}
	return msg
}
