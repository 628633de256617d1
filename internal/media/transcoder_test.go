package media

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediatrigger/internal/config"
	"mediatrigger/internal/media/mediatest"
)

func testConfig() config.Config {
	return config.New("derived", 30,
		strings.Fields("-c:v libx264 -metadata description=$KEY_PREFIX out.mp4 -vframes 1 out.png"),
		map[string]string{"mp4": "video/mp4", "png": "image/png"}, false)
}

func TestTranscoder_Args(t *testing.T) {
	args := NewTranscoder(Backend{}, testConfig()).Args("/tmp/inv/download", "videos/my clip")
	assert.Equal(t, []string{
		"-y", "-loglevel", "warning", "-i", "/tmp/inv/download",
		"-c:v", "libx264", "-metadata", "description=videos/my clip", "out.mp4", "-vframes", "1", "out.png",
	}, args)
}

func TestTranscode_PopulatesOutputDir(t *testing.T) {
	toolDir, outDir := t.TempDir(), t.TempDir()
	argsFile := filepath.Join(toolDir, "args.txt")
	backend := Backend{FFmpeg: mediatest.WriteTool(t, toolDir, "ffmpeg",
		"printf '%s\\n' \"$@\" > '"+argsFile+"'\n"+mediatest.WriteOutputs("out.mp4", "out.png"))}

	err := NewTranscoder(backend, testConfig()).Transcode(context.Background(), "/tmp/download", outDir, "clip")
	require.NoError(t, err)

	entries, err := os.ReadDir(outDir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"out.mp4", "out.png"}, names)

	recorded, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	assert.Contains(t, string(recorded), "description=clip\n")
	assert.Contains(t, string(recorded), "-i\n/tmp/download\n")
}

func TestTranscode_Failures(t *testing.T) {
	tests := []struct {
		name    string
		script  string
		wantMsg string
	}{
		{"non-zero exit", "echo 'Unknown encoder libx265' >&2\nexit 3", "exit code 3: Unknown encoder libx265"},
		{"killed by signal", "kill -9 $$", "terminated by signal: killed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := Backend{FFmpeg: mediatest.WriteTool(t, t.TempDir(), "ffmpeg", tt.script)}

			err := NewTranscoder(backend, testConfig()).Transcode(context.Background(), "/tmp/download", t.TempDir(), "clip")
			require.ErrorIs(t, err, ErrTranscodeExecution)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestTranscode_CancelledWithLingeringGrandchild(t *testing.T) {
	previous := waitDelay
	waitDelay = 100 * time.Millisecond
	t.Cleanup(func() { waitDelay = previous })

	// The background sleep inherits stderr and outlives the killed shell.
	backend := Backend{FFmpeg: mediatest.WriteTool(t, t.TempDir(), "ffmpeg", "sleep 10 &\nsleep 10")}
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := NewTranscoder(backend, testConfig()).Transcode(ctx, "/tmp/download", t.TempDir(), "clip")
	require.ErrorIs(t, err, ErrTranscodeExecution)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestLocateBackend(t *testing.T) {
	backend, err := LocateBackend("/opt/codecs", nil)
	require.NoError(t, err)
	assert.Equal(t, "/opt/codecs/ffmpeg", backend.FFmpeg)
	assert.Equal(t, "/opt/codecs/ffprobe", backend.FFprobe)
}

func TestBackend_IsAvailable(t *testing.T) {
	dir := t.TempDir()
	backend := Backend{
		FFmpeg:  mediatest.WriteTool(t, dir, "ffmpeg", "exit 0"),
		FFprobe: mediatest.WriteTool(t, dir, "ffprobe", "exit 0"),
	}
	assert.NoError(t, backend.IsAvailable())

	backend.FFprobe = filepath.Join(dir, "missing")
	assert.ErrorIs(t, backend.IsAvailable(), ErrNotAvailable)
}
