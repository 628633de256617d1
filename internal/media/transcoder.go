package media

import (
	"bytes"
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"mediatrigger/internal/config"
)

// Transcoder runs the codec tool once per invocation with the configured
// argument template. Which derivatives come out, and how many, is decided
// entirely by that template.
type Transcoder struct {
	backend Backend
	cfg     config.Config
}

func NewTranscoder(backend Backend, cfg config.Config) *Transcoder {
	return &Transcoder{backend: backend, cfg: cfg}
}

// Args returns the full ffmpeg argument list for one run. Relative output
// names in the template resolve against the output directory.
func (t *Transcoder) Args(inputPath, keyPrefix string) []string {
	args := []string{"-y", "-loglevel", "warning", "-i", inputPath}
	return append(args, t.cfg.TranscodeArgs(keyPrefix)...)
}

// Transcode populates outputDir from inputPath and returns once the process
// has exited.
func (t *Transcoder) Transcode(ctx context.Context, inputPath, outputDir, keyPrefix string) error {
	logger := zerolog.Ctx(ctx)
	args := t.Args(inputPath, keyPrefix)
	logger.Info().Strs("args", args).Msg("starting ffmpeg")

	var stderr bytes.Buffer
	cmd := t.backend.buildCmd(ctx, t.backend.FFmpeg, outputDir, args...)
	t.backend.setupLogOutput(cmd, &stderr)

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: %s", ErrTranscodeExecution, describeExit(err, &stderr))
	}
	if stderr.Len() > 0 {
		logger.Warn().Str("stderr", stderr.String()).Msg("ffmpeg reported warnings")
	}
	logger.Info().Msg("successfully executed the command")
	return nil
}
