package media

import "errors"

var (
	// ErrFormatSpoof is returned when a file's contents are a streaming
	// playlist rather than the binary media its name claims.
	ErrFormatSpoof = errors.New("file looks like an M3U playlist, bailing out")
	// ErrNoValidVideoStream is returned when probing finds no video stream
	// within the configured duration ceiling.
	ErrNoValidVideoStream = errors.New("no valid video stream found")
	// ErrProbeExecution is returned when the probe tool fails or prints
	// something that is not its JSON report.
	ErrProbeExecution = errors.New("probe execution failed")
	// ErrTranscodeExecution is returned when the codec tool exits non-zero
	// or is killed by a signal.
	ErrTranscodeExecution = errors.New("transcode execution failed")
	// ErrNotAvailable is returned when a codec binary cannot be found.
	ErrNotAvailable = errors.New("the selected backend is not available")
)
