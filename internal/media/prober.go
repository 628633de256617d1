package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// ProbeResult is the verdict of a probe run.
type ProbeResult struct {
	HasValidVideoStream bool
	// DurationSeconds is the duration of the accepted video stream, or of the
	// first video stream seen when none was accepted. Zero when unknown.
	DurationSeconds float64
}

// Prober runs ffprobe and enforces the duration ceiling. The ceiling is a
// rejection threshold; inputs are never shortened to fit.
type Prober struct {
	backend            Backend
	maxDurationSeconds float64
}

func NewProber(backend Backend, maxDurationSeconds float64) *Prober {
	return &Prober{backend: backend, maxDurationSeconds: maxDurationSeconds}
}

// Probe inspects path. It returns ErrProbeExecution when ffprobe fails and
// ErrNoValidVideoStream when no stream qualifies.
func (p *Prober) Probe(ctx context.Context, path string) (ProbeResult, error) {
	logger := zerolog.Ctx(ctx)
	logger.Info().Str("path", path).Msg("starting ffprobe")

	var stderr bytes.Buffer
	cmd := p.backend.buildCmd(ctx, p.backend.FFprobe, filepath.Dir(path),
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		"-i", path,
	)
	p.backend.setupLogOutput(cmd, &stderr)

	out, err := cmd.Output()
	if err != nil {
		return ProbeResult{}, fmt.Errorf("%w: %s", ErrProbeExecution, describeExit(err, &stderr))
	}
	logger.Debug().RawJSON("ffprobe", compactJSON(out)).Msg("ffprobe output")

	report, err := ParseJSON(out)
	if err != nil {
		return ProbeResult{}, err
	}

	result := report.Evaluate(p.maxDurationSeconds)
	if !result.HasValidVideoStream {
		return result, fmt.Errorf("%w: max duration %gs, video duration %gs",
			ErrNoValidVideoStream, p.maxDurationSeconds, result.DurationSeconds)
	}
	logger.Info().Float64("duration", result.DurationSeconds).Msg("valid video stream found, ffprobe finished")
	return result, nil
}

// Report is the part of ffprobe's JSON output the prober reads.
type Report struct {
	Streams []Stream `json:"streams"`
	Format  Format   `json:"format"`
}

type Stream struct {
	Index       int            `json:"index"`
	CodecType   string         `json:"codec_type"`
	CodecName   string         `json:"codec_name"`
	Duration    string         `json:"duration"`
	Disposition map[string]int `json:"disposition"`
}

type Format struct {
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
}

// ParseJSON decodes raw ffprobe output. Exported for testing without a real
// ffprobe binary.
func ParseJSON(data []byte) (*Report, error) {
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w: parse ffprobe JSON: %w", ErrProbeExecution, err)
	}
	return &r, nil
}

// Evaluate accepts the report when some video stream lasts no longer than
// maxDurationSeconds. A stream without its own duration falls back to the
// container duration; a stream with no known duration at all is rejected.
// Cover art (attached pictures) does not count as video.
func (r *Report) Evaluate(maxDurationSeconds float64) ProbeResult {
	var result ProbeResult
	seenVideo := false
	for _, s := range r.Streams {
		if s.CodecType != "video" || s.Disposition["attached_pic"] == 1 {
			continue
		}
		duration, known := parseDuration(s.Duration)
		if !known {
			duration, known = parseDuration(r.Format.Duration)
		}
		if !seenVideo {
			result.DurationSeconds = duration
			seenVideo = true
		}
		if known && duration <= maxDurationSeconds {
			return ProbeResult{HasValidVideoStream: true, DurationSeconds: duration}
		}
	}
	return result
}

// ffprobe reports durations as decimal strings, or "N/A" when unknown.
func parseDuration(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" || s == "N/A" {
		return 0, false
	}
	d, err := strconv.ParseFloat(s, 64)
	if err != nil || d < 0 {
		return 0, false
	}
	return d, true
}

func compactJSON(data []byte) []byte {
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return []byte("null")
	}
	return buf.Bytes()
}
