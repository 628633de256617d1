package storage

import (
	"io"

	"github.com/rs/zerolog"
)

// progressStep is the percentage granularity at which upload progress is
// logged.
const progressStep = 10

// ProgressReporter logs transfer progress for a single upload. It is purely
// observational: nothing it does affects whether the upload succeeds.
type ProgressReporter struct {
	logger      zerolog.Logger
	key         string
	contentType string
	total       int64
	lastPct     int64
}

func NewProgressReporter(logger zerolog.Logger, key, contentType string, total int64) *ProgressReporter {
	return &ProgressReporter{logger: logger, key: key, contentType: contentType, total: total, lastPct: -progressStep}
}

// Report records that loaded bytes have been transferred so far.
func (p *ProgressReporter) Report(loaded int64) {
	if p.total <= 0 {
		p.logger.Debug().Str("key", p.key).Str("contentType", p.contentType).Int64("loaded", loaded).Msg("upload progress")
		return
	}
	pct := 100 * loaded / p.total
	if pct-p.lastPct < progressStep && pct != 100 {
		return
	}
	if pct == p.lastPct {
		return
	}
	p.lastPct = pct
	p.logger.Debug().
		Str("key", p.key).
		Str("contentType", p.contentType).
		Int64("loaded", loaded).
		Int64("total", p.total).
		Int64("percent", pct).
		Msg("upload progress")
}

type progressReader struct {
	r        io.Reader
	loaded   int64
	reporter *ProgressReporter
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.loaded += int64(n)
		p.reporter.Report(p.loaded)
	}
	return n, err
}

type progressReadSeeker struct {
	progressReader
	s io.Seeker
}

func (p *progressReadSeeker) Seek(offset int64, whence int) (int64, error) {
	n, err := p.s.Seek(offset, whence)
	if err == nil {
		p.loaded = n
	}
	return n, err
}

// WithProgress wraps r so every read is reported. Seekable readers stay
// seekable, which SDKs rely on to sign or retry request bodies.
func WithProgress(r io.Reader, reporter *ProgressReporter) io.Reader {
	pr := progressReader{r: r, reporter: reporter}
	if s, ok := r.(io.Seeker); ok {
		return &progressReadSeeker{progressReader: pr, s: s}
	}
	return &pr
}
