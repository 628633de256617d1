// Package pipeline runs one object-created notification through fetch,
// validation, probing, transcoding and publishing.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"mediatrigger/internal/config"
	"mediatrigger/internal/media"
	"mediatrigger/internal/notify"
	"mediatrigger/internal/publish"
	"mediatrigger/internal/storage"
)

const (
	downloadName  = "download"
	outputDirName = "outputs"
	// notifyTimeout bounds each status notification.
	notifyTimeout = 2 * time.Second
)

var (
	ErrDriverReused = errors.New("pipeline driver has already run")
	ErrPanic        = errors.New("pipeline panicked")
)

// Invocation is one unit of work. Complete is called exactly once.
type Invocation struct {
	// Event is the provider payload, decoded by the storage adapter.
	Event    []byte
	Complete func(Result, error)
}

// Result describes a successful run.
type Result struct {
	Source storage.SourceLocation
	// Bucket and Keys locate the published derivatives.
	Bucket string
	Keys   []string
}

type Option func(*Driver)

func WithNotifier(n notify.Notifier) Option {
	return func(d *Driver) { d.notifier = n }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(d *Driver) { d.logger = logger }
}

// WithBackend skips binary resolution and uses backend as is.
func WithBackend(backend media.Backend) Option {
	return func(d *Driver) { d.backend = &backend }
}

// Driver is single-use: construct one per invocation.
type Driver struct {
	cfg      config.Config
	adapter  storage.Adapter
	notifier notify.Notifier
	logger   zerolog.Logger
	backend  *media.Backend

	id     string
	source storage.SourceLocation
	state  atomic.Value
	ran    atomic.Bool
}

func New(cfg config.Config, adapter storage.Adapter, opts ...Option) *Driver {
	d := &Driver{
		cfg:     cfg,
		adapter: adapter,
		logger:  zerolog.Nop(),
		id:      uuid.NewString(),
	}
	d.state.Store(StateIdle)
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ID identifies this run in logs and notifications.
func (d *Driver) ID() string {
	return d.id
}

func (d *Driver) State() State {
	return d.state.Load().(State)
}

// Run executes the pipeline and then calls inv.Complete. A second call on the
// same driver completes immediately with ErrDriverReused.
func (d *Driver) Run(ctx context.Context, inv Invocation) {
	if !d.ran.CompareAndSwap(false, true) {
		inv.Complete(Result{}, ErrDriverReused)
		return
	}
	result, err := d.execute(ctx, inv.Event)
	inv.Complete(result, err)
}

func (d *Driver) execute(ctx context.Context, event []byte) (result Result, err error) {
	logger := d.logger.With().Str("invocationId", d.id).Logger()
	ctx = logger.WithContext(ctx)

	var workDir string
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
		if err != nil {
			result = Result{}
			d.fail(ctx, err, workDir)
		}
	}()

	d.source, err = d.adapter.LocateSource(event)
	if err != nil {
		return Result{}, err
	}
	logger = logger.With().Str("bucket", d.source.Bucket).Str("key", d.source.Key).Logger()
	ctx = logger.WithContext(ctx)
	keyPrefix := storage.KeyPrefix(d.source.Key)

	d.transition(ctx, StateFetching)
	workDir, err = os.MkdirTemp(d.cfg.TempDir, "invocation-"+d.id+"-")
	if err != nil {
		return Result{}, fmt.Errorf("failed to create the working directory: %w", err)
	}
	download := filepath.Join(workDir, downloadName)
	outputDir := filepath.Join(workDir, outputDirName)
	if err = os.Mkdir(outputDir, 0o700); err != nil {
		return Result{}, fmt.Errorf("failed to create the output directory: %w", err)
	}
	if err = d.fetch(ctx, download); err != nil {
		return Result{}, err
	}

	d.transition(ctx, StateValidating)
	if err = media.CheckGenuineMedia(download); err != nil {
		return Result{}, err
	}

	d.transition(ctx, StateProbing)
	backend, err := d.resolveBackend()
	if err != nil {
		return Result{}, err
	}
	if _, err = media.NewProber(backend, d.cfg.MaxDurationSeconds).Probe(ctx, download); err != nil {
		return Result{}, err
	}

	d.transition(ctx, StateTranscoding)
	if err = media.NewTranscoder(backend, d.cfg).Transcode(ctx, download, outputDir, keyPrefix); err != nil {
		return Result{}, err
	}

	d.transition(ctx, StatePublishing)
	keys, err := publish.New(d.adapter, d.cfg).Publish(ctx, outputDir, keyPrefix)
	if err != nil {
		return Result{}, err
	}

	d.transition(ctx, StateCleaning)
	d.cleanup(ctx, workDir)

	d.transition(ctx, StateDone)
	logger.Info().Strs("keys", keys).Msg("successfully published the derivatives")
	return Result{Source: d.source, Bucket: d.cfg.DestinationBucket, Keys: keys}, nil
}

// fetch streams the source object to path and returns once the stream has
// ended and the file is closed.
func (d *Driver) fetch(ctx context.Context, path string) error {
	logger := zerolog.Ctx(ctx)
	logger.Info().Msg("starting download")

	body, err := d.adapter.Download(ctx, d.source.Bucket, d.source.Key)
	if err != nil {
		return err
	}
	defer body.Close()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create the download file: %w", err)
	}
	n, err := io.Copy(f, body)
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to download the source: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write the download file: %w", err)
	}
	logger.Info().Int64("bytes", n).Msg("download finished")
	return nil
}

func (d *Driver) resolveBackend() (media.Backend, error) {
	if d.backend != nil {
		return *d.backend, nil
	}
	return media.LocateBackend(d.cfg.CodeLocation, d.adapter)
}

// fail records err, removes every local artifact and leaves err untouched
// for the caller.
func (d *Driver) fail(ctx context.Context, err error, workDir string) {
	zerolog.Ctx(ctx).Error().Err(err).Str("state", string(d.State())).Msg("pipeline failed")
	d.setState(ctx, StateFailed, err)
	d.cleanup(ctx, workDir)
}

// cleanup removes the invocation's working directory. Failures are logged
// and discarded.
func (d *Driver) cleanup(ctx context.Context, workDir string) {
	if workDir == "" {
		return
	}
	if err := os.RemoveAll(workDir); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("path", workDir).Msg("failed to clean up the working directory")
	}
}

func (d *Driver) transition(ctx context.Context, next State) {
	d.setState(ctx, next, nil)
}

func (d *Driver) setState(ctx context.Context, next State, cause error) {
	d.state.Store(next)
	zerolog.Ctx(ctx).Info().Str("state", string(next)).Msg("pipeline state changed")
	if d.notifier == nil {
		return
	}

	n := notify.Notification{
		InvocationID: d.id,
		Bucket:       d.source.Bucket,
		Key:          d.source.Key,
		Status:       next.Status(),
	}
	if cause != nil {
		n.Error = cause.Error()
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	if err := d.notifier.Notify(nctx, n); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("state", string(next)).Msg("failed to publish the notification")
	}
}
