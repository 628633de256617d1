package main

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"

	"mediatrigger/internal/media"
	"mediatrigger/internal/media/mediatest"
	"mediatrigger/internal/pipeline"
	"mediatrigger/internal/storage"
	"mediatrigger/internal/storage/memory"
)

type fakeAcknowledger struct {
	acked, nacked, requeued bool
}

func (f *fakeAcknowledger) Ack(uint64, bool) error {
	f.acked = true
	return nil
}

func (f *fakeAcknowledger) Nack(_ uint64, _ bool, requeue bool) error {
	f.nacked, f.requeued = true, requeue
	return nil
}

func (f *fakeAcknowledger) Reject(_ uint64, requeue bool) error {
	f.nacked, f.requeued = true, requeue
	return nil
}

func TestAcknowledge(t *testing.T) {
	transcodeFailure := fmt.Errorf("%w: exit code 1", media.ErrTranscodeExecution)
	tests := []struct {
		name         string
		err          error
		shuttingDown bool
		wantAck      bool
		wantRequeue  bool
	}{
		{"success", nil, false, true, false},
		{"success during shutdown", nil, true, true, false},
		{"transport failure is redelivered", storage.TransportError("upload", "b", "k", errors.New("timeout")), false, false, true},
		{"cancelled run is redelivered", fmt.Errorf("download: %w", context.Canceled), false, false, true},
		{"spoofed input is dropped", media.ErrFormatSpoof, false, false, false},
		{"transcode failure is dropped", transcodeFailure, false, false, false},
		{"transcode failure during shutdown is redelivered", transcodeFailure, true, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ack := &fakeAcknowledger{}
			acknowledge("inv-1", amqp.Delivery{Acknowledger: ack, DeliveryTag: 7}, pipeline.Result{}, tt.err, tt.shuttingDown)

			assert.Equal(t, tt.wantAck, ack.acked)
			assert.Equal(t, !tt.wantAck, ack.nacked)
			assert.Equal(t, tt.wantRequeue, ack.requeued)
		})
	}
}

func setEnv(t *testing.T) {
	t.Setenv("DESTINATION_BUCKET", "derived")
	t.Setenv("TRANSCODE_ARGS", "-vframes 1 out.png")
	t.Setenv("MIME_TYPES", `{"png": "image/png"}`)
	t.Setenv("VIDEO_MAX_DURATION", "30")
	t.Setenv("USE_GZIP", "false")
	t.Setenv("TEMP", t.TempDir())
}

// shutdownDuringTranscode runs one delivery through handle and cancels the
// worker context while the fake ffmpeg is still running.
func shutdownDuringTranscode(t *testing.T, ffmpegBody string) (*fakeAcknowledger, *memory.Adapter) {
	t.Helper()
	setEnv(t)
	toolDir := t.TempDir()
	backend := media.Backend{
		FFmpeg:  mediatest.WriteTool(t, toolDir, "ffmpeg", ffmpegBody),
		FFprobe: mediatest.WriteTool(t, toolDir, "ffprobe", mediatest.ProbeJSON(mediatest.VideoReport(5))),
	}
	store := memory.New()
	store.Put("raw", "clip.mp4", mediatest.GenuineMP4())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	timer := time.AfterFunc(200*time.Millisecond, cancel)
	defer timer.Stop()

	ack := &fakeAcknowledger{}
	handle(ctx, store, []pipeline.Option{pipeline.WithBackend(backend)}, amqp.Delivery{
		Acknowledger: ack,
		DeliveryTag:  1,
		Body:         memory.NewEvent("raw", "clip.mp4"),
	})
	assert.Error(t, ctx.Err(), "the worker context should have been cancelled mid-run")
	return ack, store
}

func TestHandle_DrainsInFlightTranscodeOnShutdown(t *testing.T) {
	ack, store := shutdownDuringTranscode(t, "sleep 1\n"+mediatest.WriteOutputs("out.png"))

	assert.True(t, ack.acked)
	assert.False(t, ack.nacked)
	assert.Equal(t, []string{"clip.png"}, store.Keys("derived"))
}

func TestHandle_RequeuesFailureDuringShutdown(t *testing.T) {
	ack, store := shutdownDuringTranscode(t, "sleep 1\nexit 1")

	assert.False(t, ack.acked)
	assert.True(t, ack.nacked)
	assert.True(t, ack.requeued)
	assert.Empty(t, store.Keys("derived"))
}
