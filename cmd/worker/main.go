// Command worker consumes object-created notifications from RabbitMQ (for
// example MinIO bucket events) and runs one pipeline invocation per message.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"mediatrigger/internal/config"
	"mediatrigger/internal/media"
	"mediatrigger/internal/notify"
	"mediatrigger/internal/pipeline"
	"mediatrigger/internal/storage"
	"mediatrigger/internal/storage/gcs"
	"mediatrigger/internal/storage/s3"
)

const defaultQueue = "media-uploads"

func main() {
	if level, err := zerolog.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil && level != zerolog.NoLevel {
		zerolog.SetGlobalLevel(level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Loads .env into the process environment and fails fast on bad values;
	// each invocation still builds its own configuration value.
	if _, err := config.Load(); err != nil {
		log.Fatal().Err(err).Msg("failed to load the configuration")
	}

	adapter, err := newAdapter(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create the storage adapter")
	}

	backend, err := media.LocateBackend(os.Getenv("CODE_LOCATION"), adapter)
	if err == nil {
		err = backend.IsAvailable()
	}
	if err != nil {
		log.Fatal().Err(err).Msg("ffmpeg backend is not available")
	}
	log.Info().Str("ffmpeg", backend.FFmpeg).Str("ffprobe", backend.FFprobe).Msg("using ffmpeg backend")

	opts := []pipeline.Option{pipeline.WithLogger(log.Logger), pipeline.WithBackend(backend)}
	if redis := notify.NewRedis(); redis != nil {
		defer redis.Close()
		opts = append(opts, pipeline.WithNotifier(redis))
	}

	conn, err := amqp.Dial(os.Getenv("RABBITMQ_URL"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
	}
	defer conn.Close()

	channel, err := conn.Channel()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open a channel")
	}
	defer channel.Close()
	if err := channel.Qos(1, 0, false); err != nil {
		log.Fatal().Err(err).Msg("failed to set the channel QoS")
	}

	queue := os.Getenv("RABBITMQ_QUEUE")
	if queue == "" {
		queue = defaultQueue
	}
	messages, err := channel.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to consume the queue")
	}
	log.Info().Str("queue", queue).Msg("waiting for notifications")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("shutting down")
			return
		case message, ok := <-messages:
			if !ok {
				log.Error().Msg("the delivery channel was closed")
				return
			}
			handle(ctx, adapter, opts, message)
		}
	}
}

func handle(ctx context.Context, adapter storage.Adapter, opts []pipeline.Option, message amqp.Delivery) {
	cfg, err := config.FromEnv(os.LookupEnv)
	if err != nil {
		log.Error().Err(err).Msg("failed to load the configuration")
		if err := message.Nack(false, true); err != nil {
			log.Error().Err(err).Msg("failed to nack the message")
		}
		return
	}

	// Shutdown does not cancel the in-flight invocation; it drains and is
	// acknowledged before the consume loop exits.
	driver := pipeline.New(cfg, adapter, opts...)
	driver.Run(context.WithoutCancel(ctx), pipeline.Invocation{
		Event: message.Body,
		Complete: func(result pipeline.Result, err error) {
			acknowledge(driver.ID(), message, result, err, ctx.Err() != nil)
		},
	})
}

// acknowledge acks successful runs. Transport failures, and any failure seen
// while the worker is shutting down, are requeued for redelivery; any other
// failure is permanent for this object and dropped.
func acknowledge(invocationID string, message amqp.Delivery, result pipeline.Result, runErr error, shuttingDown bool) {
	logger := log.With().Str("invocationId", invocationID).Logger()

	if runErr == nil {
		logger.Info().Strs("keys", result.Keys).Msg("successfully processed the notification")
		if err := message.Ack(false); err != nil {
			logger.Error().Err(err).Msg("failed to ack the message")
		}
		return
	}

	requeue := shuttingDown ||
		errors.Is(runErr, storage.ErrTransport) ||
		errors.Is(runErr, context.Canceled) ||
		errors.Is(runErr, context.DeadlineExceeded)
	logger.Error().Err(runErr).Bool("requeue", requeue).Msg("failed to process the notification")
	if err := message.Nack(false, requeue); err != nil {
		logger.Error().Err(err).Msg("failed to nack the message")
	}
}

func newAdapter(ctx context.Context) (storage.Adapter, error) {
	switch provider := os.Getenv("STORAGE_PROVIDER"); provider {
	case "", "s3":
		return s3.New(ctx, s3.OptionsFromEnv())
	case "gcs":
		return gcs.New(ctx, os.Getenv("CODE_LOCATION"))
	default:
		return nil, errors.New("unknown STORAGE_PROVIDER " + provider)
	}
}
