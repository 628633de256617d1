// Command lambda is the AWS Lambda entry point: one S3 object-created event
// per invocation.
package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"mediatrigger/internal/config"
	"mediatrigger/internal/notify"
	"mediatrigger/internal/pipeline"
	"mediatrigger/internal/storage"
	"mediatrigger/internal/storage/s3"
)

type handler struct {
	adapter storage.Adapter
	opts    []pipeline.Option
}

// Handle runs the pipeline for event and returns the error passed to the
// completion callback, so Lambda reports the invocation as failed.
func (h *handler) Handle(ctx context.Context, event json.RawMessage) (pipeline.Result, error) {
	cfg, err := config.FromEnv(os.LookupEnv)
	if err != nil {
		log.Error().Err(err).Msg("failed to load the configuration")
		return pipeline.Result{}, err
	}

	var (
		result pipeline.Result
		runErr error
	)
	pipeline.New(cfg, h.adapter, h.opts...).Run(ctx, pipeline.Invocation{
		Event: event,
		Complete: func(r pipeline.Result, err error) {
			result, runErr = r, err
		},
	})
	return result, runErr
}

func main() {
	if level, err := zerolog.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil && level != zerolog.NoLevel {
		zerolog.SetGlobalLevel(level)
	}

	adapter, err := s3.New(context.Background(), s3.OptionsFromEnv())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create the storage adapter")
	}

	h := &handler{adapter: adapter, opts: []pipeline.Option{pipeline.WithLogger(log.Logger)}}
	if redis := notify.NewRedis(); redis != nil {
		h.opts = append(h.opts, pipeline.WithNotifier(redis))
	}
	lambda.Start(h.Handle)
}
