// Package notify publishes pipeline stage transitions for observers such as
// upload dashboards.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
)

type Status string

const (
	StatusFetching    Status = "fetching"
	StatusValidating  Status = "validating"
	StatusProbing     Status = "probing"
	StatusTranscoding Status = "transcoding"
	StatusPublishing  Status = "publishing"
	StatusCleaning    Status = "cleaning"
	StatusDone        Status = "done"
	StatusFailed      Status = "failed"
)

type Notification struct {
	// InvocationID identifies one pipeline run.
	InvocationID string `json:"invocation_id"`
	Bucket       string `json:"bucket"`
	Key          string `json:"key"`
	Status       Status `json:"status"`
	// Error is set only with StatusFailed.
	Error string `json:"error,omitempty"`
}

// Notifier receives every stage transition. Implementations must not block
// for long; the pipeline calls them inline.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

const defaultChannel = "media-pipeline"

type Redis struct {
	client  *redis.Client
	channel string
}

// NewRedis returns nil when REDIS_DSN is unset, which disables notifications.
func NewRedis() *Redis {
	redisDsn, ok := os.LookupEnv("REDIS_DSN")
	if !ok || redisDsn == "" {
		return nil
	}
	channel := os.Getenv("REDIS_CHANNEL")
	if channel == "" {
		channel = defaultChannel
	}
	return &Redis{client: redis.NewClient(&redis.Options{Addr: redisDsn}), channel: channel}
}

func (r *Redis) Notify(ctx context.Context, n Notification) error {
	output, err := json.Marshal(n)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.channel, output).Err(); err != nil {
		return fmt.Errorf("failed to publish the notification: %w", err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
