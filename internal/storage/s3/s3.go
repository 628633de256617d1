// Package s3 implements the storage adapter for AWS S3 and S3-compatible
// stores such as MinIO.
package s3

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"

	"mediatrigger/internal/storage"
)

type Options struct {
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	// SSE is the server-side encryption algorithm applied to uploads, e.g.
	// "AES256" or "aws:kms".
	SSE string
	// SSEKeyID is the KMS key used when SSE is "aws:kms".
	SSEKeyID string
	// TaskRoot is the directory the codec binaries are deployed to.
	TaskRoot string
}

// OptionsFromEnv reads the adapter settings with the same keys the
// deployment templates set.
func OptionsFromEnv() Options {
	endpoint := os.Getenv("S3_ENDPOINT")
	if endpoint == "" {
		endpoint = os.Getenv("ENDPOINT_URL")
	}
	return Options{
		Region:    os.Getenv("S3_REGION"),
		Endpoint:  endpoint,
		AccessKey: os.Getenv("S3_ACCESS_KEY"),
		SecretKey: os.Getenv("S3_SECRET_KEY"),
		SSE:       os.Getenv("SSE"),
		SSEKeyID:  os.Getenv("SSE_KEY_ID"),
		TaskRoot:  os.Getenv("LAMBDA_TASK_ROOT"),
	}
}

type Adapter struct {
	client *s3.Client
	opts   Options
}

func New(ctx context.Context, opts Options) (*Adapter, error) {
	loadOpts := []func(*config.LoadOptions) error{}
	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}
	if opts.Endpoint != "" {
		loadOpts = append(loadOpts, config.WithBaseEndpoint(opts.Endpoint))
	}
	if opts.AccessKey != "" && opts.SecretKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(credentials.StaticCredentialsProvider{
			Value: aws.Credentials{
				AccessKeyID:     opts.AccessKey,
				SecretAccessKey: opts.SecretKey,
			},
		}))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load S3 config: %w", err)
	}
	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		o.UsePathStyle = opts.Endpoint != ""
	})
	return &Adapter{client: client, opts: opts}, nil
}

// LocateSource reads the first record of an S3 event notification. Keys in
// S3 notifications are form encoded.
func (a *Adapter) LocateSource(event []byte) (storage.SourceLocation, error) {
	return locateSource(event)
}

func locateSource(event []byte) (storage.SourceLocation, error) {
	var e events.S3Event
	if err := json.Unmarshal(event, &e); err != nil {
		return storage.SourceLocation{}, fmt.Errorf("%w: %w", storage.ErrInvalidEvent, err)
	}
	if len(e.Records) == 0 {
		return storage.SourceLocation{}, fmt.Errorf("%w: no records", storage.ErrInvalidEvent)
	}
	record := e.Records[0].S3
	if record.Bucket.Name == "" || record.Object.Key == "" {
		return storage.SourceLocation{}, fmt.Errorf("%w: missing bucket or key", storage.ErrInvalidEvent)
	}
	key, err := storage.DecodeFormKey(record.Object.Key)
	if err != nil {
		return storage.SourceLocation{}, err
	}
	return storage.SourceLocation{Bucket: record.Bucket.Name, Key: key}, nil
}

func (a *Adapter) Download(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	resp, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, storage.TransportError("download", bucket, key, err)
	}
	return &downloadBody{ReadCloser: resp.Body, bucket: bucket, key: key}, nil
}

// downloadBody tags mid-stream read failures as transport errors.
type downloadBody struct {
	io.ReadCloser
	bucket, key string
}

func (d *downloadBody) Read(p []byte) (int, error) {
	n, err := d.ReadCloser.Read(p)
	if err != nil && err != io.EOF {
		err = storage.TransportError("download", d.bucket, d.key, err)
	}
	return n, err
}

func (a *Adapter) Upload(ctx context.Context, in storage.UploadInput) error {
	reporter := storage.NewProgressReporter(*zerolog.Ctx(ctx), in.Key, in.ContentType, in.Size)
	input := a.putObjectInput(in, storage.WithProgress(in.Body, reporter))
	if _, err := a.client.PutObject(ctx, input); err != nil {
		return storage.TransportError("upload", in.Bucket, in.Key, err)
	}
	return nil
}

func (a *Adapter) putObjectInput(in storage.UploadInput, body io.Reader) *s3.PutObjectInput {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(in.Bucket),
		Key:         aws.String(in.Key),
		Body:        body,
		ContentType: aws.String(in.ContentType),
		Metadata:    in.Metadata,
	}
	if in.Size >= 0 {
		input.ContentLength = aws.Int64(in.Size)
	}
	if in.ContentEncoding != "" {
		input.ContentEncoding = aws.String(in.ContentEncoding)
	}
	if in.CacheControl != "" {
		input.CacheControl = aws.String(in.CacheControl)
	}
	if a.opts.SSE != "" {
		input.ServerSideEncryption = types.ServerSideEncryption(a.opts.SSE)
	}
	if a.opts.SSEKeyID != "" {
		input.SSEKMSKeyId = aws.String(a.opts.SSEKeyID)
	}
	return input
}

// LocateExecutable resolves binaries shipped alongside the function code.
func (a *Adapter) LocateExecutable(name string) (string, error) {
	if a.opts.TaskRoot == "" {
		return "", fmt.Errorf("LAMBDA_TASK_ROOT is not set, cannot locate %s", name)
	}
	return filepath.Join(a.opts.TaskRoot, name), nil
}

var (
	_ storage.Adapter           = (*Adapter)(nil)
	_ storage.ExecutableLocator = (*Adapter)(nil)
)
