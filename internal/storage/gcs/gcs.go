// Package gcs implements the storage adapter for Google Cloud Storage.
package gcs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"

	"cloud.google.com/go/storage"
	"github.com/rs/zerolog"

	objstore "mediatrigger/internal/storage"
)

// Object is the subset of a GCS object resource carried by finalize
// notifications. Eventarc deliveries wrap it in a CloudEvent "data" field.
type Object struct {
	Bucket string `json:"bucket"`
	Name   string `json:"name"`
}

type Adapter struct {
	client *storage.Client
	// codeLocation is the directory the codec binaries are deployed to.
	codeLocation string
}

func New(ctx context.Context, codeLocation string) (*Adapter, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create the GCS client: %w", err)
	}
	return &Adapter{client: client, codeLocation: codeLocation}, nil
}

func (a *Adapter) Close() error {
	return a.client.Close()
}

// LocateSource reads a GCS object resource. GCS delivers object names
// unescaped, so no decoding is applied.
func (a *Adapter) LocateSource(event []byte) (objstore.SourceLocation, error) {
	return locateSource(event)
}

func locateSource(event []byte) (objstore.SourceLocation, error) {
	var envelope struct {
		Object
		Data *Object `json:"data"`
	}
	if err := json.Unmarshal(event, &envelope); err != nil {
		return objstore.SourceLocation{}, fmt.Errorf("%w: %w", objstore.ErrInvalidEvent, err)
	}
	obj := envelope.Object
	if envelope.Data != nil {
		obj = *envelope.Data
	}
	if obj.Bucket == "" || obj.Name == "" {
		return objstore.SourceLocation{}, fmt.Errorf("%w: missing bucket or name", objstore.ErrInvalidEvent)
	}
	return objstore.SourceLocation{Bucket: obj.Bucket, Key: obj.Name}, nil
}

func (a *Adapter) Download(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	r, err := a.client.Bucket(bucket).Object(key).NewReader(ctx)
	if err != nil {
		return nil, objstore.TransportError("download", bucket, key, err)
	}
	return r, nil
}

func (a *Adapter) Upload(ctx context.Context, in objstore.UploadInput) error {
	reporter := objstore.NewProgressReporter(*zerolog.Ctx(ctx), in.Key, in.ContentType, in.Size)

	// Cancelling the writer's context abandons the upload instead of
	// committing a truncated object.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := a.client.Bucket(in.Bucket).Object(in.Key).NewWriter(ctx)
	w.ContentType = in.ContentType
	w.ContentEncoding = in.ContentEncoding
	w.CacheControl = in.CacheControl
	w.Metadata = in.Metadata
	w.ProgressFunc = reporter.Report

	if _, err := io.Copy(w, in.Body); err != nil {
		cancel()
		return objstore.TransportError("upload", in.Bucket, in.Key, err)
	}
	if err := w.Close(); err != nil {
		return objstore.TransportError("upload", in.Bucket, in.Key, err)
	}
	return nil
}

func (a *Adapter) LocateExecutable(name string) (string, error) {
	if a.codeLocation == "" {
		return "", fmt.Errorf("CODE_LOCATION is not set, cannot locate %s", name)
	}
	return filepath.Join(a.codeLocation, name), nil
}

var (
	_ objstore.Adapter           = (*Adapter)(nil)
	_ objstore.ExecutableLocator = (*Adapter)(nil)
)
