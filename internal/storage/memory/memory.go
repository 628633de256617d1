// Package memory is an in-process storage adapter used as a test double and
// for local dry runs.
package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"mediatrigger/internal/storage"
)

// Event is the payload understood by LocateSource. Key is form encoded, like
// an S3 notification.
type Event struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

// Object is a stored object together with the attributes it was uploaded
// with.
type Object struct {
	Data            []byte
	ContentType     string
	ContentEncoding string
	CacheControl    string
	Metadata        map[string]string
}

type Adapter struct {
	mu      sync.Mutex
	objects map[string]Object
	uploads []storage.UploadInput

	// DownloadErr and UploadErr, when set, are returned wrapped as transport
	// errors from every call.
	DownloadErr error
	UploadErr   error
	// ExecutableDir is returned by LocateExecutable when non-empty.
	ExecutableDir string
}

func New() *Adapter {
	return &Adapter{objects: make(map[string]Object)}
}

// NewEvent encodes a payload pointing at bucket/key.
func NewEvent(bucket, key string) []byte {
	data, _ := json.Marshal(Event{Bucket: bucket, Key: key})
	return data
}

func (a *Adapter) LocateSource(event []byte) (storage.SourceLocation, error) {
	var e Event
	if err := json.Unmarshal(event, &e); err != nil {
		return storage.SourceLocation{}, fmt.Errorf("%w: %w", storage.ErrInvalidEvent, err)
	}
	if e.Bucket == "" || e.Key == "" {
		return storage.SourceLocation{}, storage.ErrInvalidEvent
	}
	key, err := storage.DecodeFormKey(e.Key)
	if err != nil {
		return storage.SourceLocation{}, err
	}
	return storage.SourceLocation{Bucket: e.Bucket, Key: key}, nil
}

// Put stores an object directly, bypassing upload bookkeeping.
func (a *Adapter) Put(bucket, key string, data []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.objects[bucket+"/"+key] = Object{Data: append([]byte(nil), data...)}
}

func (a *Adapter) Get(bucket, key string) (Object, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	obj, ok := a.objects[bucket+"/"+key]
	return obj, ok
}

// Keys lists the keys stored in bucket, sorted.
func (a *Adapter) Keys(bucket string) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var keys []string
	for k := range a.objects {
		if key, ok := strings.CutPrefix(k, bucket+"/"); ok {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

// Uploads returns the number of Upload calls that reached the store.
func (a *Adapter) Uploads() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.uploads)
}

func (a *Adapter) Download(_ context.Context, bucket, key string) (io.ReadCloser, error) {
	if a.DownloadErr != nil {
		return nil, storage.TransportError("download", bucket, key, a.DownloadErr)
	}
	obj, ok := a.Get(bucket, key)
	if !ok {
		return nil, storage.TransportError("download", bucket, key, fmt.Errorf("no such object"))
	}
	return io.NopCloser(bytes.NewReader(obj.Data)), nil
}

func (a *Adapter) Upload(_ context.Context, in storage.UploadInput) error {
	if a.UploadErr != nil {
		return storage.TransportError("upload", in.Bucket, in.Key, a.UploadErr)
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return storage.TransportError("upload", in.Bucket, in.Key, err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.uploads = append(a.uploads, in)
	a.objects[in.Bucket+"/"+in.Key] = Object{
		Data:            data,
		ContentType:     in.ContentType,
		ContentEncoding: in.ContentEncoding,
		CacheControl:    in.CacheControl,
		Metadata:        in.Metadata,
	}
	return nil
}

func (a *Adapter) LocateExecutable(name string) (string, error) {
	if a.ExecutableDir == "" {
		return "", fmt.Errorf("no executable directory configured for %s", name)
	}
	return filepath.Join(a.ExecutableDir, name), nil
}

var (
	_ storage.Adapter           = (*Adapter)(nil)
	_ storage.ExecutableLocator = (*Adapter)(nil)
)
