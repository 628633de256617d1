// Package storage defines the capability contract the pipeline needs from a
// cloud object store. Provider implementations live in the subpackages.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
)

// CacheControlOneYear is the cache lifetime hint attached to every published
// derivative (60 * 60 * 24 * 365 seconds).
const CacheControlOneYear = "max-age=31536000"

var (
	// ErrTransport marks any network or authentication failure while talking
	// to the object store.
	ErrTransport = errors.New("storage transport error")
	// ErrInvalidEvent is returned when a provider payload does not point at
	// an object.
	ErrInvalidEvent = errors.New("event does not reference an object")
)

// SourceLocation points at the object that triggered the invocation. The key
// is already un-escaped.
type SourceLocation struct {
	Bucket string
	Key    string
}

func (l SourceLocation) String() string {
	return l.Bucket + "/" + l.Key
}

// UploadInput describes one object written to the destination bucket.
type UploadInput struct {
	Bucket string
	Key    string
	Body   io.Reader
	// Size is the body length in bytes, or -1 when unknown.
	Size            int64
	ContentType     string
	ContentEncoding string
	CacheControl    string
	Metadata        map[string]string
}

// Adapter is implemented once per provider and injected into the pipeline.
type Adapter interface {
	// LocateSource decodes a provider event into the location of the
	// triggering object. It performs no I/O.
	LocateSource(event []byte) (SourceLocation, error)
	// Download opens a stream over an object. A nil error followed by a
	// clean io.EOF on the returned reader signals the complete object.
	Download(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	// Upload writes an object. It must honor ContentEncoding and
	// CacheControl when set.
	Upload(ctx context.Context, in UploadInput) error
}

// ExecutableLocator is optionally implemented by adapters whose runtime
// sandbox ships the codec binaries in a known directory.
type ExecutableLocator interface {
	LocateExecutable(name string) (string, error)
}

// TransportError wraps err so that it matches ErrTransport.
func TransportError(op string, bucket, key string, err error) error {
	return fmt.Errorf("%w: %s %s/%s: %w", ErrTransport, op, bucket, key, err)
}

// DecodeFormKey un-escapes an object key delivered in form encoding, where a
// literal space arrives as '+'.
func DecodeFormKey(raw string) (string, error) {
	key, err := url.QueryUnescape(raw)
	if err != nil {
		return "", fmt.Errorf("%w: malformed key %q: %w", ErrInvalidEvent, raw, err)
	}
	return key, nil
}

// KeyPrefix strips the file extension from the final path element of key.
func KeyPrefix(key string) string {
	slash := strings.LastIndex(key, "/")
	dot := strings.LastIndex(key, ".")
	if dot <= slash || dot == len(key)-1 {
		return key
	}
	return key[:dot]
}
