// Package publish uploads the derivatives the codec tool left in the output
// directory.
package publish

import (
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"mediatrigger/internal/config"
	"mediatrigger/internal/storage"
)

const (
	gzipSuffix = ".gzip"
	// DigestMetadataKey names the object metadata field holding the hex
	// sha256 of the uncompressed derivative.
	DigestMetadataKey = "sha256"
)

var (
	ErrUnknownMimeType = errors.New("no MIME type configured for extension")
	// ErrDuplicateKey is returned when two derivatives share an extension and
	// would be published to the same destination key.
	ErrDuplicateKey = errors.New("derivatives map to the same destination key")
	ErrUnitPanic    = errors.New("publish unit panicked")
)

var extensionRegex = regexp.MustCompile(`\.(\w+)$`)

type Publisher struct {
	adapter storage.Adapter
	cfg     config.Config
}

func New(adapter storage.Adapter, cfg config.Config) *Publisher {
	return &Publisher{adapter: adapter, cfg: cfg}
}

// Publish uploads every regular file in outputDir to the destination bucket
// as {keyPrefix}.{extension}. Files are published concurrently; the first
// failing unit's error is returned. On success the destination keys are
// returned in file name order.
func (p *Publisher) Publish(ctx context.Context, outputDir, keyPrefix string) ([]string, error) {
	logger := zerolog.Ctx(ctx)

	entries, err := os.ReadDir(outputDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read the output directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			logger.Warn().Str("name", entry.Name()).Msg("skipping non-regular output entry")
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	logger.Info().Int("entries", len(names)).Msg("successfully read the output directory")
	if err := checkDistinctExtensions(names); err != nil {
		return nil, err
	}

	keys := make([]string, len(names))
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range names {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("%w: %s: %v", ErrUnitPanic, name, r)
				}
			}()
			keys[i], err = p.publishFile(gctx, filepath.Join(outputDir, name), keyPrefix)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return keys, nil
}

// checkDistinctExtensions fails before any upload when two names would
// publish to the same {keyPrefix}.{extension} key. Names without an
// extension are left for publishFile to reject.
func checkDistinctExtensions(names []string) error {
	seen := make(map[string]string, len(names))
	for _, name := range names {
		match := extensionRegex.FindStringSubmatch(name)
		if match == nil {
			continue
		}
		if other, ok := seen[match[1]]; ok {
			return fmt.Errorf("%w: %s and %s", ErrDuplicateKey, other, name)
		}
		seen[match[1]] = name
	}
	return nil
}

func (p *Publisher) publishFile(ctx context.Context, path, keyPrefix string) (string, error) {
	name := filepath.Base(path)
	match := extensionRegex.FindStringSubmatch(name)
	if match == nil {
		return "", fmt.Errorf("%w: %s has no extension", ErrUnknownMimeType, name)
	}
	extension := match[1]
	mimeType, ok := p.cfg.MimeType(extension)
	if !ok {
		return "", fmt.Errorf("%w: %q (%s)", ErrUnknownMimeType, extension, name)
	}

	key := keyPrefix + "." + extension
	logger := zerolog.Ctx(ctx).With().Str("file", name).Str("destKey", key).Logger()
	ctx = logger.WithContext(ctx)

	artifacts := []string{path}
	uploadPath := path
	contentEncoding := ""
	var digest string
	var err error
	if p.cfg.GzipEnabled {
		uploadPath = path + gzipSuffix
		artifacts = append(artifacts, uploadPath)
		contentEncoding = "gzip"
		logger.Debug().Msg("gzip encoding the file")
		digest, err = compress(path, uploadPath)
	} else {
		digest, err = hashFile(path)
	}
	if err != nil {
		return "", err
	}
	logger.Debug().Str("sha256", digest).Msg("computed the digest")

	if err := p.upload(ctx, uploadPath, storage.UploadInput{
		Bucket:          p.cfg.DestinationBucket,
		Key:             key,
		ContentType:     mimeType,
		ContentEncoding: contentEncoding,
		CacheControl:    storage.CacheControlOneYear,
		Metadata:        map[string]string{DigestMetadataKey: digest},
	}); err != nil {
		return "", err
	}
	logger.Info().Str("contentType", mimeType).Msg("successfully uploaded the file")

	for _, artifact := range artifacts {
		if err := os.Remove(artifact); err != nil {
			logger.Warn().Err(err).Str("path", artifact).Msg("failed to delete the uploaded file")
		}
	}
	return key, nil
}

func (p *Publisher) upload(ctx context.Context, path string, in storage.UploadInput) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open the file: %w", err)
	}
	defer f.Close()

	in.Size = -1
	if info, err := f.Stat(); err == nil {
		in.Size = info.Size()
	}
	in.Body = f
	return p.adapter.Upload(ctx, in)
}

// compress writes a maximum-compression gzip copy of src to dst and returns
// the hex sha256 of the uncompressed content. src is only read.
func compress(src, dst string) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("failed to open the file: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return "", fmt.Errorf("failed to create the gzip file: %w", err)
	}
	defer out.Close()

	zw, err := gzip.NewWriterLevel(out, gzip.BestCompression)
	if err != nil {
		return "", err
	}
	hash := sha256.New()
	if _, err := io.Copy(zw, io.TeeReader(in, hash)); err != nil {
		return "", fmt.Errorf("failed to gzip the file: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("failed to gzip the file: %w", err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("failed to write the gzip file: %w", err)
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open the file: %w", err)
	}
	defer f.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, f); err != nil {
		return "", fmt.Errorf("failed to hash the file: %w", err)
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}
