// Package config builds the per-invocation pipeline configuration from
// environment-style key/value inputs.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// KeyPrefixPlaceholder is replaced in every transcode argument token with the
// key prefix of the source object.
const KeyPrefixPlaceholder = "$KEY_PREFIX"

var ErrMissingKey = errors.New("missing required configuration key")

// LookupFunc has the signature of os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// Config is passed by value to every stage. The transcode template and the
// MIME mapping are only reachable through copying accessors, so no stage can
// change them for the rest of the invocation.
type Config struct {
	DestinationBucket  string
	MaxDurationSeconds float64
	GzipEnabled        bool
	// TempDir is the scratch root under which each invocation creates its
	// own working directory.
	TempDir string
	// CodeLocation is the directory holding the codec and probe binaries.
	// Empty means resolve them through PATH.
	CodeLocation string

	transcodeArgs   []string
	extensionToMime map[string]string
}

// Load reads an optional .env file from the working directory and then builds
// the configuration from the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load the .env file: %w", err)
	}
	return FromEnv(os.LookupEnv)
}

// FromEnv builds the configuration from lookup.
func FromEnv(lookup LookupFunc) (Config, error) {
	var cfg Config

	bucket, err := required(lookup, "DESTINATION_BUCKET")
	if err != nil {
		return Config{}, err
	}
	cfg.DestinationBucket = bucket

	args, ok := lookup("TRANSCODE_ARGS")
	if !ok || strings.TrimSpace(args) == "" {
		args, ok = lookup("FFMPEG_ARGS")
	}
	if !ok || strings.TrimSpace(args) == "" {
		return Config{}, fmt.Errorf("%w: TRANSCODE_ARGS", ErrMissingKey)
	}
	cfg.transcodeArgs = strings.Fields(args)

	rawMime, err := required(lookup, "MIME_TYPES")
	if err != nil {
		return Config{}, err
	}
	if err := json.Unmarshal([]byte(rawMime), &cfg.extensionToMime); err != nil {
		return Config{}, fmt.Errorf("invalid MIME_TYPES: %w", err)
	}

	rawDuration, err := required(lookup, "VIDEO_MAX_DURATION")
	if err != nil {
		return Config{}, err
	}
	cfg.MaxDurationSeconds, err = strconv.ParseFloat(strings.TrimSpace(rawDuration), 64)
	if err != nil {
		return Config{}, fmt.Errorf("invalid VIDEO_MAX_DURATION %q: %w", rawDuration, err)
	}
	if cfg.MaxDurationSeconds <= 0 {
		return Config{}, fmt.Errorf("invalid VIDEO_MAX_DURATION %q: must be positive", rawDuration)
	}

	if raw, ok := lookup("USE_GZIP"); ok && raw != "" {
		cfg.GzipEnabled, err = strconv.ParseBool(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid USE_GZIP %q: %w", raw, err)
		}
	}

	cfg.TempDir = os.TempDir()
	if dir, ok := lookup("TEMP"); ok && dir != "" {
		cfg.TempDir = dir
	}

	if dir, ok := lookup("CODE_LOCATION"); ok && dir != "" {
		cfg.CodeLocation = dir
	} else if dir, ok := lookup("LAMBDA_TASK_ROOT"); ok && dir != "" {
		cfg.CodeLocation = dir
	}

	return cfg, nil
}

// New builds a configuration directly, mostly for tests and embedders that do
// not read the environment.
func New(destinationBucket string, maxDurationSeconds float64, transcodeArgs []string, extensionToMime map[string]string, gzip bool) Config {
	cfg := Config{
		DestinationBucket:  destinationBucket,
		MaxDurationSeconds: maxDurationSeconds,
		GzipEnabled:        gzip,
		TempDir:            os.TempDir(),
		transcodeArgs:      append([]string(nil), transcodeArgs...),
		extensionToMime:    make(map[string]string, len(extensionToMime)),
	}
	for ext, mime := range extensionToMime {
		cfg.extensionToMime[ext] = mime
	}
	return cfg
}

// MimeType returns the MIME type configured for a file extension (without
// the leading dot).
func (c Config) MimeType(extension string) (string, bool) {
	mime, ok := c.extensionToMime[extension]
	return mime, ok
}

// TranscodeArgs returns a fresh copy of the transcode template with every
// occurrence of the key prefix placeholder substituted. Substitution happens
// after tokenizing, so a prefix containing spaces stays a single argument.
func (c Config) TranscodeArgs(keyPrefix string) []string {
	args := make([]string, len(c.transcodeArgs))
	for i, token := range c.transcodeArgs {
		args[i] = strings.ReplaceAll(token, KeyPrefixPlaceholder, keyPrefix)
	}
	return args
}

func required(lookup LookupFunc, key string) (string, error) {
	value, ok := lookup(key)
	if !ok || strings.TrimSpace(value) == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingKey, key)
	}
	return value, nil
}
