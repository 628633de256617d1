package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mapLookup(env map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func validEnv() map[string]string {
	return map[string]string{
		"DESTINATION_BUCKET": "derived",
		"TRANSCODE_ARGS":     "-c:v libx264 -metadata description=$KEY_PREFIX out.mp4 -vframes 1 out.png",
		"MIME_TYPES":         `{"mp4":"video/mp4","png":"image/png"}`,
		"VIDEO_MAX_DURATION": "30",
		"USE_GZIP":           "true",
		"TEMP":               "/scratch",
		"CODE_LOCATION":      "/opt/bin",
	}
}

func TestFromEnv(t *testing.T) {
	cfg, err := FromEnv(mapLookup(validEnv()))
	require.NoError(t, err)

	assert.Equal(t, "derived", cfg.DestinationBucket)
	assert.Equal(t, 30.0, cfg.MaxDurationSeconds)
	assert.True(t, cfg.GzipEnabled)
	assert.Equal(t, "/scratch", cfg.TempDir)
	assert.Equal(t, "/opt/bin", cfg.CodeLocation)

	mime, ok := cfg.MimeType("png")
	assert.True(t, ok)
	assert.Equal(t, "image/png", mime)
	_, ok = cfg.MimeType("webm")
	assert.False(t, ok)
}

func TestFromEnv_MissingKeys(t *testing.T) {
	for _, key := range []string{"DESTINATION_BUCKET", "TRANSCODE_ARGS", "MIME_TYPES", "VIDEO_MAX_DURATION"} {
		t.Run(key, func(t *testing.T) {
			env := validEnv()
			delete(env, key)
			_, err := FromEnv(mapLookup(env))
			require.ErrorIs(t, err, ErrMissingKey)
			assert.Contains(t, err.Error(), key)
		})
	}
}

func TestFromEnv_InvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"mime types not json", "MIME_TYPES", "mp4=video/mp4"},
		{"duration not numeric", "VIDEO_MAX_DURATION", "thirty"},
		{"duration negative", "VIDEO_MAX_DURATION", "-5"},
		{"gzip not a bool", "USE_GZIP", "maybe"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := validEnv()
			env[tt.key] = tt.value
			_, err := FromEnv(mapLookup(env))
			assert.Error(t, err)
		})
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	env := validEnv()
	delete(env, "USE_GZIP")
	delete(env, "TEMP")
	delete(env, "CODE_LOCATION")
	env["LAMBDA_TASK_ROOT"] = "/var/task"

	cfg, err := FromEnv(mapLookup(env))
	require.NoError(t, err)
	assert.False(t, cfg.GzipEnabled)
	assert.NotEmpty(t, cfg.TempDir)
	assert.Equal(t, "/var/task", cfg.CodeLocation)
}

func TestFromEnv_LegacyArgsKey(t *testing.T) {
	env := validEnv()
	delete(env, "TRANSCODE_ARGS")
	env["FFMPEG_ARGS"] = "-f mp4 out.mp4"

	cfg, err := FromEnv(mapLookup(env))
	require.NoError(t, err)
	assert.Equal(t, []string{"-f", "mp4", "out.mp4"}, cfg.TranscodeArgs("x"))
}

func TestTranscodeArgs_SubstitutesEveryPlaceholder(t *testing.T) {
	cfg := New("b", 10, []string{"-metadata", "title=$KEY_PREFIX", "-metadata", "comment=$KEY_PREFIX/$KEY_PREFIX"}, nil, false)

	args := cfg.TranscodeArgs("videos/my clip")
	assert.Equal(t, []string{"-metadata", "title=videos/my clip", "-metadata", "comment=videos/my clip/videos/my clip"}, args)

	// The template itself is untouched by substitution.
	args[1] = "mutated"
	assert.Equal(t, "title=other", cfg.TranscodeArgs("other")[1])
}

func TestNew_CopiesInputs(t *testing.T) {
	mimes := map[string]string{"mp4": "video/mp4"}
	template := []string{"out.mp4"}
	cfg := New("b", 10, template, mimes, false)

	mimes["mp4"] = "application/octet-stream"
	template[0] = "changed"

	mime, _ := cfg.MimeType("mp4")
	assert.Equal(t, "video/mp4", mime)
	assert.Equal(t, []string{"out.mp4"}, cfg.TranscodeArgs(""))
}
