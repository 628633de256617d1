package media

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediatrigger/internal/media/mediatest"
)

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestCheckGenuineMedia(t *testing.T) {
	longLine := bytes.Repeat([]byte{0x01}, scanBufferSize+17)

	tests := []struct {
		name    string
		file    string
		data    []byte
		wantErr bool
	}{
		{"playlist disguised as mp4", "bad.mp4", []byte(mediatest.Playlist), true},
		{"genuine mp4", "good.mp4", mediatest.GenuineMP4(), false},
		{"tag line after binary header", "mixed.mp4", append(mediatest.GenuineMP4(), []byte("\n#EXTINF:1,\nhttp://x/y.ts\n")...), true},
		{"byte order mark before header", "bom.mp4", append([]byte{0xEF, 0xBB, 0xBF}, []byte(mediatest.Playlist)...), true},
		{"tag after a line longer than the buffer", "long.mp4", append(append([]byte{}, longLine...), []byte("\n#EXTM3U\n")...), true},
		{"signature inside a long line", "inline.mp4", append(append([]byte{}, longLine[:scanBufferSize]...), []byte("#EXTM3U")...), false},
		{"crlf playlist", "crlf.mov", []byte("\x00\x01garbage\r\n#EXTM3U\r\n"), true},
		{"empty file", "empty.mp4", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckGenuineMedia(writeFile(t, tt.file, tt.data))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrFormatSpoof)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCheckGenuineMedia_MissingFile(t *testing.T) {
	err := CheckGenuineMedia(filepath.Join(t.TempDir(), "missing.mp4"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrFormatSpoof)
}
