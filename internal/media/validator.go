package media

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/gabriel-vasile/mimetype"
)

// playlistSignature starts every tag line of an extended M3U playlist.
var playlistSignature = []byte("#EXT")

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// playlistMimeTypes are the content types mimetype reports for HLS/M3U
// manifests.
var playlistMimeTypes = []string{
	"application/vnd.apple.mpegurl",
	"application/x-mpegurl",
	"audio/mpegurl",
	"audio/x-mpegurl",
}

const scanBufferSize = 64 * 1024

// CheckGenuineMedia rejects a file containing playlist tag lines. A playlist
// saved under a media extension makes the codec tool fetch whatever remote
// segments it lists, so this must run before any subprocess sees the file.
func CheckGenuineMedia(path string) error {
	mime, err := mimetype.DetectFile(path)
	if err != nil {
		return fmt.Errorf("failed to inspect %s: %w", path, err)
	}
	for _, m := range playlistMimeTypes {
		if mime.Is(m) {
			return fmt.Errorf("%w: detected %s", ErrFormatSpoof, mime.String())
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	found, err := hasPlaylistLine(f)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if found {
		return ErrFormatSpoof
	}
	return nil
}

// hasPlaylistLine reports whether any line of r begins with the playlist
// signature, the way `grep '^#EXT'` would.
func hasPlaylistLine(r io.Reader) (bool, error) {
	br := bufio.NewReaderSize(r, scanBufferSize)
	atLineStart, first := true, true
	for {
		chunk, err := br.ReadSlice('\n')
		if first {
			chunk = bytes.TrimPrefix(chunk, utf8BOM)
			first = false
		}
		if atLineStart && bytes.HasPrefix(chunk, playlistSignature) {
			return true, nil
		}

		switch {
		case err == nil:
			atLineStart = true
		case errors.Is(err, bufio.ErrBufferFull):
			// Long binary run; the next chunk continues the same line.
			atLineStart = false
		case errors.Is(err, io.EOF):
			return false, nil
		default:
			return false, err
		}
	}
}
