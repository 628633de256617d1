// Package mediatest writes stand-in ffmpeg and ffprobe executables for tests
// that exercise the real subprocess paths.
package mediatest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// WriteTool writes an executable shell script called name into dir and
// returns its path.
func WriteTool(t testing.TB, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake %s: %v", name, err)
	}
	return path
}

// ProbeJSON returns a script body that prints report and exits 0.
func ProbeJSON(report string) string {
	return "cat <<'JSON'\n" + report + "\nJSON"
}

// VideoReport builds an ffprobe report with one video stream of the given
// duration in seconds.
func VideoReport(duration float64) string {
	return fmt.Sprintf(`{
  "streams": [
    {"index": 0, "codec_name": "h264", "codec_type": "video", "duration": "%f"},
    {"index": 1, "codec_name": "aac", "codec_type": "audio", "duration": "%f"}
  ],
  "format": {"format_name": "mov,mp4,m4a,3gp,3g2,mj2", "duration": "%f"}
}`, duration, duration, duration)
}

// Marker returns a script line that touches path, so tests can tell whether a
// tool was ever spawned.
func Marker(path string) string {
	return "touch '" + path + "'"
}

// WriteOutputs returns a script body that creates each named file in the
// working directory with some content.
func WriteOutputs(names ...string) string {
	var b strings.Builder
	for _, n := range names {
		fmt.Fprintf(&b, "printf 'derivative %s' > '%s'\n", n, n)
	}
	return b.String()
}

// GenuineMP4 returns the leading bytes of an ISO BMFF file.
func GenuineMP4() []byte {
	data := []byte{0x00, 0x00, 0x00, 0x18, 'f', 't', 'y', 'p', 'i', 's', 'o', 'm', 0x00, 0x00, 0x02, 0x00, 'i', 's', 'o', 'm', 'm', 'p', '4', '1'}
	data = append(data, 0x00, 0x00, 0x00, 0x08, 'f', 'r', 'e', 'e')
	data = append(data, []byte("mdat\x01\x02\x03 tag #EXT inside a box\x7f")...)
	return data
}

// Playlist is an HLS manifest that points at a remote segment.
const Playlist = "#EXTM3U\n#EXT-X-TARGETDURATION:10\n#EXTINF:10,\nhttp://attacker.example/segment0.ts\n#EXT-X-ENDLIST\n"
