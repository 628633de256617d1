// Package media wraps the external codec and probe tools. It provides the
// three gates a downloaded file passes through before derivatives exist:
//
//   - CheckGenuineMedia rejects playlists disguised as media files.
//   - Prober confirms a duration-bounded video stream with ffprobe.
//   - Transcoder runs ffmpeg with the configured argument template.
//
// Binaries are resolved once per invocation by LocateBackend.
package media
