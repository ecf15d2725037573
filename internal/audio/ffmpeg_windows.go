//go:build windows

package audio

import (
	"strconv"

	"github.com/zendrive/zendrive-monitor/internal/types"
)

// buildFFmpegCaptureArgs returns FFmpeg arguments that capture from the
// given input device and emit raw S16LE PCM on stdout. -nostdin is omitted
// on Windows: stopping sends 'q' on stdin because no SIGINT equivalent
// reaches the child.
func buildFFmpegCaptureArgs(inputFormat, device string) []string {
	return []string{
		"-f", inputFormat,
		"-i", device,
		"-hide_banner",
		"-loglevel", "warning",
		"-vn",
		"-f", "s16le",
		"-ac", strconv.Itoa(types.Channels),
		"-ar", strconv.Itoa(types.SampleRate),
		"pipe:1",
	}
}
