//go:build !linux && !windows

package audio

import (
	"strconv"

	"github.com/zendrive/zendrive-monitor/internal/types"
)

// buildFFmpegCaptureArgs returns FFmpeg arguments that capture from the
// given input device and emit raw S16LE PCM on stdout, matching the
// format the metering path expects.
func buildFFmpegCaptureArgs(inputFormat, device string) []string {
	return []string{
		"-f", inputFormat,
		"-i", device,
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-vn",
		"-f", "s16le",
		"-ac", strconv.Itoa(types.Channels),
		"-ar", strconv.Itoa(types.SampleRate),
		"pipe:1",
	}
}
