package audio

import "errors"

// ErrNoAudioDevice is returned when no audio input device is available.
var ErrNoAudioDevice = errors.New("no audio input device found")

// CaptureConfig defines platform-specific audio capture configuration.
type CaptureConfig struct {
	// Command is the executable name (e.g., "arecord", "ffmpeg").
	Command string

	// DefaultDevice is used when no device is configured.
	DefaultDevice string

	// UsesFFmpeg indicates if this platform uses FFmpeg for capture.
	UsesFFmpeg bool

	// BuildArgs returns the command arguments for audio capture.
	// The device parameter is the audio input device identifier.
	BuildArgs func(device string) []string
}

// BuildCaptureCommand returns the command and arguments for audio capture.
// If device is empty, it attempts to use the default or auto-detect.
// The ffmpegPath parameter is used on platforms that use FFmpeg for capture.
func BuildCaptureCommand(device, ffmpegPath string) (cmd string, args []string, err error) {
	cfg := getPlatformConfig()

	if device == "" {
		device = cfg.DefaultDevice
	}

	// Auto-detect if still empty (Windows has no safe default).
	if device == "" {
		devices := ListDevices()
		if len(devices) == 0 {
			return "", nil, ErrNoAudioDevice
		}
		device = devices[0].ID
	}

	command := cfg.Command
	if cfg.UsesFFmpeg && ffmpegPath != "" {
		command = ffmpegPath
	}

	return command, cfg.BuildArgs(device), nil
}

// ResolveFFmpegPath returns the path to the FFmpeg binary, or "" if unavailable.
// Only relevant on platforms where capture goes through FFmpeg.
func ResolveFFmpegPath(customPath string) string {
	return lookupExecutable(customPath, "ffmpeg")
}

// CaptureAvailable reports whether recording can work on this host.
// FFmpeg platforms need a resolved FFmpeg binary; others need the platform
// capture tool on PATH.
func CaptureAvailable(ffmpegPath string) bool {
	cfg := getPlatformConfig()
	if cfg.UsesFFmpeg {
		return ffmpegPath != ""
	}
	return lookupExecutable("", cfg.Command) != ""
}
