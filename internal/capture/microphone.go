package capture

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/google/uuid"

	"github.com/zendrive/zendrive-monitor/internal/audio"
	"github.com/zendrive/zendrive-monitor/internal/types"
	"github.com/zendrive/zendrive-monitor/internal/util"
)

// meteringFrames is the number of stereo frames accumulated per level
// measurement (~100ms at 48kHz).
const meteringFrames = 4800

// Sentinel errors for microphone operations.
var (
	ErrDeviceBusy     = errors.New("audio device already acquired")
	ErrHandleReleased = errors.New("recording handle already released")
)

// Microphone acquires the platform audio input and records it to WAV files.
// At most one recording handle is live at a time.
type Microphone struct {
	ffmpegPath string
	outputDir  string

	mu     sync.Mutex
	active bool
}

// NewMicrophone creates a microphone device writing artifacts to outputDir.
// The ffmpegPath is used on platforms where capture goes through FFmpeg.
func NewMicrophone(ffmpegPath, outputDir string) *Microphone {
	return &Microphone{ffmpegPath: ffmpegPath, outputDir: outputDir}
}

// Acquire implements Device. It starts the platform capture process and
// begins writing PCM audio to a new WAV artifact.
func (m *Microphone) Acquire(_ context.Context, cfg DeviceConfig) (Handle, error) {
	m.mu.Lock()
	if m.active {
		m.mu.Unlock()
		return nil, ErrDeviceBusy
	}
	m.active = true
	m.mu.Unlock()

	h, err := m.acquire(cfg)
	if err != nil {
		m.mu.Lock()
		m.active = false
		m.mu.Unlock()
		return nil, err
	}
	return h, nil
}

func (m *Microphone) acquire(cfg DeviceConfig) (*micHandle, error) {
	cmdName, args, err := audio.BuildCaptureCommand(cfg.Input, m.ffmpegPath)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(m.outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create recordings directory: %w", err)
	}

	path := filepath.Join(m.outputDir, fmt.Sprintf("rec-%s.wav", uuid.NewString()))
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create artifact: %w", err)
	}

	slog.Info("starting audio capture", "command", cmdName, "input", cfg.Input, "artifact", path)

	procCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(procCtx, cmdName, args...)
	cmd.Cancel = func() error {
		return util.GracefulSignal(cmd.Process)
	}
	cmd.WaitDelay = types.ShutdownTimeout

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		_ = file.Close()
		_ = os.Remove(path)
		return nil, err
	}

	var stderrBuf bytes.Buffer
	cmd.Stderr = &stderrBuf

	if err := cmd.Start(); err != nil {
		cancel()
		_ = file.Close()
		_ = os.Remove(path)
		return nil, fmt.Errorf("start capture process: %w", err)
	}

	h := &micHandle{
		mic:       m,
		cmd:       cmd,
		cancel:    cancel,
		path:      path,
		metering:  cfg.Metering,
		recording: true,
		done:      make(chan struct{}),
	}

	enc := wav.NewEncoder(file, types.SampleRate, 16, types.Channels, 1)
	go h.runReader(stdout, file, enc, &stderrBuf)

	return h, nil
}

func (m *Microphone) release() {
	m.mu.Lock()
	m.active = false
	m.mu.Unlock()
}

// micHandle is a live recording backed by a capture process.
type micHandle struct {
	mic    *Microphone
	cmd    *exec.Cmd
	cancel context.CancelFunc
	path   string

	metering bool
	done     chan struct{} // closed once the reader loop has finished and the file is flushed

	mu        sync.Mutex
	recording bool
	levelDB   *float64
	runErr    error
	released  bool
}

// runReader consumes PCM from the capture process, accumulates metering
// windows and appends samples to the WAV artifact. It owns file and enc.
func (h *micHandle) runReader(stdout io.Reader, file *os.File, enc *wav.Encoder, stderr *bytes.Buffer) {
	defer close(h.done)

	buf := make([]byte, meteringFrames*4) // s16le stereo
	var window audio.LevelData
	pcm := goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: types.Channels, SampleRate: types.SampleRate},
		SourceBitDepth: 16,
	}

	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			if h.metering {
				audio.ProcessSamples(buf, n, &window)
				if window.SampleCount >= meteringFrames {
					db := audio.CalculateLevels(&window).Overall()
					h.mu.Lock()
					h.levelDB = &db
					h.mu.Unlock()
					window.Reset()
				}
			}

			pcm.Data = pcm.Data[:0]
			for i := 0; i+1 < n; i += 2 {
				pcm.Data = append(pcm.Data, int(int16(binary.LittleEndian.Uint16(buf[i:]))))
			}
			if werr := enc.Write(&pcm); werr != nil {
				slog.Error("artifact write failed", "path", h.path, "error", werr)
				h.finishReader(fmt.Errorf("write artifact: %w", werr), file, enc, stderr)
				return
			}
		}
		if err != nil {
			h.finishReader(nil, file, enc, stderr)
			return
		}
	}
}

// finishReader finalizes the artifact and records the terminal condition.
func (h *micHandle) finishReader(writeErr error, file *os.File, enc *wav.Encoder, stderr *bytes.Buffer) {
	waitErr := h.cmd.Wait()

	if err := enc.Close(); err != nil {
		slog.Warn("failed to finalize artifact", "path", h.path, "error", err)
		if writeErr == nil {
			writeErr = fmt.Errorf("finalize artifact: %w", err)
		}
	}
	if err := file.Close(); err != nil {
		slog.Warn("failed to close artifact", "path", h.path, "error", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.recording = false
	h.levelDB = nil

	switch {
	case writeErr != nil:
		h.runErr = writeErr
	case waitErr != nil && !h.released:
		// The process died on its own; surface its stderr.
		msg := util.ExtractLastError(stderr.String())
		if msg == "" {
			msg = waitErr.Error()
		}
		h.runErr = fmt.Errorf("capture process failed: %s", msg)
		slog.Error("capture process exited unexpectedly", "error", msg)
	}
}

// Status implements Handle.
func (h *micHandle) Status(context.Context) (HandleStatus, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.runErr != nil {
		return HandleStatus{}, h.runErr
	}
	return HandleStatus{IsRecording: h.recording, MeteringDB: h.levelDB}, nil
}

// StopAndRelease implements Handle. It signals the capture process, waits
// for the artifact to be flushed and frees the device.
func (h *micHandle) StopAndRelease(ctx context.Context) (Artifact, error) {
	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		return Artifact{}, ErrHandleReleased
	}
	h.released = true
	h.mu.Unlock()

	defer h.mic.release()

	h.cancel()

	select {
	case <-h.done:
	case <-ctx.Done():
		return Artifact{}, fmt.Errorf("wait for capture shutdown: %w", ctx.Err())
	}

	h.mu.Lock()
	runErr := h.runErr
	h.mu.Unlock()
	if runErr != nil {
		_ = os.Remove(h.path)
		return Artifact{}, runErr
	}

	info, err := os.Stat(h.path)
	if err != nil {
		return Artifact{}, fmt.Errorf("stat artifact: %w", err)
	}

	slog.Info("recording finalized", "path", h.path, "size", info.Size())
	return Artifact{Location: h.path, SizeBytes: info.Size()}, nil
}

// staleArtifactAge is how old an unclaimed recording must be before startup
// cleanup removes it.
const staleArtifactAge = 24 * time.Hour

// CleanStaleArtifacts removes WAV files in dir older than staleArtifactAge.
// Called at startup to purge recordings orphaned by a crash.
func CleanStaleArtifacts(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	cutoff := time.Now().Add(-staleArtifactAge)
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".wav" {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if err := os.Remove(path); err != nil {
			slog.Warn("failed to remove stale recording", "path", path, "error", err)
		} else {
			slog.Info("removed stale recording", "path", path)
		}
	}
}
