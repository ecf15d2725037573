// Package main provides a drowsiness-monitor service that records driver
// audio, meters it live, and pushes drowsiness alerts to registered devices.
//
// Usage:
//
//	zendrive-monitor [-config path/to/config.json]
//
// If -config is not specified, the monitor looks for config.json in the same
// directory as the binary.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/zendrive/zendrive-monitor/internal/artifact"
	"github.com/zendrive/zendrive-monitor/internal/audio"
	"github.com/zendrive/zendrive-monitor/internal/capture"
	"github.com/zendrive/zendrive-monitor/internal/config"
	"github.com/zendrive/zendrive-monitor/internal/dispatch"
	"github.com/zendrive/zendrive-monitor/internal/eventlog"
	"github.com/zendrive/zendrive-monitor/internal/notify"
	"github.com/zendrive/zendrive-monitor/internal/push"
	"github.com/zendrive/zendrive-monitor/internal/store"
	"github.com/zendrive/zendrive-monitor/internal/types"
	"github.com/zendrive/zendrive-monitor/internal/util"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default: config.json next to binary)")
	showVersion := flag.Bool("version", false, "Print version information and exit")
	flag.Parse()

	if *showVersion {
		slog.Info("version info", "version", Version, "commit", Commit, "build_time", BuildTime)
		return
	}

	if *configPath == "" {
		execPath, err := os.Executable()
		if err != nil {
			slog.Error("failed to get executable path", "error", err)
			os.Exit(1)
		}
		*configPath = filepath.Join(filepath.Dir(execPath), "config.json")
	}

	slog.Info("using config file", "path", *configPath)

	cfg := config.New(*configPath)
	if err := cfg.Load(); err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	snap := cfg.Snapshot()

	// Check that the platform capture tooling is usable.
	ffmpegPath := audio.ResolveFFmpegPath(cfg.GetFFmpegPath())
	captureAvailable := audio.CaptureAvailable(ffmpegPath)
	if !captureAvailable {
		slog.Warn("audio capture tooling not found - recording disabled",
			"configured_ffmpeg", cfg.GetFFmpegPath())
	} else if ffmpegPath != "" {
		slog.Info("FFmpeg found", "path", ffmpegPath)
	}

	st, err := store.Open(snap.StorePath)
	if err != nil {
		slog.Error("failed to open store", "error", err)
		os.Exit(1)
	}

	events, err := eventlog.NewLogger(eventlog.DefaultLogPath(snap.WebPort))
	if err != nil {
		slog.Warn("event log unavailable", "error", err)
		events = nil
	}

	notifier := notify.NewDeliveryNotifier(cfg)

	uploader := artifact.NewUploader(cfg, events, notifier)
	uploader.Start()

	pushClient := push.NewClient(snap.PushEndpoint, time.Duration(snap.PushTimeoutMs)*time.Millisecond)
	dispatcher := dispatch.New(st, pushClient, dispatch.Config{
		Timeout: time.Duration(snap.PushTimeoutMs) * time.Millisecond,
		OnStaleTarget: func(userID, _ string) {
			notifier.HandleStaleTarget(userID)
			if events != nil {
				if err := events.LogAlert(eventlog.StaleTarget, userID, "", 0, "", ""); err != nil {
					slog.Warn("failed to log stale target event", "error", err)
				}
			}
		},
		OnProviderFailure: notifier.HandleProviderFailure,
	})

	capture.CleanStaleArtifacts(snap.RecordingsDir)
	mic := capture.NewMicrophone(ffmpegPath, snap.RecordingsDir)

	// srv is assigned after the session exists; the session only calls back
	// once Start is invoked, which requires the server to be serving.
	var srv *Server

	// OnStatus fires on every level sample; session events are logged on
	// state transitions only.
	lastState := types.SessionIdle
	session := capture.NewSession(mic, capture.StaticPermissions(capture.PermissionGranted), capture.Config{
		Input:            snap.AudioInput,
		MeteringInterval: time.Duration(snap.MeteringIntervalMs) * time.Millisecond,
		FloorDB:          snap.MeterFloorDB,
		CeilingDB:        snap.MeterCeilingDB,
		OnStatus: func(status types.CaptureStatus) {
			if srv != nil {
				srv.BroadcastStatus(status)
			}
			if status.State == lastState {
				return
			}
			lastState = status.State
			switch status.State {
			case types.SessionRecording:
				if events != nil {
					if err := events.LogSession(eventlog.SessionStarted, cfg.AudioInput(), "", 0, ""); err != nil {
						slog.Warn("failed to log session event", "error", err)
					}
				}
			case types.SessionError:
				notifier.HandleSessionError(status.Error)
				if events != nil {
					if err := events.LogSession(eventlog.SessionError, cfg.AudioInput(), "", 0, status.Error); err != nil {
						slog.Warn("failed to log session event", "error", err)
					}
				}
			}
		},
		OnArtifact: func(a capture.Artifact) {
			if events != nil {
				if err := events.LogSession(eventlog.SessionStopped, cfg.AudioInput(), a.Location, a.SizeBytes, ""); err != nil {
					slog.Warn("failed to log session event", "error", err)
				}
			}
			uploader.Enqueue(a.Location)
		},
	})

	srv = NewServer(cfg, st, session, dispatcher, notifier, events, uploader, captureAvailable)

	// Start web server.
	httpServer := srv.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, util.ShutdownSignals()...)
	<-sigChan

	slog.Info("shutting down")

	// Stop version checker goroutine
	srv.version.Stop()

	// Shut down HTTP server.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	// Finalize any active recording, then drain background work.
	session.Close()
	dispatcher.Wait()
	uploader.Stop()

	if err := st.Close(); err != nil {
		slog.Error("error closing store", "error", err)
	}
	if events != nil {
		if err := events.Close(); err != nil {
			slog.Error("error closing event log", "error", err)
		}
	}

	slog.Info("shutdown complete")
}
