// Package main implements earcatch, a desktop music-recognition assistant.
// It records short clips from the system input device, submits them to an
// audio fingerprinting service and keeps a searchable history of every
// recognized song, exposed to local presentation clients over WebSocket.
//
// Usage:
//
//	earcatch [-config path/to/config.json]
//
// If -config is not specified, earcatch looks for config.json in the same
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

	"github.com/earcatch/earcatch/internal/audio"
	"github.com/earcatch/earcatch/internal/clips"
	"github.com/earcatch/earcatch/internal/config"
	"github.com/earcatch/earcatch/internal/fingerprint"
	"github.com/earcatch/earcatch/internal/history"
	"github.com/earcatch/earcatch/internal/notify"
	"github.com/earcatch/earcatch/internal/recognizer"
	"github.com/earcatch/earcatch/internal/song"
	"github.com/earcatch/earcatch/internal/types"
	"github.com/earcatch/earcatch/internal/util"
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

	store, err := song.Open(cfg.DatabasePath())
	if err != nil {
		slog.Error("failed to open song store", "path", cfg.DatabasePath(), "error", err)
		os.Exit(1)
	}
	slog.Info("song store opened", "path", cfg.DatabasePath(), "songs", store.Len())

	clipSaver, err := clips.New(cfg.ClipsDir(), clips.WithMaxClips(cfg.MaxClips()))
	if err != nil {
		slog.Error("failed to prepare clips directory", "path", cfg.ClipsDir(), "error", err)
		os.Exit(1)
	}

	matcher := fingerprint.NewWithToken(cfg.RecognitionEndpoint(), cfg.APIToken)
	notifier := notify.NewRecognitionNotifier(cfg)

	// The server, coordinator, capture and session reference each other
	// across goroutine boundaries, so the late bindings go through
	// closures over these variables.
	var srv *Server
	var sess *recognizer.Session

	coordinator := history.New(store,
		history.WithNotifier(notifier),
		history.WithChangeHook(func() {
			if srv != nil {
				srv.BroadcastHistory()
			}
		}),
	)

	capture := audio.New(func(err error) {
		if sess != nil {
			sess.OnCaptureError(err)
		}
	})

	sess = recognizer.New(capture, matcher,
		recognizer.WithListenDurationFunc(func() time.Duration {
			return time.Duration(cfg.ListenSeconds()) * time.Second
		}),
		recognizer.WithClipSink(clipSaver),
	)

	srv = NewServer(cfg, sess, store, coordinator, clipSaver, matcher)
	httpServer := srv.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, util.ShutdownSignals()...)
	<-sigChan

	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), types.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	if err := sess.Close(); err != nil {
		slog.Error("error closing session", "error", err)
	}
	if err := store.Close(); err != nil {
		slog.Error("error closing song store", "error", err)
	}

	slog.Info("shutdown complete")
}
