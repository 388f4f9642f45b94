// Package main provides a controller that holds the microphone capture route on
// devices with a defective default microphone, yielding to other recorders and
// reclaiming the route when they finish.
//
// Usage:
//
//	micguard [-config path/to/config.json]
//
// If -config is not specified, the controller looks for config.json in the
// same directory as the binary.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/micguard/micguard/internal/capture"
	"github.com/micguard/micguard/internal/config"
	"github.com/micguard/micguard/internal/controller"
	"github.com/micguard/micguard/internal/eventlog"
	"github.com/micguard/micguard/internal/host"
	"github.com/micguard/micguard/internal/state"
	"github.com/micguard/micguard/internal/types"
	"github.com/micguard/micguard/internal/util"
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

	platform, err := capture.NewPlatform()
	if err != nil {
		if !errors.Is(err, types.ErrNoCaptureDevice) {
			slog.Error("failed to initialize audio platform", "error", err)
			os.Exit(1)
		}
		slog.Warn("no capture device available - running in degraded mode")
		platform = capture.NoPlatform{}
	}

	events := eventlog.NewLogger(cfg.Snapshot().EventLogPath)
	store := state.NewStore()

	ctrl := controller.New(cfg, platform, host.LogHost{}, store, events)

	srv := NewServer(cfg, ctrl, store)

	if cfg.Snapshot().AutoStart {
		slog.Info("auto-starting hold controller")
		ctrl.Start()
	}

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

	ctrl.Stop()

	if err := events.Close(); err != nil {
		slog.Error("error closing event log", "error", err)
	}

	slog.Info("shutdown complete")
}
