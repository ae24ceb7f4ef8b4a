// Package main is the headless entry point for the Aria playback engine.
//
// Aria plays music from Subsonic, Navidrome and Jellyfin servers through
// either an external mpv process or an in-process speaker graph. UI
// frontends talk to the engine through its services and event bus; this
// binary only hosts the engine until interrupted.
//
// Build:
//
//	go build -o build/aria ./cmd
//
// Run:
//
//	./build/aria -config ~/.config/aria/config.yaml
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ariaplayer/aria/internal/app"
	"github.com/ariaplayer/aria/internal/config"
	"github.com/ariaplayer/aria/internal/logger"
)

func main() {
	configPath := flag.String("config", "", "path to the config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(app.GetVersionInfo().FullString())
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Level:  logger.ParseLevel(cfg.Logging.Level),
		Format: cfg.Logging.Format,
	})
	log.Info("starting", slog.String("version", app.GetVersionInfo().FullString()))

	engine, err := app.New(log, cfg, app.Options{})
	if err != nil {
		log.Error("failed to start engine", slog.Any("error", err))
		os.Exit(1)
	}
	defer engine.Shutdown()

	// Block until interrupted
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	sig := <-signals

	log.Info("received signal", slog.String("signal", sig.String()))
}
