package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/tarz-one/Companion/internal/audio"
	"github.com/tarz-one/Companion/internal/config"
	"github.com/tarz-one/Companion/internal/runtime"
)

var version = "0.1.0-dev"

func main() {
	var (
		configPath  string
		showVersion bool
		listDevices bool
	)

	flag.StringVar(&configPath, "config", "companion.yaml", "Path to configuration file")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.BoolVar(&listDevices, "list-devices", false, "List audio input devices and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(version)
		return
	}

	if listDevices {
		devices, err := audio.ListInputDevices()
		if err != nil {
			fmt.Fprintln(os.Stderr, "failed to list devices:", err)
			os.Exit(1)
		}
		for _, dev := range devices {
			marker := ""
			if dev.Default {
				marker = " (default)"
			}
			fmt.Printf("%s [%d channels]%s\n", dev.Name, dev.Channels, marker)
		}
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		bootLogger().Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.Telemetry.LogLevel),
	}))

	rt := runtime.New(cfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rt.Start(ctx); err != nil {
		logger.Error("runtime exited with error", slog.String("error", err.Error()))
		time.Sleep(1 * time.Second)
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}

func bootLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
