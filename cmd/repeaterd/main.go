// Command repeaterd runs the MeshCore LoRa repeater daemon: loads the YAML
// configuration file, wires every component via internal/daemon, and runs
// until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/kabili207/meshcore-go/internal/daemon"
)

func main() {
	configPath := flag.String("config", "/etc/repeaterd/config.yaml", "path to config file")
	logLevel := flag.String("log-level", "", "log level override (DEBUG, INFO, WARNING, ERROR)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(*logLevel),
	}))
	slog.SetDefault(logger)

	if err := run(*configPath, logger); err != nil {
		logger.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run(configPath string, logger *slog.Logger) error {
	d, err := daemon.New(configPath, logger)
	if err != nil {
		return fmt.Errorf("initializing repeater daemon: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("repeater daemon started")
	if err := d.Run(ctx); err != nil {
		return fmt.Errorf("running repeater daemon: %w", err)
	}
	logger.Info("repeater daemon stopped")
	return nil
}

func parseLevel(level string) slog.Level {
	switch level {
	case "DEBUG":
		return slog.LevelDebug
	case "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
