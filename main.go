package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/AptLogic/CloudLAPS/internal/config"
	"github.com/AptLogic/CloudLAPS/internal/server"
)

var (
	configPath   string
	port         string
	functionName string
	platform     string
	debug        bool
)

func main() {
	// Optional YAML file, overridden by the environment and then by flags
	flag.StringVar(&configPath, "config", "", "Path to a YAML configuration file")

	// The port the Functions host forwards requests to
	flag.StringVar(&port, "port", "", "Port for the function host")
	flag.StringVar(&functionName, "function-name", "", "Name of the HTTP-triggered function")

	flag.StringVar(&platform, "platform", "", "Operating system value a device record must carry")
	flag.BoolVar(&debug, "debug", false, "Enable debug logging, including request secrets")

	flag.Parse()

	if configPath == "" {
		configPath = os.Getenv("CLOUDLAPS_CONFIG")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Only flags given on the command line override the configuration
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Port = port
		case "function-name":
			cfg.FunctionName = functionName
		case "platform":
			cfg.Rotation.Platform = platform
		case "debug":
			cfg.Debug = debug
		}
	})

	// Initialize logging
	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received")
		cancel()
	}()

	srv, err := server.New(ctx, cfg)
	if err != nil {
		slog.Error("Failed to create server", "error", err)
		os.Exit(1)
	}

	// Start server
	if err := srv.Start(ctx); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
}
