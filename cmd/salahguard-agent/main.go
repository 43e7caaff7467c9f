package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"salahguard/internal/agent"
	"salahguard/internal/clock"
	"salahguard/internal/logging"
)

const (
	defaultPollInterval = 5
	defaultGracePeriod  = 30
)

func main() {
	apiKey := flag.String("key", os.Getenv("SALAHGUARD_API_KEY"), "API key (required)")
	baseURL := flag.String("url", "http://127.0.0.1:8321", "salahguard API base URL")
	pollInterval := flag.Int("poll-interval", defaultPollInterval, "Polling interval in seconds")
	gracePeriod := flag.Int("grace-period", defaultGracePeriod, "Grace period before failing closed on network error (seconds)")
	logPath := flag.String("log-path", "", "Log file path (stdout if empty)")
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn, error")
	logFormat := flag.String("log-format", "json", "Log format: json or text")
	flag.Parse()

	if *apiKey == "" {
		fmt.Fprintln(os.Stderr, "Error: -key is required")
		flag.Usage()
		os.Exit(1)
	}

	level := logging.ParseLevel(*logLevel)
	logConfig := logging.LoggerConfig{
		Format: *logFormat,
		Level:  level,
	}

	var logger *slog.Logger
	if *logPath != "" {
		file, err := os.OpenFile(*logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening log file: %v\n", err)
			os.Exit(1)
		}
		defer file.Close()
		logConfig.Output = file
		logger = logging.NewLogger(logConfig)
	} else {
		logger = logging.NewLogger(logConfig)
	}
	slog.SetDefault(logger)

	mainLogger := logger.With("component", "main")
	mainLogger.Info("salahguard display agent starting",
		"url", *baseURL,
		"poll_interval", *pollInterval,
		"grace_period", *gracePeriod,
	)

	config := &agent.Config{
		BaseURL:      *baseURL,
		APIKey:       *apiKey,
		PollInterval: time.Duration(*pollInterval) * time.Second,
		GracePeriod:  time.Duration(*gracePeriod) * time.Second,
		LogLevel:     *logLevel,
	}
	if err := config.Validate(); err != nil {
		mainLogger.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	client := agent.NewHTTPGuardClient(config.BaseURL, config.APIKey, logger)
	platform := agent.NewPlatform(logger)
	enforcer := agent.NewEnforcer(client, platform, clock.RealClock{}, config, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		enforcer.Start(ctx)
	}()

	sig := <-sigChan
	mainLogger.Info("Shutdown signal received", "signal", sig.String())

	cancel()
	time.Sleep(1 * time.Second)

	mainLogger.Info("salahguard display agent stopped")
}
