// Package cli provides common initialization for the lifeledger binaries.
// It consolidates the startup sequence shared by cmd/lifeledger and
// cmd/lifeledger-worker.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"lifeledger/internal/config"
	applog "lifeledger/internal/log"
)

// SetupLogger builds the process logger for an environment and installs it
// as the slog default.
func SetupLogger(environment string) *applog.Logger {
	logger := applog.New(applog.ConfigForEnvironment(environment))
	applog.SetDefault(logger)
	return logger
}

// Bootstrap loads the dotenv file selected by ENVIRONMENT, sets up logging
// and returns the validated configuration. It exits the process on failure.
func Bootstrap(name string) (*config.Config, *applog.Logger) {
	cfg, logger, err := bootstrap()
	if err != nil {
		logger.Error("Startup failed", "binary", name, applog.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Starting "+name, "environment", cfg.Environment, "backend", cfg.DataBackend)
	return cfg, logger
}

func bootstrap() (*config.Config, *applog.Logger, error) {
	env, err := config.LoadEnvironmentFile()
	logger := SetupLogger(env)
	if err != nil {
		return nil, logger, fmt.Errorf("load environment: %w", err)
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, logger, err
	}
	return cfg, logger, nil
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
