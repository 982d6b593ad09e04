// Package cli implements the expenses command line: process setup shared by
// cmd/expenses and the subcommands themselves.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"expenses/internal/config"
	"expenses/internal/log"
)

// SetupLogger builds the process logger from cfg and makes it the default.
// Logs go to stderr so command output on stdout stays clean.
func SetupLogger(cfg *config.Config, w io.Writer) *log.Logger {
	if w == nil {
		w = os.Stderr
	}
	logger := log.New(log.Config{
		Level:     log.ParseLevel(cfg.LogLevel),
		Component: log.ComponentCLI,
		Output:    w,
	})
	log.SetDefault(logger)
	return logger
}

// LoadAndValidateConfig loads the optional env file, then the configuration,
// and validates it.
func LoadAndValidateConfig(envFile string) (*config.Config, error) {
	var paths []string
	if envFile != "" {
		paths = append(paths, envFile)
	}
	if err := config.LoadEnvFile(paths...); err != nil {
		return nil, err
	}
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM. A second
// signal terminates the process immediately.
func SignalContext(parent context.Context, logger *log.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("Interrupted, cancelling", "signal", sig.String())
			cancel()
		case <-ctx.Done():
			signal.Stop(sigChan)
			return
		}
		<-sigChan
		fmt.Fprintln(os.Stderr, "forced exit")
		os.Exit(130)
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}
