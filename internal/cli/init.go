// Package cli wires configuration, logging, the Notion client, the summary
// backend and the optional publisher into the habitsync commands.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"habitsync/internal/amqp"
	"habitsync/internal/config"
	"habitsync/internal/log"
	"habitsync/internal/notion"
)

// SetupLogger initializes structured logging at the given level and sets it
// as the default logger.
func SetupLogger(level, format string, w io.Writer) (*log.Logger, error) {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := log.DefaultConfig()
	cfg.Level = lvl
	cfg.Component = log.ComponentCLI
	if format != "" {
		cfg.Format = format
	}
	if w != nil {
		cfg.Output = w
	}
	logger := log.New(cfg)
	log.SetDefault(logger)
	return logger, nil
}

// LoadEnvFile loads variables from path without overriding the environment.
// With an empty path it tries ./.env and ignores a missing file, as in
// production the environment is set directly.
func LoadEnvFile(path string) error {
	if path == "" {
		if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load .env: %w", err)
		}
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// NewNotionClient builds the Notion client for the source database and, with
// the notion backend, for the summary database.
func NewNotionClient(cfg *config.Config) (*notion.Client, error) {
	return notion.New(notion.Config{
		Token:        cfg.NotionToken,
		BaseURL:      cfg.NotionAPIURL,
		Version:      cfg.NotionVersion,
		Timeout:      cfg.NotionTimeout,
		SummaryTitle: cfg.SummaryTitle,
	})
}

// NewPublisher connects to the broker when AMQP_URL is set. It returns a nil
// client otherwise.
func NewPublisher(ctx context.Context, cfg *config.Config, logger *log.Logger) (*amqp.Client, error) {
	if cfg.AMQPURL == "" {
		logger.Debug("AMQP disabled, summary updates will not be published")
		return nil, nil
	}
	client, err := amqp.NewClient(ctx, cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPRoutingKey)
	if err != nil {
		return nil, fmt.Errorf("connect to AMQP broker: %w", err)
	}
	logger.Info("Connected to AMQP broker", "exchange", cfg.AMQPExchange, "routing_key", cfg.AMQPRoutingKey)
	return client, nil
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM. In-flight
// remote calls observe the cancellation and the run stops with ctx.Err().
func SignalContext(parent context.Context, logger *log.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Warn("Shutdown signal received, cancelling run", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}
