package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jholhewres/concierge/pkg/concierge/app"
	"github.com/jholhewres/concierge/pkg/concierge/config"
	"github.com/spf13/cobra"
)

// newServeCmd creates the `concierge serve` command that starts the agent.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the agent and connect to the messaging transport",
		Long: `Start the concierge agent, connect to the configured transport
(WhatsApp or Discord), and process messages until interrupted.

Examples:
  concierge serve
  concierge serve --config ./config.yaml`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	logger := newLogger(cmd, cfg)

	// Audit BEFORE resolving — checks the raw config values for hardcoded keys.
	config.AuditSecrets(cfg, logger)
	config.ResolveAPIKey(cfg, logger)

	agent, err := app.New(cfg, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := agent.Start(ctx); err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}

	logger.Info("concierge running. Press Ctrl+C to stop.",
		"name", cfg.Name,
		"transport", cfg.Transport.Kind,
		"mention_handles", cfg.MentionHandles,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received, stopping...")

	// Graceful shutdown with timeout.
	done := make(chan struct{})
	go func() {
		agent.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(15 * time.Second):
		logger.Warn("shutdown timed out, exiting")
	}

	return nil
}

// newLogger builds the slog logger from config and the --verbose flag.
func newLogger(cmd *cobra.Command, cfg *config.Config) *slog.Logger {
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	logLevel := slog.LevelInfo
	if verbose || cfg.Logging.Level == "debug" {
		logLevel = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.Logging.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	}
	return slog.New(handler)
}
