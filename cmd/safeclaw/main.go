// Command safeclaw is the SafeClaw gateway's entry point: it loads
// configuration, opens the audit log, constructs the application
// composition root, and drives the Telegram transport until a shutdown
// signal arrives. Grounded on the teacher's cmd/gateway/main.go
// (config → logger → app → signal-driven shutdown), trading its
// REPL/gateway subcommand split for a `serve` command (the Telegram
// gateway) and a `dashboard` command (a read-mostly local terminal
// dashboard onto an in-process gateway).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/safeclaw/safeclaw/internal/application"
	"github.com/safeclaw/safeclaw/internal/infrastructure/audit"
	"github.com/safeclaw/safeclaw/internal/infrastructure/config"
	"github.com/safeclaw/safeclaw/internal/infrastructure/logger"
	"github.com/safeclaw/safeclaw/internal/infrastructure/telegram"
	"github.com/safeclaw/safeclaw/internal/interfaces/tui"
)

const (
	appName    = "safeclaw"
	appVersion = "0.1.0"
)

func main() {
	var mcpConfigPath string

	root := &cobra.Command{
		Use:     appName,
		Short:   "SafeClaw — a single-owner AI-assistant gateway",
		Version: appVersion,
	}

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway and the Telegram transport",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(mcpConfigPath)
		},
	}
	serve.Flags().StringVar(&mcpConfigPath, "mcp-config", "mcp.yaml", "path to the MCP server config file")
	root.AddCommand(serve)

	dashboard := &cobra.Command{
		Use:   "dashboard",
		Short: "Run the local terminal dashboard against a fresh in-process gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDashboard(mcpConfigPath)
		},
	}
	dashboard.Flags().StringVar(&mcpConfigPath, "mcp-config", "mcp.yaml", "path to the MCP server config file")
	root.AddCommand(dashboard)

	// serve is also the default action when no subcommand is given.
	root.RunE = serve.RunE
	root.Flags().AddFlagSet(serve.Flags())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe(mcpConfigPath string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	log, err := logger.New(logger.Config{
		Level:      cfg.Log.LogLevel,
		Format:     cfg.Log.LogFormat,
		OutputPath: "stdout",
	})
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer log.Sync()

	log.Info("starting safeclaw", zap.String("version", appVersion))

	auditLog, err := audit.Open(cfg.StorageDir, log)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer auditLog.Close()

	gw, err := application.New(cfg, log, auditLog, mcpConfigPath)
	if err != nil {
		return fmt.Errorf("construct gateway: %w", err)
	}

	adapter, err := telegram.NewAdapter(telegram.Config{
		BotToken: cfg.BotToken,
		OwnerID:  cfg.OwnerID,
	}, gw, auditLog, log)
	if err != nil {
		return fmt.Errorf("construct telegram adapter: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := adapter.Start(ctx); err != nil {
		return fmt.Errorf("start telegram adapter: %w", err)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info("received shutdown signal", zap.String("signal", sig.String()))

	adapter.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := gw.Kill(shutdownCtx); err != nil {
		log.Warn("error transitioning to shutdown", zap.Error(err))
	}

	log.Info("safeclaw stopped")
	return nil
}

// runDashboard starts the bubbletea terminal dashboard against a gateway
// constructed in this same process. It is meant for an operator running
// SafeClaw on a workstation without Telegram — there is no remote control
// plane here, so Wake/Sleep issued from the dashboard act on this process's
// gateway instance directly, with no Telegram transport attached.
func runDashboard(mcpConfigPath string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	log, err := logger.New(logger.Config{
		Level:      cfg.Log.LogLevel,
		Format:     cfg.Log.LogFormat,
		OutputPath: "stdout",
	})
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer log.Sync()

	auditLog, err := audit.Open(cfg.StorageDir, log)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer auditLog.Close()

	gw, err := application.New(cfg, log, auditLog, mcpConfigPath)
	if err != nil {
		return fmt.Errorf("construct gateway: %w", err)
	}

	return tui.Run(gw)
}
