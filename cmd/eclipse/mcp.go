package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/eclipse/internal/api"
	"github.com/kalambet/eclipse/internal/config"
	"github.com/kalambet/eclipse/internal/scan"
	"github.com/kalambet/eclipse/internal/storage"
	"github.com/kalambet/eclipse/internal/upload"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the eclipse MCP tools over stdio",
	Long: `Serve the eclipse MCP tools over stdio.

Tools: scan_image, scan_history, scan_report. Resource: eclipse://history.
History is shared with the HTTP server through the same data directory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCP()
	},
}

func runMCP() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	// stdout carries the protocol; logs go to stderr.
	setupLogging(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer store.Close()

	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Validator: upload.NewValidator(cfg.Scan.MaxUploadBytes()),
		Scanner:   scan.NewEngine(),
		History:   newHistory(cfg, store),
	})
	slog.Info("MCP server started (stdio transport)")

	stdioSrv := server.NewStdioServer(mcpSrv)
	if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("MCP stdio server: %w", err)
	}
	return nil
}
