package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/eclipse/internal/api"
	"github.com/kalambet/eclipse/internal/config"
	"github.com/kalambet/eclipse/internal/documents"
	"github.com/kalambet/eclipse/internal/history"
	"github.com/kalambet/eclipse/internal/metrics"
	"github.com/kalambet/eclipse/internal/scan"
	"github.com/kalambet/eclipse/internal/storage"
	"github.com/kalambet/eclipse/internal/upload"
	"github.com/kalambet/eclipse/internal/workflow"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the eclipse server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running eclipse server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show eclipse server status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "eclipse.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func setupLogging(level string) {
	logLevel := slog.LevelInfo
	if strings.EqualFold(level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
}

// newHistory builds the history store over the sqlite key/value table and
// keeps the entries gauge current.
func newHistory(cfg config.Config, store history.Storage) *history.Store {
	h := history.NewStore(store,
		history.WithKey(cfg.History.Key),
		history.WithLimit(cfg.History.Limit),
		history.WithLogger(slog.Default().With("component", "history")),
		history.WithOnChange(func(n int) {
			metrics.HistoryEntries.Set(float64(n))
		}),
	)
	metrics.HistoryEntries.Set(float64(len(h.Load(context.Background()))))
	return h
}

func timingFrom(cfg config.Config) workflow.Timing {
	return workflow.Timing{
		UploadDelay:      cfg.Scan.UploadDelay,
		AnalysisDelay:    cfg.Scan.AnalysisDelay,
		ProgressInterval: cfg.Scan.ProgressInterval,
	}
}

// buildDeps wires the HTTP handler dependencies from config.
func buildDeps(cfg config.Config, store history.Storage) api.Deps {
	validator := upload.NewValidator(cfg.Scan.MaxUploadBytes())
	engine := scan.NewEngine()
	hist := newHistory(cfg, store)
	renderer := upload.NewRenderer()
	timing := timingFrom(cfg)
	wfLogger := slog.Default().With("component", "workflow")

	sessions := workflow.NewSessions(func() *workflow.Controller {
		return workflow.New(validator, renderer, engine, hist,
			workflow.WithTiming(timing),
			workflow.WithLogger(wfLogger),
		)
	})

	return api.Deps{
		Validator:      validator,
		Scanner:        engine,
		History:        hist,
		Sessions:       sessions,
		Documents:      &documents.List{},
		AllowedOrigins: cfg.Server.AllowedOrigins,
		SpecialistsURL: cfg.Specialists.URL,
		Logger:         slog.Default().With("component", "api"),
	}
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "eclipse version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)
	metrics.Register()

	// Refuse to start twice on the same port.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("eclipse is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("eclipse is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	deps := buildDeps(cfg, store)
	defer deps.Sessions.CloseAll()

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: api.NewHandler(deps),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("eclipse listening", "addr", addr, "data_dir", cfg.Storage.DataDir)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("eclipse is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop eclipse (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to eclipse (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	httpClient := &http.Client{Timeout: 2 * time.Second}

	running := false
	resp, err := httpClient.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	if running {
		histResp, err := httpClient.Get(serverURL + "/api/v1/results/history")
		if err == nil {
			var entries []json.RawMessage
			if json.NewDecoder(histResp.Body).Decode(&entries) == nil {
				printStatus("History", "%s", countLabel(len(entries), cfg.History.Limit))
			}
			histResp.Body.Close()
		}
	}

	printStatus("Upload limit", "%dMB", cfg.Scan.MaxUploadMB)
	printStatus("Scan delay", "%s + %s", cfg.Scan.UploadDelay, cfg.Scan.AnalysisDelay)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func countLabel(count, limit int) string {
	if count >= limit {
		return fmt.Sprintf("%d (full)", count)
	}
	return fmt.Sprintf("%d/%d", count, limit)
}
