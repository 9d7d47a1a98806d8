package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/crmai/internal/api"
	"github.com/kalambet/crmai/internal/config"
	"github.com/kalambet/crmai/internal/ollama"
	"github.com/kalambet/crmai/internal/retrain"
	"github.com/kalambet/crmai/internal/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the crmai server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running crmai server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show crmai system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "crmai.pid")
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

func runServer() error {
	fmt.Fprintf(os.Stderr, "crmai version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)

	// Refuse to start twice on the same port.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get("http://" + cfg.Server.Addr() + "/health"); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		return fmt.Errorf("server already running on %s", cfg.Server.Addr())
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
			slog.Warn("closing storage", "error", err)
		}
	}()

	svc := buildServices(cfg, store)

	// A missing model only degrades chat, so it is fatal only when the
	// model is expected to be pulled.
	if err := ollama.EnsureReady(ctx, svc.ollama, cfg.Ollama.Model, cfg.Ollama.EnsureModel, os.Stderr); err != nil {
		if cfg.Ollama.EnsureModel {
			return err
		}
		slog.Warn("ollama not ready, chat will return diagnostics", "error", err)
	}

	worker := retrain.NewWorker(svc.prediction, cfg.Model.RetrainInterval, cfg.Model.TrainOnStart)
	go worker.Run(ctx)

	handler := api.NewHandler(api.Deps{
		Chat:        svc.chat,
		Predictor:   svc.prediction,
		Prober:      svc.aggregator,
		History:     store,
		Token:       cfg.Server.APIToken,
		CORSOrigins: cfg.Server.Origins(),
	})

	addr := cfg.Server.Addr()
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("crmai listening", "addr", addr, "backend", cfg.Backend.BaseURL, "model", cfg.Ollama.Model)
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
		return fmt.Errorf("could not load config: %w", err)
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		return fmt.Errorf("crmai is not running (no PID file): %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("could not find process %d: %w", pid, err)
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		removePIDFile(pidPath)
		return fmt.Errorf("could not stop crmai (PID %d): %w", pid, err)
	}

	printSuccess("Sent stop signal to crmai (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client, err := newAPIClient()
	if err != nil {
		return err
	}
	client.httpClient.Timeout = 5 * time.Second
	reportServerStatus(ctx, client, cfg)

	llm := ollama.New(cfg.Ollama.BaseURL)
	switch {
	case !llm.IsRunning(ctx):
		printStatus("Ollama", "not running at %s", cfg.Ollama.BaseURL)
	case llm.HasModel(ctx, cfg.Ollama.Model):
		printStatus("Ollama", "running, model %s available", cfg.Ollama.Model)
	default:
		printStatus("Ollama", "running, model %s missing (ollama pull %s)", cfg.Ollama.Model, cfg.Ollama.Model)
	}

	printStatus("Backend", "%s", cfg.Backend.BaseURL)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

// reportServerStatus prints server, model and upstream status as seen by a
// running server.
func reportServerStatus(ctx context.Context, client *apiClient, cfg config.Config) {
	resp, err := client.get(ctx, "/health")
	if err != nil {
		printStatus("Server", "stopped")
		return
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		return
	}
	printStatus("Server", "running on %s", cfg.Server.Addr())

	var model struct {
		Trained   bool   `json:"trained"`
		TrainedAt string `json:"trained_at"`
		Records   int    `json:"records"`
	}
	if resp, err := client.get(ctx, "/model"); err == nil && decodeJSON(resp, &model) == nil {
		if model.Trained {
			printStatus("Model", "trained on %d contracts at %s", model.Records, model.TrainedAt)
		} else {
			printStatus("Model", "untrained (run: crmai train)")
		}
	}

	var check api.BackendCheck
	if resp, err := client.get(ctx, "/test-backend"); err == nil && decodeJSON(resp, &check) == nil {
		if check.BackendStatus == api.BackendConnected {
			printStatus("Upstream", "connected (%d clients, %d contracts)", deref(check.ClientsCount), deref(check.ContractsCount))
		} else {
			printStatus("Upstream", "error: %s", check.Error)
		}
	}
}

func deref(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
