package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/energychat/internal/api"
	"github.com/user/energychat/internal/config"
	ctxengine "github.com/user/energychat/internal/context"
	"github.com/user/energychat/internal/dataset"
	"github.com/user/energychat/internal/gateway"
	"github.com/user/energychat/internal/runtime"
	"github.com/user/energychat/internal/runtime/tools"
	"github.com/user/energychat/pkg/llm"
	"github.com/user/energychat/pkg/llm/openai"
)

const shutdownTimeout = 10 * time.Second

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the chat server",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func pidPath(dataDir string) string {
	return filepath.Join(dataDir, "energychat.pid")
}

func writePIDFile(dataDir string) (string, error) {
	path := pidPath(dataDir)
	pid := os.Getpid()
	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return path, nil
}

// buildRuntime wires the LLM provider, the context engine and the tools
// into a Runtime.
func buildRuntime(cfg *config.Config, store *dataset.Store) (*runtime.Runtime, error) {
	provider := openai.New(&llm.Config{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
	})

	engine, err := ctxengine.New(cfg.LLM.Model, cfg.LLM.MaxContextTokens, cfg.LLM.OutputReserve)
	if err != nil {
		return nil, fmt.Errorf("create context engine: %w", err)
	}
	engine.SetDataDir(cfg.DataDir)

	toolTimeout := time.Duration(cfg.Chat.ToolTimeoutSeconds) * time.Second
	registry := runtime.NewRegistry()
	registry.SetDefaultTimeout(toolTimeout)
	if err := registry.Register(tools.NewExecuteCode(cfg.Chat.Python, cfg.DataDir, toolTimeout)); err != nil {
		return nil, fmt.Errorf("register execute_code: %w", err)
	}
	if err := registry.Register(tools.NewRunPrediction(store)); err != nil {
		return nil, fmt.Errorf("register run_prediction: %w", err)
	}

	return runtime.New(provider, engine, registry, cfg.Chat.MaxSteps,
		time.Duration(cfg.LLM.TimeoutSeconds)*time.Second), nil
}

func openDataset(cfg *config.Config) (*dataset.Store, error) {
	store, err := dataset.Open(cfg.DatasetPath())
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(); err != nil {
		store.Close()
		return nil, fmt.Errorf("migrate dataset: %w", err)
	}
	return store, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	if cfg.LLM.APIKey == "" {
		slog.Warn("no LLM API key configured; set OPENAI_API_KEY or llm.api_key")
	}

	pidFile, err := writePIDFile(cfg.DataDir)
	if err != nil {
		return err
	}
	defer os.Remove(pidFile)

	store, err := openDataset(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	rt, err := buildRuntime(cfg, store)
	if err != nil {
		return err
	}

	gate := gateway.New(int64(cfg.MaxConcurrent))
	srv := api.NewServer(rt, gate, store, cfg.HTTP.CORSOrigins)
	errCh := make(chan error, 1)
	httpServer := listen(cfg.HTTP.Addr, srv, errCh)

	slog.Info("energychat started",
		"addr", cfg.HTTP.Addr,
		"data_dir", cfg.DataDir,
		"dataset", cfg.DatasetPath(),
		"log_level", cfg.LogLevel,
		"max_concurrent", cfg.MaxConcurrent,
		"max_steps", cfg.Chat.MaxSteps,
		"llm_model", cfg.LLM.Model,
		"pid_file", pidFile,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		select {
		case err := <-errCh:
			return fmt.Errorf("http server: %w", err)
		case sig := <-sigChan:
			if sig == syscall.SIGHUP {
				slog.Info("received SIGHUP, restarting")
				httpServer = restart(httpServer, cfg.DataDir, pidFile, errCh)
				continue
			}
			slog.Info("shutting down", "signal", sig)
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := httpServer.Shutdown(ctx); err != nil {
				slog.Warn("graceful shutdown incomplete", "error", err)
			}
			return nil
		}
	}
}

// listen starts a fresh http.Server on addr. Failures other than a
// shutdown are reported on errCh.
func listen(addr string, handler http.Handler, errCh chan<- error) *http.Server {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case errCh <- err:
			default:
			}
		}
	}()
	return httpServer
}

// execProcess replaces the running process image.
var execProcess = syscall.Exec

// restart re-executes the binary. It only returns if that failed, after
// bringing the server back up on the same address, since reexec has
// already drained old and a closed http.Server cannot be restarted.
func restart(old *http.Server, dataDir, pidFile string, errCh chan<- error) *http.Server {
	err := reexec(old, pidFile)
	slog.Error("failed to re-exec, serving again", "error", err)
	if _, writeErr := writePIDFile(dataDir); writeErr != nil {
		slog.Error("failed to re-write PID file", "error", writeErr)
	}
	return listen(old.Addr, old.Handler, errCh)
}

// reexec drains the server and replaces the process with a fresh copy of
// the binary. It only returns on failure.
func reexec(httpServer *http.Server, pidFile string) error {
	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("get executable path: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Warn("graceful shutdown incomplete", "error", err)
	}
	os.Remove(pidFile)
	return execProcess(execPath, os.Args, os.Environ())
}
