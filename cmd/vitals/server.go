package main

import (
	"context"
	"errors"
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

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/vitals/internal/analyzer"
	"github.com/kalambet/vitals/internal/api"
	"github.com/kalambet/vitals/internal/config"
	"github.com/kalambet/vitals/internal/editor"
	"github.com/kalambet/vitals/internal/engine"
	"github.com/kalambet/vitals/internal/hearing"
	"github.com/kalambet/vitals/internal/profile"
	"github.com/kalambet/vitals/internal/questions"
	"github.com/kalambet/vitals/internal/session"
	"github.com/kalambet/vitals/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the vitals server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running vitals server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show vitals system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the vitals MCP tools over stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCP()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "vitals.pid")
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

// app holds the wired conversation pipeline.
type app struct {
	store    *storage.Store
	engine   engine.Engine
	sessions *session.Service
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
	}
}

// buildApp checks the completion backend and wires storage, the three
// model stages and the session service.
func buildApp(ctx context.Context, cfg config.Config) (*app, error) {
	eng, err := engine.Detect(engine.DetectConfig{
		Backend:       cfg.LLM.Backend,
		OllamaBaseURL: cfg.Ollama.BaseURL,
		OllamaModel:   cfg.Ollama.Model,
		OpenAIKey:     cfg.OpenAI.APIKey,
		OpenAIBaseURL: cfg.OpenAI.BaseURL,
		OpenAIModel:   cfg.OpenAI.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("detecting completion backend: %w", err)
	}
	if err := engine.EnsureReady(ctx, eng, os.Stderr); err != nil {
		return nil, err
	}

	cat, err := questions.Default()
	if err != nil {
		return nil, fmt.Errorf("loading question catalog: %w", err)
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	timeout := cfg.LLM.TimeoutDuration()
	svc := session.NewService(session.Deps{
		Store:    store,
		Sections: profile.NewManager(store),
		Catalog:  cat,
		Analyzer: analyzer.New(eng, cat, analyzer.Config{MinProfileChars: cfg.Analyzer.MinProfileChars, Timeout: timeout}),
		Hearing:  hearing.New(eng, timeout),
		Editor:   editor.New(eng, editor.Config{ExtractionFloor: cfg.Session.ExtractionFloor, Timeout: timeout}),
	}, session.Config{
		Thresholds: session.Thresholds{
			Auto:   cfg.Session.AutoThreshold,
			Delete: cfg.Session.DeleteThreshold,
		},
		RecordSkipped: cfg.Session.RecordSkipped,
		HistoryLimit:  cfg.Session.HistoryLimit,
	})

	slog.Info("conversation pipeline ready", "backend", eng.Name(), "model", eng.Model(), "questions", cat.Len())
	return &app{store: store, engine: eng, sessions: svc}, nil
}

func runServer() error {
	printVersion()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)

	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("vitals is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("vitals is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.Server.APIToken == "" {
		slog.Info("API token not set, bearer authentication disabled")
	}
	handler := api.NewHandler(api.Deps{
		Sessions:    a.sessions,
		Token:       cfg.Server.APIToken,
		DefaultUser: cfg.User.ID,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "vitals listening on %s\n", addr)
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

// runMCP serves the MCP tools in-process over stdin/stdout. Logs go to
// stderr so the protocol stream stays clean.
func runMCP() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	mcpSrv := api.NewMCPServer(api.MCPDeps{Sessions: a.sessions, UserID: cfg.User.ID})
	stdioSrv := server.NewStdioServer(mcpSrv)
	slog.Info("MCP server started (stdio transport)")
	if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("MCP stdio server: %w", err)
	}
	return nil
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
		printError("vitals is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop vitals (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to vitals (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client, err := newAPIClient()
	if err != nil {
		return err
	}
	client.httpClient.Timeout = 2 * time.Second
	ctx := context.Background()

	running := false
	resp, err := client.get(ctx, "/health")
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

	eng, err := engine.Detect(engine.DetectConfig{
		Backend:       cfg.LLM.Backend,
		OllamaBaseURL: cfg.Ollama.BaseURL,
		OllamaModel:   cfg.Ollama.Model,
		OpenAIKey:     cfg.OpenAI.APIKey,
		OpenAIBaseURL: cfg.OpenAI.BaseURL,
		OpenAIModel:   cfg.OpenAI.Model,
	})
	if err != nil {
		printStatus("Backend", "%v", err)
	} else {
		state := "not available"
		if eng.IsRunning(ctx) {
			state = "available"
		}
		printStatus("Backend", "%s (%s)", eng.Name(), state)
		printStatus("Model", "%s", eng.Model())
	}

	if running {
		var q struct {
			Progress session.Progress `json:"progress"`
		}
		if resp, err := client.get(ctx, "/questions"); err == nil && decodeJSON(resp, &q) == nil {
			printStatus("Profile", "%d/%d questions answered (%d%%)", q.Progress.Answered, q.Progress.Total, q.Progress.Percent)
		}
	}

	printStatus("User", "%s", cfg.User.ID)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
