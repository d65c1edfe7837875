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
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/sortd/internal/analyze"
	"github.com/kalambet/sortd/internal/api"
	"github.com/kalambet/sortd/internal/config"
	"github.com/kalambet/sortd/internal/extract"
	"github.com/kalambet/sortd/internal/heuristics"
	"github.com/kalambet/sortd/internal/match"
	"github.com/kalambet/sortd/internal/ollama"
	"github.com/kalambet/sortd/internal/pipeline"
	"github.com/kalambet/sortd/internal/storage"
	"github.com/kalambet/sortd/internal/vector"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the sortd server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running sortd server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sortd system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "sortd.pid")
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
	fmt.Fprintf(os.Stderr, "sortd version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// Refuse to double-start: probe the health endpoint first.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/healthz", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Check backend readiness, pulling missing models.
	backend := ollama.New(cfg.Ollama.BaseURL)
	if err := ollama.EnsureReady(ctx, backend, cfg.Ollama.TextModel, cfg.Ollama.EmbedModel, os.Stderr); err != nil {
		return err
	}

	// Open storage.
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	// Vector index: spawn-or-attach, health-checked in the background.
	vecSvc := vector.NewService(vector.ServiceConfig{
		Host:     cfg.Index.Host,
		Port:     cfg.Index.Port,
		Binary:   cfg.Index.Binary,
		DataDir:  filepath.Join(cfg.Storage.DataDir, "index"),
		Tenant:   cfg.Index.Tenant,
		Database: cfg.Index.DB,
	})
	go vecSvc.Run(ctx)
	defer vecSvc.Shutdown()

	queue := vector.NewWritebackQueue(vecSvc, 32, 2*time.Second, slog.Default())
	go queue.Run(ctx)

	matcher := match.New(match.Config{Model: cfg.Ollama.EmbedModel}, backend, vecSvc)

	extractor := extract.New(extract.Config{
		MaxFileSize: cfg.Extract.MaxFileSize,
		MaxPDFSize:  cfg.Extract.MaxPDFSize,
		MaxOCRSize:  cfg.Extract.MaxOCRSize,
		OCRBinary:   cfg.Extract.OCRBinary,
	})
	analyzer := analyze.New(analyze.Config{
		Model:     cfg.Ollama.TextModel,
		TextLimit: cfg.Analyze.TextLimit,
	}, backend)

	pipe := pipeline.New(pipeline.Config{
		Model:             cfg.Ollama.TextModel,
		OverrideThreshold: cfg.Analyze.OverrideThreshold,
	}, pipeline.Deps{
		Extractor:  extractor,
		Analyzer:   analyzer,
		Matcher:    matcher,
		Backend:    backend,
		Heuristics: heuristics.New(heuristics.Config{MinScore: cfg.Analyze.MinHeuristicScore}),
		Queue:      queue,
		History:    store,
	})

	statusFn := func(ctx context.Context) map[string]string {
		s := map[string]string{
			"index":           vecSvc.State(),
			"analysis_cache":  strconv.Itoa(pipe.CacheLen()),
			"embedding_cache": strconv.Itoa(matcher.EmbedCacheLen()),
		}
		if backend.IsRunning(ctx) {
			s["backend"] = "running"
		} else {
			s["backend"] = "unreachable"
		}
		if extractor.OCRAvailable() {
			s["ocr"] = "available"
		} else {
			s["ocr"] = "unavailable"
		}
		return s
	}

	handler := api.NewAppHandler(api.AppDeps{
		Pipeline: pipe,
		Matcher:  matcher,
		Store:    store,
		Status:   statusFn,
		Token:    os.Getenv("SORTD_API_TOKEN"),
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// MCP server on stdio, for agent hosts launching sortd directly.
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Pipeline: pipe,
		Matcher:  matcher,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "sortd listening on %s\n", addr)
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

	// Drain pending write-backs before the index goes away.
	flushCtx, cancelFlush := context.WithTimeout(context.Background(), 5*time.Second)
	if err := queue.Flush(flushCtx); err != nil {
		slog.Warn("final write-back flush failed", "error", err)
	}
	cancelFlush()

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
		printError("sortd is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop sortd (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to sortd (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client := &http.Client{Timeout: 2 * time.Second}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	resp, err := client.Get(serverURL + "/healthz")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	ollamaResp, err := client.Get(cfg.Ollama.BaseURL + "/api/version")
	if err != nil {
		printStatus("Ollama", "not running")
	} else {
		ollamaResp.Body.Close()
		printStatus("Ollama", "running at %s", cfg.Ollama.BaseURL)
	}

	indexURL := fmt.Sprintf("http://%s:%d/api/v2/heartbeat", cfg.Index.Host, cfg.Index.Port)
	indexResp, err := client.Get(indexURL)
	if err != nil {
		printStatus("Index", "not running")
	} else {
		indexResp.Body.Close()
		printStatus("Index", "running on port %d", cfg.Index.Port)
	}

	printStatus("Text model", "%s", cfg.Ollama.TextModel)
	printStatus("Embed model", "%s", cfg.Ollama.EmbedModel)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, kv := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s\n", colorize(colorBold, kv.Key), kv.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
