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

	"github.com/kalambet/recall/internal/analysis"
	"github.com/kalambet/recall/internal/api"
	"github.com/kalambet/recall/internal/config"
	"github.com/kalambet/recall/internal/finetune"
	"github.com/kalambet/recall/internal/ingest"
	"github.com/kalambet/recall/internal/llm"
	"github.com/kalambet/recall/internal/question"
	"github.com/kalambet/recall/internal/resolve"
	"github.com/kalambet/recall/internal/tuning"
	"github.com/kalambet/recall/internal/vector"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the recall server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running recall server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recall system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "recall.pid")
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

// contentMux routes origin content lookups to the store owning the kind.
// Only documents carry answer material today.
type contentMux struct {
	documents *ingest.Store
}

func (m *contentMux) Content(ctx context.Context, target question.OriginRef) (string, error) {
	if target.Kind == question.OriginDocument {
		return m.documents.Content(ctx, target.UUID)
	}
	return "", fmt.Errorf("origin kind %q has no answer material", target.Kind)
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "recall version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Initialize structured logging.
	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	if cfg.Server.Token == "" {
		return fmt.Errorf("missing required config: API bearer token. Set it via environment variable RECALL_SERVER_TOKEN or 'recall config set-secret server.token'")
	}

	// Write PID file. Check if server is already running via health endpoint.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("recall is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("recall is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open the vector engine and index.
	engine, err := vector.OpenSQLite(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening vector storage: %w", err)
	}
	defer func() {
		if err := engine.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing vector storage: %v\n", err)
		}
	}()
	index := vector.NewIndex(engine, "questions", cfg.OpenAI.EmbedDims)

	// Open stores and register origin notifiers.
	documents, err := ingest.OpenStore(filepath.Join(cfg.Storage.DataDir, "documents"))
	if err != nil {
		return fmt.Errorf("opening document store: %w", err)
	}
	defer documents.Close()

	origins := question.NewOrigins()
	origins.Register(question.OriginDocument, documents)
	originsDir := filepath.Join(cfg.Storage.DataDir, "origins")
	for _, kind := range []question.OriginKind{question.OriginMessage, question.OriginConversation, question.OriginTuningBatch} {
		n, err := question.NewFileNotifier(originsDir, kind)
		if err != nil {
			return fmt.Errorf("opening %s origin ledger: %w", kind, err)
		}
		origins.Register(kind, n)
	}

	questions, err := question.Open(filepath.Join(cfg.Storage.DataDir, "questions"), index, origins)
	if err != nil {
		return fmt.Errorf("opening question store: %w", err)
	}
	defer questions.Close()

	// Provider clients.
	llmClient := llm.NewClientWithBaseURL(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL)
	ftClient := finetune.NewClientWithBaseURL(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL)

	queue, err := tuning.Open(filepath.Join(cfg.Storage.DataDir, "tuning"), questions, ftClient, tuning.Config{
		BatchSize:    cfg.Tuning.BatchSize,
		BaseModel:    cfg.Tuning.BaseModel,
		Epochs:       cfg.Tuning.Epochs,
		Suffix:       cfg.Tuning.Suffix,
		SystemPrompt: cfg.Tuning.SystemPrompt,
	})
	if err != nil {
		return fmt.Errorf("opening tuning queue: %w", err)
	}
	defer queue.Close()

	resolver, err := resolve.New(index, questions, resolve.Config{
		Policy:      cfg.Retrieval.Policy,
		TopK:        cfg.Retrieval.TopK,
		MaxDistance: cfg.Retrieval.MaxDistance,
	})
	if err != nil {
		return fmt.Errorf("building resolver: %w", err)
	}

	analyzer := analysis.New(llmClient, llmClient, questions, queue, resolver, &contentMux{documents: documents}, analysis.Config{
		ChatModel:  cfg.OpenAI.ChatModel,
		EmbedModel: cfg.OpenAI.EmbedModel,
	})

	deps := api.Deps{
		Questions: questions,
		Documents: documents,
		Queue:     queue,
		Analyzer:  analyzer,
		Token:     cfg.Server.Token,
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: api.NewHandler(deps),
	}

	// Start the batch status poller.
	poller := tuning.NewPoller(queue, 30*time.Second)
	go poller.Run(ctx)

	// Build and start MCP server (stdio transport in a goroutine).
	mcpSrv := api.NewMCPServer(deps)
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	// Start server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "recall listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with timeout.
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
		printError("recall is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop recall (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to recall (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	// Check server health.
	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Chat model", "%s", cfg.OpenAI.ChatModel)
	printStatus("Embed model", "%s (%d dims)", cfg.OpenAI.EmbedModel, cfg.OpenAI.EmbedDims)
	printStatus("Tuning base", "%s", cfg.Tuning.BaseModel)

	// Show question/batch counts if server is running.
	if resp != nil && resp.StatusCode == 200 && cfg.Server.Token != "" {
		apiClient := &apiClient{
			baseURL:    serverURL,
			token:      cfg.Server.Token,
			httpClient: client,
		}
		if qResp, err := apiClient.get(context.Background(), "/questions?limit=100"); err == nil {
			var questions []struct {
				UUID string `json:"uuid"`
			}
			if decodeJSON(qResp, &questions) == nil {
				printStatus("Questions", "%s", countLabel(len(questions), 100))
			}
		}
		if tResp, err := apiClient.get(context.Background(), "/tuning"); err == nil {
			var batches []struct {
				UUID string `json:"uuid"`
			}
			if decodeJSON(tResp, &batches) == nil {
				printStatus("Tuning batches", "%d", len(batches))
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func countLabel(count, limit int) string {
	if count >= limit {
		return fmt.Sprintf("%d+", count)
	}
	return fmt.Sprintf("%d", count)
}
