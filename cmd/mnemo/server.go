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
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/mnemo/internal/api"
	"github.com/kalambet/mnemo/internal/config"
	"github.com/kalambet/mnemo/internal/graph"
	"github.com/kalambet/mnemo/internal/ingest"
	"github.com/kalambet/mnemo/internal/janitor"
	"github.com/kalambet/mnemo/internal/memory"
	"github.com/kalambet/mnemo/internal/profile"
	"github.com/kalambet/mnemo/internal/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the mnemo server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running mnemo server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show mnemo system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "mnemo.pid")
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
	fmt.Fprintf(os.Stderr, "mnemo version %s\n", version)

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

	apiToken, err := config.GetAPIToken(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}
	slog.Info("API bearer token available")

	// Write PID file. Check if server is already running via health endpoint.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("mnemo is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("mnemo is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	// Build the memory services.
	profileMgr := profile.NewManager(store)
	consolidator := memory.NewConsolidator(store)
	retriever := memory.NewRetriever(store)
	forgetter := memory.NewForgetter(store, memory.Limits{
		MaxEntries:           cfg.Memory.MaxEntries,
		EpisodeRetentionDays: cfg.Memory.EpisodeRetentionDays,
		FactUnusedDays:       cfg.Memory.FactUnusedDays,
		ProfileRetentionDays: cfg.Memory.ProfileRetentionDays,
	})
	graphSvc := graph.New(store, cfg.Memory.AssociationThreshold)
	resolver := ingest.NewResolver(&http.Client{Timeout: 15 * time.Second})

	handler := api.NewHandler(api.Deps{
		Store:        store,
		Profiles:     profileMgr,
		Consolidator: consolidator,
		Retriever:    retriever,
		Forgetter:    forgetter,
		Graph:        graphSvc,
		Resolver:     resolver,
		Token:        apiToken,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	pollInterval, err := cfg.Janitor.PollIntervalDuration()
	if err != nil {
		return err
	}
	cleanupInterval, err := cfg.Janitor.CleanupIntervalDuration()
	if err != nil {
		return err
	}
	worker := janitor.NewWorker(store, consolidator, store, graphSvc, forgetter, pollInterval)
	scheduler := janitor.NewScheduler(store, cleanupInterval)

	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Store:        store,
		Profiles:     profileMgr,
		Consolidator: consolidator,
		Retriever:    retriever,
		Forgetter:    forgetter,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		worker.Run(gctx)
		return nil
	})
	g.Go(func() error {
		scheduler.Run(gctx)
		return nil
	})
	g.Go(func() error {
		if err := stdioSrv.Listen(gctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
		return nil
	})
	g.Go(func() error {
		fmt.Fprintf(os.Stderr, "mnemo listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	slog.Info("MCP server started (stdio transport)")

	return g.Wait()
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
		printError("mnemo is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop mnemo (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to mnemo (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	running := false
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	// Show memory stats if the server is up.
	if running {
		if c, err := newAPIClient(); err == nil {
			if statsResp, err := c.get(ctx, "/stats"); err == nil {
				var stats struct {
					TotalEpisodes      int     `json:"total_episodes"`
					TotalFacts         int     `json:"total_facts"`
					TotalProfiles      int     `json:"total_profiles"`
					MemoryUsagePercent float64 `json:"memory_usage_percent"`
				}
				if decodeJSON(statsResp, &stats) == nil {
					printStatus("Episodes", "%d", stats.TotalEpisodes)
					printStatus("Facts", "%d", stats.TotalFacts)
					printStatus("Profiles", "%d", stats.TotalProfiles)
					printStatus("Memory usage", "%.1f%%", stats.MemoryUsagePercent)
				}
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
