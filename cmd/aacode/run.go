package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/haasonsaas/aacode/internal/agent"
	"github.com/haasonsaas/aacode/internal/compact"
	"github.com/haasonsaas/aacode/internal/config"
	"github.com/haasonsaas/aacode/internal/contextstore"
	"github.com/haasonsaas/aacode/internal/eventlog"
	"github.com/haasonsaas/aacode/internal/observability"
	"github.com/haasonsaas/aacode/internal/providers"
	"github.com/haasonsaas/aacode/internal/safety"
	"github.com/haasonsaas/aacode/internal/sessions"
	"github.com/haasonsaas/aacode/internal/todo"
	"github.com/haasonsaas/aacode/internal/tokens"
	"github.com/haasonsaas/aacode/internal/tools"
	"github.com/haasonsaas/aacode/internal/workspace"
)

// buildRunCmd creates the "run" command: one task, worked to termination.
func buildRunCmd() *cobra.Command {
	var (
		workdir       string
		configPath    string
		provider      string
		model         string
		maxIterations int
		metricsAddr   string
	)
	cmd := &cobra.Command{
		Use:   "run <task>",
		Short: "Run a coding task to completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(workdir, configPath)
			if err != nil {
				return err
			}
			if provider != "" {
				cfg.Provider = provider
			}
			if model != "" {
				cfg.Model = model
			}
			if maxIterations > 0 {
				cfg.MaxReactIterations = maxIterations
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return runTask(cmd.Context(), cfg, workdir, metricsAddr, args[0])
		},
	}
	cmd.Flags().StringVarP(&workdir, "workdir", "w", ".", "Project directory the agent works in")
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Config file path (default: <workdir>/.aacode/config.yaml if present)")
	cmd.Flags().StringVar(&provider, "provider", "", "Model provider (openai or anthropic)")
	cmd.Flags().StringVar(&model, "model", "", "Model identifier")
	cmd.Flags().IntVar(&maxIterations, "max-iterations", 0, "Override the iteration budget")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	return cmd
}

// loadConfig loads <workdir>/.env, then the config file. A missing config
// file yields defaults.
func loadConfig(workdir, path string) (*config.Config, error) {
	if err := godotenv.Load(filepath.Join(workdir, ".env")); err != nil && !os.IsNotExist(err) {
		slog.Warn("could not load .env", "error", err)
	}
	if path == "" {
		path = filepath.Join(workdir, ".aacode", "config.yaml")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

// runTask wires the runtime and drives the task under signal cancellation.
func runTask(ctx context.Context, cfg *config.Config, workdir, metricsAddr, task string) error {
	ws, err := workspace.New(workdir)
	if err != nil {
		return fmt.Errorf("resolve workdir: %w", err)
	}
	if err := ws.EnsureDirs(); err != nil {
		return fmt.Errorf("prepare workspace: %w", err)
	}

	logger := slog.Default()
	counter := tokens.NewCounter()

	store, err := contextstore.New(ws, logger)
	if err != nil {
		return fmt.Errorf("open context store: %w", err)
	}
	store.MaxContextFiles = cfg.MaxContextFiles

	sess := sessions.New(ws, counter, logger)
	sess.MaxTokens = cfg.MaxTokensPerSession

	registry := tools.NewRegistry()
	guard := safety.New(ws)
	if err := tools.RegisterBuiltins(registry, ws, guard, store, cfg); err != nil {
		return fmt.Errorf("register tools: %w", err)
	}

	caller, err := providers.FromConfig(cfg.Provider, cfg.Model)
	if err != nil {
		return err
	}

	compactor := compact.New(store, counter, caller, logger)
	compactor.TriggerTokens = cfg.CompactTriggerTokens
	compactor.KeepRounds = cfg.CompactKeepRounds
	compactor.SummarySteps = cfg.CompactSummarySteps
	compactor.ProtectFirstRounds = cfg.CompactProtectFirstRounds
	compactor.SummaryTimeout = cfg.ModelSummaryTimeout.Std()

	todos, err := todo.Create(ws.TodosDir(), filepath.Base(ws.Root))
	if err != nil {
		return fmt.Errorf("create todo list: %w", err)
	}
	store.TodoPath = todos.Path()

	evlog, err := eventlog.New(ws.LogsDir(), task)
	if err != nil {
		logger.Warn("event log unavailable", "error", err)
	}

	driver := agent.New(cfg, caller, registry, store, sess, logger)
	driver.Compactor = compactor
	driver.Todos = todos
	driver.EventLog = evlog
	driver.ModelName = cfg.Model
	driver.Display = func(s string) { fmt.Println(s) }

	if metricsAddr != "" {
		metrics := observability.New()
		driver.Metrics = metrics
		go serveMetrics(metricsAddr, metrics, logger)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := driver.Run(ctx, task)
	if err != nil {
		return err
	}

	fmt.Printf("状态: %s（%d 次迭代，耗时 %s）\n", result.Status, result.Iterations, result.Duration.Round(time.Millisecond))
	if evlog != nil {
		fmt.Printf("事件日志: %s\n", evlog.Path())
	}
	if summary, err := todos.Summary(); err == nil {
		fmt.Println(summary)
	}
	return nil
}

func serveMetrics(addr string, metrics *observability.Metrics, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Warn("metrics server stopped", "error", err)
	}
}
