package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/xiongQvQ/ZenGrowth/internal/breaker"
	"github.com/xiongQvQ/ZenGrowth/internal/faults"
	"github.com/xiongQvQ/ZenGrowth/internal/journal"
	"github.com/xiongQvQ/ZenGrowth/internal/logging"
	"github.com/xiongQvQ/ZenGrowth/internal/orchestrator"
	"github.com/xiongQvQ/ZenGrowth/internal/providers"
	"github.com/xiongQvQ/ZenGrowth/internal/router"
	"github.com/xiongQvQ/ZenGrowth/internal/scheduler"
	"github.com/xiongQvQ/ZenGrowth/pkg/mcp"
	"github.com/xiongQvQ/ZenGrowth/pkg/schema"
)

func main() {
	os.Exit(run0())
}

func run0() int {
	if len(os.Args) > 1 && os.Args[1] == "version" {
		printVersion()
		return 0
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg := loadConfig()

	// Stdout carries the MCP protocol, so all logging goes to stderr.
	logger := slog.New(logging.NewCorrelationHandler(
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: parseLogLevel(cfg.LogLevel),
		})))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("fatal error", "error", err.Error())
		return 1
	}
	return 0
}

func run(ctx context.Context, cfg Config, logger *slog.Logger) error {
	logger.Info("zengrowth starting",
		"version", version, "default_provider", cfg.DefaultProvider)

	// Run archive. An empty db_path keeps history in memory only.
	var (
		archive *journal.LibSQL
		jrnl    journal.Journal = journal.Nop{}
	)
	if cfg.DBPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
		arch, err := journal.NewLibSQL("file:" + cfg.DBPath)
		if err != nil {
			return fmt.Errorf("open archive: %w", err)
		}
		defer func() { _ = arch.Close() }()
		if err := arch.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate archive: %w", err)
		}
		archive = arch
		jrnl = arch
		logger.Info("run archive enabled", "path", cfg.DBPath)
	}

	retry := faults.DefaultPolicy()
	if cfg.MaxRetries > 0 {
		retry.MaxAttempts = cfg.MaxRetries
	}
	if d := durationOr(cfg.RetryBaseDelay, 0); d > 0 {
		retry.BaseDelay = d
	}
	if d := durationOr(cfg.RetryMaxDelay, 0); d > 0 {
		retry.MaxDelay = d
	}

	brk := breaker.DefaultConfig()
	if cfg.BreakerThreshold > 0 {
		brk.FailureThreshold = cfg.BreakerThreshold
	}
	if d := durationOr(cfg.BreakerCooldown, 0); d > 0 {
		brk.Cooldown = d
	}

	rt := router.New(router.Config{
		FallbackOrder:  cfg.FallbackOrder,
		MaxRetries:     cfg.MaxRetries,
		HistorySize:    cfg.HistorySize,
		HealthInterval: durationOr(cfg.HealthInterval, 0),
		Retry:          retry,
		Breaker:        brk,
	}, logger, jrnl)
	defer rt.Close()

	if err := registerProviders(ctx, cfg, rt, logger); err != nil {
		return err
	}
	rt.Start()

	orch, err := orchestrator.New(orchestrator.Config{
		PoolSize:    cfg.PoolSize,
		HistorySize: cfg.HistorySize,
		Retry:       retry,
		Params:      cfg.Params,
	}, logger, jrnl)
	if err != nil {
		return fmt.Errorf("build orchestrator: %w", err)
	}
	defer orch.Close()

	set, err := analyticsHandlers(rt)
	if err != nil {
		return fmt.Errorf("build handlers: %w", err)
	}
	if cfg.WorkflowPath != "" {
		data, err := os.ReadFile(cfg.WorkflowPath)
		if err != nil {
			return fmt.Errorf("read workflow: %w", err)
		}
		if err := orch.ImportConfiguration(data, set); err != nil {
			return fmt.Errorf("import workflow %s: %w", cfg.WorkflowPath, err)
		}
		logger.Info("workflow imported",
			"path", cfg.WorkflowPath, "tasks", len(orch.TaskIDs()))
	} else {
		if err := registerAnalyticsWorkflow(orch, set); err != nil {
			return fmt.Errorf("register workflow: %w", err)
		}
		logger.Info("analytics workflow registered", "tasks", len(orch.TaskIDs()))
	}

	var sched *scheduler.Scheduler
	if len(cfg.Schedules) > 0 {
		sched = scheduler.New(scheduler.Config{}, orch, logger)
		for _, s := range cfg.Schedules {
			if err := sched.Add(s); err != nil {
				return fmt.Errorf("schedule %s: %w", s.ID, err)
			}
		}
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		defer func() { _ = sched.Stop() }()
	}

	srv := mcp.NewZenGrowthServer(mcp.ZenGrowthServerDeps{
		Orchestrator: orch,
		Router:       rt,
		Scheduler:    sched,
		Archive:      archive,
		Logger:       logger,
	})

	logger.Info("mcp server listening on stdio")
	if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("mcp server: %w", err)
	}
	logger.Info("zengrowth stopped")
	return nil
}

// registerProviders builds a client per enabled vendor and registers it
// with the router in fallback-priority order. Vendors whose client cannot
// be built (usually a missing API key) are skipped, so one configured
// vendor is enough to start. With fallback disabled only the default
// provider is registered and the chain has length one.
func registerProviders(ctx context.Context, cfg Config, rt *router.Router, logger *slog.Logger) error {
	enabled := cfg.EnabledProviders
	if !cfg.EnableFallback {
		enabled = []string{cfg.DefaultProvider}
	}

	registered := 0
	for i, name := range enabled {
		pc, client, err := buildProvider(ctx, cfg, name, i+1)
		if err != nil {
			logger.Warn("provider skipped", "provider", name, "error", err.Error())
			continue
		}
		if err := rt.RegisterProvider(pc, client); err != nil {
			return fmt.Errorf("register provider %s: %w", name, err)
		}
		registered++
	}
	if registered == 0 {
		return errors.New("no usable providers; set GOOGLE_API_KEY or ARK_API_KEY")
	}
	return nil
}

func buildProvider(ctx context.Context, cfg Config, name string, priority int) (schema.ProviderConfig, router.Client, error) {
	switch name {
	case "google":
		ps := cfg.Google
		gcfg := providers.GeminiConfig{
			APIKey:    ps.APIKey,
			Model:     ps.Model,
			MaxTokens: ps.MaxTokens,
		}
		if ps.Temperature > 0 {
			t := ps.Temperature
			gcfg.Temperature = &t
		}
		client, err := providers.NewGemini(ctx, gcfg)
		if err != nil {
			return schema.ProviderConfig{}, nil, err
		}
		return providerConfig(name, priority, ps), client, nil
	case "volcano":
		ps := cfg.Volcano
		acfg := providers.ArkConfig{
			APIKey:     ps.APIKey,
			BaseURL:    ps.BaseURL,
			Model:      ps.Model,
			MaxTokens:  ps.MaxTokens,
			Multimodal: ps.Multimodal,
		}
		if ps.Temperature > 0 {
			t := ps.Temperature
			acfg.Temperature = &t
		}
		client, err := providers.NewArk(ctx, acfg)
		if err != nil {
			return schema.ProviderConfig{}, nil, err
		}
		return providerConfig(name, priority, ps), client, nil
	default:
		return schema.ProviderConfig{}, nil, fmt.Errorf("unknown provider %q", name)
	}
}

func providerConfig(name string, priority int, ps ProviderSettings) schema.ProviderConfig {
	return schema.ProviderConfig{
		Name:        name,
		Priority:    priority,
		Enabled:     true,
		Model:       ps.Model,
		Multimodal:  ps.Multimodal,
		Temperature: ps.Temperature,
		MaxTokens:   ps.MaxTokens,
		APIKey:      ps.APIKey,
	}
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
