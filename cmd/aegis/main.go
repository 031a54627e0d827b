package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"aegis/internal/agent"
	"aegis/internal/api"
	"aegis/internal/audit"
	"aegis/internal/config"
	"aegis/internal/conversation"
	"aegis/internal/inspect"
	"aegis/internal/llmproxy"
	"aegis/internal/mcp"
	"aegis/internal/ml"
	"aegis/internal/policy"
	"aegis/internal/rag"
	"aegis/internal/redaction"
	"aegis/internal/semantic"
	"aegis/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "configs/aegis.yaml", "path to config file")
	agentPermPath := flag.String("agent-permissions", "", "path to agent tool permission YAML")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup structured logging
	logLevel := slog.LevelInfo
	switch cfg.LogLevel() {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	slog.Info("starting aegis",
		"version", "0.1.0",
		"listen", cfg.Listen,
		"session_store", cfg.Session.Store,
	)

	// Initialize telemetry (graceful degradation if initialization fails)
	var tp *telemetry.Provider
	if cfg.Telemetry.Enabled {
		tp, err = telemetry.NewProvider(telemetry.Config{
			Enabled:     cfg.Telemetry.Enabled,
			Exporter:    cfg.Telemetry.Exporter,
			Endpoint:    cfg.Telemetry.Endpoint,
			ServiceName: cfg.Telemetry.ServiceName,
			Insecure:    cfg.Telemetry.Insecure,
		})
		if err != nil {
			slog.Warn("telemetry initialization failed, continuing without tracing", "error", err)
			tp = nil
		} else {
			slog.Info("telemetry enabled",
				"exporter", cfg.Telemetry.Exporter,
				"endpoint", cfg.Telemetry.Endpoint,
			)
		}
	}

	// Load ML models when a model directory is configured. Missing models
	// leave the heuristic stages in charge.
	models := ml.NewRegistry()
	if cfg.ML.ModelDir != "" {
		if err := models.LoadDir(cfg.ML.ModelDir); err != nil {
			slog.Warn("ml model load failed, continuing with heuristics", "error", err)
		}
	}

	sem := semantic.NewAnalyzer()

	// Initialize the conversation session store.
	var store conversation.Store
	var redisStore *conversation.RedisStore
	switch cfg.Session.Store {
	case "redis":
		redisStore, err = conversation.NewRedisStore(cfg.Session.Redis, cfg.Session.TTL)
		if err != nil {
			slog.Error("failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		store = redisStore
		slog.Info("using Redis session store", "addr", cfg.Session.Redis.Addr)
	default:
		store = conversation.NewMemoryStore()
		slog.Info("using in-memory session store")
	}

	convo := conversation.NewAnalyzer(store, sem, conversation.Options{
		MaxHistoryTurns: cfg.Session.MaxHistoryTurns,
		SessionTTL:      cfg.Session.TTL,
		PruneInterval:   cfg.Session.PruneInterval,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go convo.RunPruner(ctx)

	detector, err := redaction.NewDetector(nil)
	if err != nil {
		slog.Error("failed to build sensitive-data detector", "error", err)
		os.Exit(1)
	}
	output := redaction.NewAnalyzer(detector, models)
	inspector := inspect.New(sem, convo, models)

	// Agent permission config is opt-in; an empty whitelist denies all tools.
	agentConfig := agent.PermissionConfig{}
	if *agentPermPath != "" {
		agentConfig, err = agent.LoadPermissions(*agentPermPath)
		if err != nil {
			slog.Error("failed to load agent permissions", "error", err, "path", *agentPermPath)
			os.Exit(1)
		}
		slog.Info("agent permissions loaded", "tools", len(agentConfig.Permissions))
	}

	catalog, err := llmproxy.ParseCatalog(cfg.LLM.Providers)
	if err != nil {
		slog.Error("failed to parse provider catalog", "error", err)
		os.Exit(1)
	}
	if cfg.LLM.DryRun {
		slog.Info("llm proxy running in dry-run mode")
	}
	orchestrator := llmproxy.NewOrchestrator(catalog, inspector, output, cfg.LLM.DryRun, nil)

	// Policy store, with file rules when a directory is configured.
	policies := policy.NewStore()
	if cfg.Policy.Dir != "" {
		n, err := policy.LoadDir(policies, cfg.Policy.Dir)
		if err != nil {
			slog.Error("failed to load policy directory", "error", err, "dir", cfg.Policy.Dir)
			os.Exit(1)
		}
		slog.Info("policy rules loaded", "dir", cfg.Policy.Dir, "rules", n)
	}
	policyEngine := policy.NewEngine(policies, sem, models)

	// Audit sink is optional; the in-memory rings stay authoritative.
	var sink *audit.Sink
	if cfg.Storage.Enabled {
		dataDir := filepath.Dir(cfg.Storage.Path)
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			slog.Error("failed to create data directory", "error", err, "path", dataDir)
			os.Exit(1)
		}
		sink, err = audit.NewSink(cfg.Storage.Path)
		if err != nil {
			slog.Error("failed to initialize audit sink", "error", err)
			os.Exit(1)
		}
		slog.Info("audit sink enabled", "path", cfg.Storage.Path, "retention_days", cfg.Storage.RetentionDays)
	}
	auditLog := audit.NewLogger(sink)
	alerts := audit.NewAlertEngine(nil)
	alerts.OnAlert(func(a audit.Alert) {
		slog.Warn("alert fired",
			"rule", a.RuleName,
			"metric", a.Metric,
			"value", a.Value,
			"threshold", a.Threshold,
			"severity", a.Severity,
		)
	})

	handler := api.New(api.Options{
		Inspector:    inspector,
		Output:       output,
		Scanner:      rag.NewScanner(),
		Provenance:   rag.NewTracker(),
		Agent:        agent.NewValidator(agentConfig),
		MCP:          mcp.NewValidator(detector),
		Orchestrator: orchestrator,
		Policies:     policies,
		PolicyEngine: policyEngine,
		PolicyDir:    cfg.Policy.Dir,
		Audit:        auditLog,
		Alerts:       alerts,
		Conversation: convo,
		Models:       models,
		Telemetry:    tp,
		CORSOrigins:  cfg.CORS.Origins,
		AuditSinkOK:  sink != nil,
	})

	server := &http.Server{
		Addr:         cfg.Listen,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // Disable for streaming
		IdleTimeout:  120 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		slog.Info("gateway server starting", "addr", cfg.Listen)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("gateway server error: %w", err)
		}
	}()

	// Nightly retention sweep over the audit sink.
	if sink != nil && cfg.Storage.RetentionDays > 0 {
		go func() {
			ticker := time.NewTicker(24 * time.Hour)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if n, err := sink.Cleanup(cfg.Storage.RetentionDays); err != nil {
						slog.Error("audit retention cleanup failed", "error", err)
					} else if n > 0 {
						slog.Info("audit retention cleanup", "removed", n)
					}
				}
			}
		}()
	}

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		slog.Error("server error", "error", err)
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig)
	}

	// Graceful shutdown
	slog.Info("shutting down server")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	if redisStore != nil {
		if err := redisStore.Close(); err != nil {
			slog.Error("Redis close error", "error", err)
		}
	}

	if sink != nil {
		if err := sink.Close(); err != nil {
			slog.Error("audit sink close error", "error", err)
		}
	}

	if err := models.Close(); err != nil {
		slog.Error("model registry close error", "error", err)
	}

	if tp != nil {
		if err := tp.Shutdown(shutdownCtx); err != nil {
			slog.Error("telemetry shutdown error", "error", err)
		}
	}

	slog.Info("aegis stopped")
}
