// Command finch is the main entry point for the Finch financial assistant
// server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/finch-ai/finch/internal/brokerage"
	pgstore "github.com/finch-ai/finch/internal/brokerage/postgres"
	"github.com/finch-ai/finch/internal/cache"
	"github.com/finch-ai/finch/internal/composer"
	"github.com/finch-ai/finch/internal/config"
	"github.com/finch-ai/finch/internal/engine"
	"github.com/finch-ai/finch/internal/httpapi"
	"github.com/finch-ai/finch/internal/memory"
	"github.com/finch-ai/finch/internal/observe"
	"github.com/finch-ai/finch/internal/orchestrator"
	"github.com/finch-ai/finch/internal/planner"
	"github.com/finch-ai/finch/internal/resilience"
	"github.com/finch-ai/finch/internal/tools"
	"github.com/finch-ai/finch/pkg/provider/broker"
	"github.com/finch-ai/finch/pkg/provider/broker/kitemcp"
	"github.com/finch-ai/finch/pkg/provider/llm"
	"github.com/finch-ai/finch/pkg/provider/llm/anyllm"
	"github.com/finch-ai/finch/pkg/provider/llm/openai"
	"github.com/finch-ai/finch/pkg/provider/marketdata"
	"github.com/finch-ai/finch/pkg/provider/marketdata/httpmd"
	"github.com/finch-ai/finch/pkg/provider/research"
	"github.com/finch-ai/finch/pkg/provider/research/httpresearch"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "finch: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "finch: %v\n", err)
		}
		return 1
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("finch starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// DefaultMetrics builds on the global meter provider installed above.
	metrics := observe.DefaultMetrics()

	llmProvider, err := buildLLM(cfg.Providers.LLM)
	if err != nil {
		slog.Error("failed to build llm provider", "err", err)
		return 1
	}
	slog.Info("provider created", "kind", "llm", "name", cfg.Providers.LLM.Name)

	marketProvider, err := buildMarketData(cfg.Providers.MarketData)
	if err != nil {
		slog.Error("failed to build market data provider", "err", err)
		return 1
	}
	researchProvider, err := buildResearch(cfg.Providers.Research)
	if err != nil {
		slog.Error("failed to build research provider", "err", err)
		return 1
	}

	// Broker session manager (optional).
	sessions, closeStore, err := buildSessions(ctx, cfg.Broker)
	if err != nil {
		slog.Error("failed to build broker session manager", "err", err)
		return 1
	}
	if closeStore != nil {
		defer closeStore()
	}

	// Tool registry over whatever providers are configured.
	registry := tools.NewRegistry()
	var source tools.BrokerSource
	if sessions != nil {
		source = sessions
	}
	if err := tools.RegisterDefaults(registry, marketProvider, researchProvider, source); err != nil {
		slog.Error("failed to register tools", "err", err)
		return 1
	}
	slog.Info("tools registered", "tools", registry.Names())

	// One breaker guards both planning and composition.
	breaker := resilience.NewCircuitBreaker(resilience.BreakerConfig{Name: "llm"})
	guarded := orchestrator.GuardProvider(llmProvider, breaker)

	resultCache := cache.New(
		cache.WithTTL(cfg.Cache.TTL.Std()),
		cache.WithMaxEntries(cfg.Cache.MaxEntries),
	)

	engineOpts := []engine.Option{
		engine.WithCache(resultCache),
		engine.WithWorkers(cfg.Engine.Workers),
		engine.WithToolTimeout(cfg.Engine.ToolTimeout.Std()),
		engine.WithMetrics(metrics),
	}
	if sessions != nil {
		engineOpts = append(engineOpts, engine.WithSessionGate(sessions))
	}

	orch := orchestrator.New(
		planner.New(guarded, registry,
			planner.WithMaxRetries(cfg.Planner.MaxRetries),
			planner.WithTemperature(cfg.Planner.Temperature),
			planner.WithMetrics(metrics),
		),
		engine.New(registry, engineOpts...),
		composer.New(guarded, composer.WithMetrics(metrics)),
		memory.NewStore(cfg.Memory.MaxTurns,
			memory.WithSummariser(memory.NewLLMSummariser(guarded)),
		),
		orchestrator.WithTokenBudget(cfg.Memory.TokenBudget),
		orchestrator.WithMetrics(metrics),
	)

	var sessionAPI httpapi.SessionManager
	if sessions != nil {
		sessionAPI = sessions
	}
	api := httpapi.NewServer(orch, sessionAPI,
		httpapi.WithMetrics(metrics),
		httpapi.WithMetricsEndpoint(cfg.Server.MetricsOn()),
	)

	server := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// No WriteTimeout: streaming responses outlive any static bound;
		// per-request budgets are enforced inside the pipeline.
	}

	printStartupSummary(cfg)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server ready — press Ctrl+C to shut down")
		if cfg.Server.TLS != nil {
			errCh <- server.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
			return
		}
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "err", err)
			return 1
		}
	case <-ctx.Done():
	}

	slog.Info("shutdown signal received, stopping…")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if sessions != nil {
		if err := sessions.Close(); err != nil {
			slog.Warn("session manager close error", "err", err)
		}
	}
	slog.Info("goodbye")
	return 0
}

// buildLLM constructs the configured language model provider. "openai" uses
// the native SDK; every other name goes through any-llm's multi-backend
// client (anthropic, groq, ollama, mistral, …).
func buildLLM(entry config.ProviderEntry) (llm.Provider, error) {
	switch entry.Name {
	case "openai":
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if entry.Timeout > 0 {
			opts = append(opts, openai.WithTimeout(entry.Timeout.Std()))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	default:
		var backendOpts []anyllmlib.Option
		if entry.APIKey != "" {
			backendOpts = append(backendOpts, anyllmlib.WithAPIKey(entry.APIKey))
		}
		if entry.BaseURL != "" {
			backendOpts = append(backendOpts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		opts := []anyllm.Option{anyllm.WithBackendOptions(backendOpts...)}
		if entry.Timeout > 0 {
			opts = append(opts, anyllm.WithTimeout(entry.Timeout.Std()))
		}
		return anyllm.New(entry.Name, entry.Model, opts...)
	}
}

// buildMarketData constructs the market data provider, or nil when none is
// configured.
func buildMarketData(entry config.ProviderEntry) (marketdata.Provider, error) {
	if entry.Name == "" {
		return nil, nil
	}
	if entry.BaseURL == "" {
		return nil, fmt.Errorf("market data provider %q needs a base_url", entry.Name)
	}
	var opts []httpmd.Option
	if entry.APIKey != "" {
		opts = append(opts, httpmd.WithAPIKey(entry.APIKey))
	}
	return httpmd.New(entry.BaseURL, opts...)
}

// buildResearch constructs the web research provider, or nil when none is
// configured.
func buildResearch(entry config.ProviderEntry) (research.Provider, error) {
	if entry.Name == "" {
		return nil, nil
	}
	if entry.BaseURL == "" {
		return nil, fmt.Errorf("research provider %q needs a base_url", entry.Name)
	}
	var opts []httpresearch.Option
	if entry.APIKey != "" {
		opts = append(opts, httpresearch.WithAPIKey(entry.APIKey))
	}
	return httpresearch.New(entry.BaseURL, opts...)
}

// buildSessions constructs the broker session manager, or nil when no broker
// is configured. The returned close func releases the postgres pool if one
// was opened.
func buildSessions(ctx context.Context, cfg config.BrokerConfig) (*brokerage.Manager, func(), error) {
	if cfg.MCPURL == "" {
		slog.Info("no broker configured; portfolio tools disabled")
		return nil, nil, nil
	}

	factory := func(userID string) (broker.Client, error) {
		return kitemcp.New(cfg.MCPURL)
	}

	var (
		store     brokerage.RecordStore
		closeFunc func()
	)
	switch cfg.Store {
	case config.StorePostgres:
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		pg := pgstore.New(pool)
		if err := pg.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("migrate session schema: %w", err)
		}
		store = pg
		closeFunc = pool.Close
		slog.Info("broker sessions persisted in postgres")
	default:
		store = brokerage.NewMemStore()
		slog.Info("broker sessions held in memory; lost on restart")
	}

	manager := brokerage.NewManager(store, factory,
		brokerage.WithProvider(cfg.Provider),
		brokerage.WithValidateInterval(cfg.ValidateInterval.Std()))
	return manager, closeFunc, nil
}

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔══════════════════════════════════════════╗")
	fmt.Println("║          Finch — startup summary         ║")
	fmt.Println("╠══════════════════════════════════════════╣")
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("Market data", cfg.Providers.MarketData.Name, "")
	printProvider("Research", cfg.Providers.Research.Name, "")
	if cfg.Broker.MCPURL != "" {
		fmt.Printf("║  Broker          : %-21s ║\n", string(cfg.Broker.Store)+" store")
	} else {
		fmt.Printf("║  Broker          : %-21s ║\n", "(disabled)")
	}
	fmt.Printf("║  Cache           : %-21s ║\n",
		fmt.Sprintf("%s / %d entries", cfg.Cache.TTL.Std(), cfg.Cache.MaxEntries))
	fmt.Printf("║  Listen addr     : %-21s ║\n", cfg.Server.ListenAddr)
	fmt.Println("╚══════════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 21 {
		value = value[:18] + "…"
	}
	fmt.Printf("║  %-14s  : %-21s ║\n", kind, value)
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
