package config_test

import (
	"strings"
	"testing"
	"time"

	"github.com/finch-ai/finch/internal/config"
)

func TestLoadFromReader_Defaults(t *testing.T) {
	t.Parallel()
	yaml := `
providers:
  llm:
    name: openai
    api_key: test-key
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("default listen_addr = %q, want :8080", cfg.Server.ListenAddr)
	}
	if cfg.Cache.TTL.Std() != 60*time.Second {
		t.Errorf("default cache.ttl = %v, want 60s", cfg.Cache.TTL)
	}
	if cfg.Cache.MaxEntries != 512 {
		t.Errorf("default cache.max_entries = %d, want 512", cfg.Cache.MaxEntries)
	}
	if cfg.Engine.Workers != 5 {
		t.Errorf("default engine.workers = %d, want 5", cfg.Engine.Workers)
	}
	if cfg.Engine.ToolTimeout.Std() != 30*time.Second {
		t.Errorf("default engine.tool_timeout = %v, want 30s", cfg.Engine.ToolTimeout)
	}
	if cfg.Memory.MaxTurns != 20 {
		t.Errorf("default memory.max_turns = %d, want 20", cfg.Memory.MaxTurns)
	}
	if cfg.Providers.LLM.Timeout.Std() != 60*time.Second {
		t.Errorf("default providers.llm.timeout = %v, want 60s", cfg.Providers.LLM.Timeout)
	}
	if cfg.Broker.Store != config.StoreMemory {
		t.Errorf("default broker.store = %q, want memory", cfg.Broker.Store)
	}
	if cfg.Broker.Provider != "kite" {
		t.Errorf("default broker.provider = %q, want kite", cfg.Broker.Provider)
	}
	if cfg.Broker.ValidateInterval.Std() != 15*time.Minute {
		t.Errorf("default broker.validate_interval = %v, want 15m", cfg.Broker.ValidateInterval)
	}
	if cfg.Planner.MaxRetries != 2 {
		t.Errorf("default planner.max_retries = %d, want 2", cfg.Planner.MaxRetries)
	}
}

func TestValidate_MissingLLMProvider(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  listen_addr: ":9090"
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for missing LLM provider, got nil")
	}
	if !strings.Contains(err.Error(), "providers.llm.name") {
		t.Errorf("error should mention providers.llm.name, got: %v", err)
	}
}

func TestValidate_PostgresStoreRequiresDSN(t *testing.T) {
	t.Parallel()
	yaml := `
providers:
  llm:
    name: openai
broker:
  store: postgres
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for postgres store without dsn, got nil")
	}
	if !strings.Contains(err.Error(), "postgres_dsn") {
		t.Errorf("error should mention postgres_dsn, got: %v", err)
	}
}

func TestValidate_InvalidStoreKind(t *testing.T) {
	t.Parallel()
	yaml := `
providers:
  llm:
    name: openai
broker:
  store: redis
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid store kind, got nil")
	}
	if !strings.Contains(err.Error(), "broker.store") {
		t.Errorf("error should mention broker.store, got: %v", err)
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: verbose
providers:
  llm:
    name: openai
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid log level, got nil")
	}
	if !strings.Contains(err.Error(), "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
}

func TestValidate_TLSRequiresBothFiles(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  tls:
    cert_file: /etc/finch/cert.pem
providers:
  llm:
    name: openai
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for tls without key_file, got nil")
	}
	if !strings.Contains(err.Error(), "key_file") {
		t.Errorf("error should mention key_file, got: %v", err)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	t.Parallel()
	yaml := `
providers:
  llm:
    name: openai
serverr:
  listen_addr: ":8080"
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unknown top-level field, got nil")
	}
}

func TestLoadFromReader_FullConfig(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  listen_addr: ":8443"
  log_level: debug
  metrics_enabled: true
providers:
  llm:
    name: anthropic
    api_key: sk-test
    model: claude-sonnet-4-5
  market_data:
    name: http
    base_url: https://quotes.example.com
  research:
    name: http
    api_key: research-key
broker:
  mcp_url: https://mcp.kite.trade/mcp
  store: postgres
  postgres_dsn: postgres://localhost/finch
  validate_interval: 5m
cache:
  ttl: 30s
  max_entries: 128
engine:
  workers: 3
  tool_timeout: 10s
memory:
  max_turns: 10
  token_budget: 2000
planner:
  max_retries: 1
  temperature: 0.2
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Providers.LLM.Model != "claude-sonnet-4-5" {
		t.Errorf("llm model = %q", cfg.Providers.LLM.Model)
	}
	if cfg.Cache.TTL.Std() != 30*time.Second {
		t.Errorf("cache.ttl = %v, want 30s", cfg.Cache.TTL)
	}
	if cfg.Engine.Workers != 3 {
		t.Errorf("engine.workers = %d, want 3", cfg.Engine.Workers)
	}
	if cfg.Broker.ValidateInterval.Std() != 5*time.Minute {
		t.Errorf("broker.validate_interval = %v, want 5m", cfg.Broker.ValidateInterval)
	}
}
