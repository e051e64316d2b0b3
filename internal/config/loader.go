package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":         {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq"},
	"market_data": {"http", "mock"},
	"research":    {"http", "mock"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills in zero-valued tunables with their documented defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Providers.LLM.Timeout <= 0 {
		cfg.Providers.LLM.Timeout = Duration(60 * time.Second)
	}
	if cfg.Broker.Store == "" {
		cfg.Broker.Store = StoreMemory
	}
	if cfg.Broker.Provider == "" {
		cfg.Broker.Provider = "kite"
	}
	if cfg.Broker.ValidateInterval <= 0 {
		cfg.Broker.ValidateInterval = Duration(15 * time.Minute)
	}
	if cfg.Cache.TTL <= 0 {
		cfg.Cache.TTL = Duration(60 * time.Second)
	}
	if cfg.Cache.MaxEntries <= 0 {
		cfg.Cache.MaxEntries = 512
	}
	if cfg.Engine.Workers <= 0 {
		cfg.Engine.Workers = 5
	}
	if cfg.Engine.ToolTimeout <= 0 {
		cfg.Engine.ToolTimeout = Duration(30 * time.Second)
	}
	if cfg.Memory.MaxTurns <= 0 {
		cfg.Memory.MaxTurns = 20
	}
	if cfg.Memory.TokenBudget <= 0 {
		cfg.Memory.TokenBudget = 4000
	}
	if cfg.Planner.MaxRetries <= 0 {
		cfg.Planner.MaxRetries = 2
	}
	if cfg.Planner.Temperature <= 0 {
		cfg.Planner.Temperature = 0.1
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" {
			errs = append(errs, errors.New("server.tls.cert_file is required when tls is set"))
		}
		if cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls.key_file is required when tls is set"))
		}
	}

	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("market_data", cfg.Providers.MarketData.Name)
	validateProviderName("research", cfg.Providers.Research.Name)

	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm.name is required; queries cannot be planned or answered without a model"))
	}

	if !cfg.Broker.Store.IsValid() {
		errs = append(errs, fmt.Errorf("broker.store %q is invalid; valid values: memory, postgres", cfg.Broker.Store))
	}
	if cfg.Broker.Store == StorePostgres && cfg.Broker.PostgresDSN == "" {
		errs = append(errs, errors.New("broker.postgres_dsn is required when broker.store is postgres"))
	}
	if cfg.Broker.MCPURL == "" {
		slog.Warn("broker.mcp_url is empty; portfolio tools will be unavailable")
	}

	if cfg.Providers.MarketData.Name == "" {
		slog.Warn("providers.market_data is not configured; quote and history tools will be unavailable")
	}
	if cfg.Providers.Research.Name == "" {
		slog.Warn("providers.research is not configured; web research will be unavailable")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
