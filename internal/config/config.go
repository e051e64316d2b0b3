// Package config provides the configuration schema and loader for the
// Finch query orchestration server.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML configs can use strings like "30s"
// or "15m" as well as integer nanosecond counts.
type Duration time.Duration

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw any
	if err := value.Decode(&raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: invalid duration %q: %w", v, err)
		}
		*d = Duration(parsed)
	case int:
		*d = Duration(v)
	default:
		return fmt.Errorf("config: invalid duration value %v", raw)
	}
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// LogLevel controls log verbosity for the Finch server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// StoreKind selects the backing store for broker session records.
type StoreKind string

const (
	// StoreMemory keeps session records in process memory. Records are lost
	// on restart and users must log in again.
	StoreMemory StoreKind = "memory"

	// StorePostgres persists session records in PostgreSQL so that active
	// sessions survive restarts.
	StorePostgres StoreKind = "postgres"
)

// IsValid reports whether s is a recognised store kind.
func (s StoreKind) IsValid() bool {
	return s == StoreMemory || s == StorePostgres
}

// Config is the root configuration structure for Finch.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Broker    BrokerConfig    `yaml:"broker"`
	Cache     CacheConfig     `yaml:"cache"`
	Engine    EngineConfig    `yaml:"engine"`
	Memory    MemoryConfig    `yaml:"memory"`
	Planner   PlannerConfig   `yaml:"planner"`
}

// ServerConfig holds network and logging settings for the Finch server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// MetricsEnabled exposes Prometheus metrics on /metrics. Defaults to
	// true; set to false to disable the endpoint.
	MetricsEnabled *bool `yaml:"metrics_enabled"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// MetricsOn reports whether the /metrics endpoint should be served.
func (s ServerConfig) MetricsOn() bool {
	return s.MetricsEnabled == nil || *s.MetricsEnabled
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ProvidersConfig declares the external data and model providers.
type ProvidersConfig struct {
	// LLM is the language model used for planning and composing answers.
	LLM ProviderEntry `yaml:"llm"`

	// MarketData is the quote, history, and index snapshot source.
	MarketData ProviderEntry `yaml:"market_data"`

	// Research is the web research / search provider.
	Research ProviderEntry `yaml:"research"`
}

// ProviderEntry is the common configuration block shared by all provider types.
type ProviderEntry struct {
	// Name selects the provider implementation (e.g., "openai", "anthropic").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o").
	Model string `yaml:"model"`

	// Timeout bounds each request to the provider. Zero leaves requests
	// bounded only by the caller's context. The LLM entry defaults to 60s.
	Timeout Duration `yaml:"timeout"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above.
	Options map[string]any `yaml:"options"`
}

// BrokerConfig holds settings for the brokerage session layer.
type BrokerConfig struct {
	// MCPURL is the broker's MCP endpoint address
	// (e.g., "https://mcp.kite.trade/mcp").
	MCPURL string `yaml:"mcp_url"`

	// Provider names the broker sessions are keyed under. Defaults to
	// "kite".
	Provider string `yaml:"provider"`

	// Store selects where session records are persisted.
	// Defaults to "memory".
	Store StoreKind `yaml:"store"`

	// PostgresDSN is the connection string for the postgres session store.
	// Required when Store is "postgres".
	PostgresDSN string `yaml:"postgres_dsn"`

	// ValidateInterval is how long a validated session is trusted before the
	// next use re-checks it against the broker. Defaults to 15 minutes.
	ValidateInterval Duration `yaml:"validate_interval"`
}

// CacheConfig tunes the tool result cache.
type CacheConfig struct {
	// TTL is how long a cached tool result stays fresh. Defaults to 60s.
	TTL Duration `yaml:"ttl"`

	// MaxEntries bounds the number of cached results. Defaults to 512.
	MaxEntries int `yaml:"max_entries"`
}

// EngineConfig tunes the tool execution engine.
type EngineConfig struct {
	// Workers is the maximum number of tool calls executed concurrently.
	// Defaults to 5.
	Workers int `yaml:"workers"`

	// ToolTimeout bounds each individual tool invocation. Defaults to 30s.
	ToolTimeout Duration `yaml:"tool_timeout"`
}

// MemoryConfig tunes per-user conversation memory.
type MemoryConfig struct {
	// MaxTurns is the target conversation length after compression.
	// A conversation may grow to twice this before being compressed.
	// Defaults to 20.
	MaxTurns int `yaml:"max_turns"`

	// TokenBudget caps the estimated token size of the prompt window built
	// from memory. Defaults to 4000.
	TokenBudget int `yaml:"token_budget"`
}

// PlannerConfig tunes the query planner.
type PlannerConfig struct {
	// MaxRetries is how many corrective re-prompts are attempted when the
	// model returns an unparseable plan. Defaults to 2.
	MaxRetries int `yaml:"max_retries"`

	// Temperature for planning completions. Planning wants low variance;
	// defaults to 0.1.
	Temperature float64 `yaml:"temperature"`
}
