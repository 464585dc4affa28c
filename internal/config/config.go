// Package config provides hierarchical configuration loading for ForgeBot.
// Precedence: defaults < YAML file < environment variables < CLI flags.
package config

import (
	"time"

	"github.com/Strob0t/ForgeBot/internal/domain/routing"
)

// Config holds all runtime configuration for the ForgeBot engine.
type Config struct {
	Server    Server         `yaml:"server"`
	Postgres  Postgres       `yaml:"postgres"`
	NATS      NATS           `yaml:"nats"`
	LLM       LLM            `yaml:"llm"`
	LiteLLM   LiteLLM        `yaml:"litellm"`
	Logging   Logging        `yaml:"logging"`
	Breaker   Breaker        `yaml:"breaker"`
	Agent     Agent          `yaml:"agent"`
	Routing   routing.Config `yaml:"routing"`
	Build     Build          `yaml:"build"`
	Cache     Cache          `yaml:"cache"`
	OTEL      OTEL           `yaml:"otel"`
	Workspace Workspace      `yaml:"workspace"`
	MCP       MCP            `yaml:"mcp"`
}

// Server holds HTTP server configuration.
type Server struct {
	Port       string `yaml:"port"`
	CORSOrigin string `yaml:"cors_origin"`
	// Per-client token bucket on request intake. Zero rate disables it.
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
}

// Postgres holds PostgreSQL connection configuration. An empty DSN selects
// the in-memory build log.
type Postgres struct {
	DSN             string        `yaml:"dsn"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
	HealthCheck     time.Duration `yaml:"health_check"`
}

// NATS holds NATS JetStream configuration. An empty URL disables the gateway
// intake and stage event publishing.
type NATS struct {
	URL    string `yaml:"url"`
	Stream string `yaml:"stream"`
}

// LLM holds model invocation configuration.
type LLM struct {
	BaseURL        string        `yaml:"base_url"`
	APIKey         string        `yaml:"api_key"`
	DefaultModel   string        `yaml:"default_model"`
	FallbackModels []string      `yaml:"fallback_models"`
	Timeout        time.Duration `yaml:"timeout"`         // Per-call timeout
	MaxRetries     int           `yaml:"max_retries"`     // Transport retries on transient errors
	InitialBackoff time.Duration `yaml:"initial_backoff"` // First transport retry delay
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	MaxTokens      int           `yaml:"max_tokens"`
	Temperature    float64       `yaml:"temperature"`
	Private        bool          `yaml:"private"`

	MaxModelAttempts int `yaml:"max_model_attempts"` // Invoker attempts across models
	FallbackAfter    int `yaml:"fallback_after"`     // Consecutive failures before switching model
	MinUsableTokens  int `yaml:"min_usable_tokens"`  // Floor for a renegotiated quota budget
}

// LiteLLM holds LiteLLM proxy admin configuration.
type LiteLLM struct {
	URL       string `yaml:"url"`
	MasterKey string `yaml:"master_key"`
}

// Logging holds structured logging configuration.
type Logging struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
	Async   bool   `yaml:"async"`
}

// Breaker holds circuit breaker configuration.
type Breaker struct {
	MaxFailures int           `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Agent holds agent loop ceilings.
type Agent struct {
	MaxIterations   int `yaml:"max_iterations"`
	ReadOnlyCeiling int `yaml:"read_only_ceiling"`
	CounterCapacity int `yaml:"counter_capacity"` // Models tracked by the failure counter store
}

// Build holds build pipeline configuration.
type Build struct {
	MaxAttempts    int    `yaml:"max_attempts"`
	SummaryRuns    int    `yaml:"summary_runs"`  // Recent runs considered by the issue summary
	SummaryLimit   int    `yaml:"summary_limit"` // Issue codes fed to planning
	Model          string `yaml:"model"`         // Empty uses llm.default_model
	BuildMaxTokens int    `yaml:"build_max_tokens"`
}

// Cache holds the issue summary cache configuration.
type Cache struct {
	L1MaxSizeMB int64         `yaml:"l1_max_size_mb"`
	L2Bucket    string        `yaml:"l2_bucket"`
	L2TTL       time.Duration `yaml:"l2_ttl"`
	SummaryTTL  time.Duration `yaml:"summary_ttl"`
}

// OTEL holds OpenTelemetry configuration.
type OTEL struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	Insecure    bool    `yaml:"insecure"`
	SampleRate  float64 `yaml:"sample_rate"`
}

// Workspace holds the reference file action configuration.
type Workspace struct {
	Root          string `yaml:"root"`
	MaxFileBytes  int64  `yaml:"max_file_bytes"`
	MaxSearchHits int    `yaml:"max_search_hits"`
	GitRemote     string `yaml:"git_remote"`
	GitBranch     string `yaml:"git_branch"`
}

// MCP holds the MCP servers whose tools are imported as actions, and the
// settings of ForgeBot's own MCP endpoint.
type MCP struct {
	Servers     []MCPServer   `yaml:"servers"`
	CallTimeout time.Duration `yaml:"call_timeout"`
	// Serve mounts ForgeBot's own MCP endpoint at /mcp.
	Serve  bool   `yaml:"serve"`
	APIKey string `yaml:"api_key"`
}

// MCPServer is one stdio MCP server.
type MCPServer struct {
	Name    string   `yaml:"name"`
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	Env     []string `yaml:"env"`
	// Mutating lists imported tools that change state; the rest are read-only.
	Mutating []string `yaml:"mutating"`
}

// Defaults returns a Config with sensible default values for local development.
func Defaults() Config {
	return Config{
		Server: Server{
			Port:       "8080",
			CORSOrigin: "http://localhost:3000",
			RateLimit:  2,
			RateBurst:  10,
		},
		Postgres: Postgres{
			MaxConns:        10,
			MinConns:        1,
			MaxConnLifetime: time.Hour,
			MaxConnIdleTime: 10 * time.Minute,
			HealthCheck:     time.Minute,
		},
		NATS: NATS{
			Stream: "FORGEBOT",
		},
		LLM: LLM{
			BaseURL:          "http://localhost:4000/v1",
			DefaultModel:     "openai/gpt-4o-mini",
			FallbackModels:   []string{"anthropic/claude-3-5-haiku", "openai/gpt-4o"},
			Timeout:          90 * time.Second,
			MaxRetries:       3,
			InitialBackoff:   500 * time.Millisecond,
			MaxBackoff:       8 * time.Second,
			MaxTokens:        4096,
			Temperature:      0.2,
			MaxModelAttempts: 4,
			FallbackAfter:    3,
			MinUsableTokens:  512,
		},
		LiteLLM: LiteLLM{
			URL: "http://localhost:4000",
		},
		Logging: Logging{
			Level:   "info",
			Service: "forgebot",
		},
		Breaker: Breaker{
			MaxFailures: 5,
			Timeout:     30 * time.Second,
		},
		Agent: Agent{
			MaxIterations:   12,
			ReadOnlyCeiling: 5,
			CounterCapacity: 256,
		},
		Routing: routing.DefaultConfig(),
		Build: Build{
			MaxAttempts:    3,
			SummaryRuns:    20,
			SummaryLimit:   5,
			BuildMaxTokens: 8192,
		},
		Cache: Cache{
			L1MaxSizeMB: 16,
			L2Bucket:    "FORGEBOT_CACHE",
			L2TTL:       10 * time.Minute,
			SummaryTTL:  time.Minute,
		},
		OTEL: OTEL{
			ServiceName: "forgebot",
			Insecure:    true,
			SampleRate:  1.0,
		},
		MCP: MCP{
			CallTimeout: 30 * time.Second,
		},
		Workspace: Workspace{
			Root:          ".",
			MaxFileBytes:  1 << 20,
			MaxSearchHits: 50,
			GitRemote:     "origin",
			GitBranch:     "main",
		},
	}
}
