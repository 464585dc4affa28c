package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "forgebot.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// CLIFlags holds command-line overrides. Nil fields were not given.
type CLIFlags struct {
	ConfigPath *string
	Port       *string
	LogLevel   *string
	DSN        *string
	NatsURL    *string
	Model      *string
}

// ParseFlags parses command-line arguments into CLIFlags.
func ParseFlags(args []string) (CLIFlags, error) {
	fs := flag.NewFlagSet("forgebot", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configPath, port, logLevel, dsn, natsURL, model string
	)
	fs.StringVar(&configPath, "config", "", "path to YAML config")
	fs.StringVar(&configPath, "c", "", "shorthand for --config")
	fs.StringVar(&port, "port", "", "HTTP port")
	fs.StringVar(&port, "p", "", "shorthand for --port")
	fs.StringVar(&logLevel, "log-level", "", "log level")
	fs.StringVar(&dsn, "dsn", "", "PostgreSQL DSN")
	fs.StringVar(&natsURL, "nats-url", "", "NATS URL")
	fs.StringVar(&model, "model", "", "default model")

	if err := fs.Parse(args); err != nil {
		return CLIFlags{}, fmt.Errorf("parse flags: %w", err)
	}

	var flags CLIFlags
	fs.Visit(func(f *flag.Flag) {
		v := f.Value.String()
		switch f.Name {
		case "config", "c":
			flags.ConfigPath = &v
		case "port", "p":
			flags.Port = &v
		case "log-level":
			flags.LogLevel = &v
		case "dsn":
			flags.DSN = &v
		case "nats-url":
			flags.NatsURL = &v
		case "model":
			flags.Model = &v
		}
	})
	return flags, nil
}

// LoadWithCLI loads the config from the flag-selected (or default) YAML file,
// overlays the environment and then the flags. It returns the resolved
// config path.
func LoadWithCLI(flags CLIFlags) (*Config, string, error) {
	path := DefaultConfigFile
	if flags.ConfigPath != nil {
		path = *flags.ConfigPath
	}

	cfg := Defaults()
	if err := loadYAML(&cfg, path); err != nil {
		return nil, "", fmt.Errorf("config yaml: %w", err)
	}
	loadEnv(&cfg)
	applyCLI(&cfg, flags)

	if err := validate(&cfg); err != nil {
		return nil, "", fmt.Errorf("config validate: %w", err)
	}
	return &cfg, path, nil
}

func applyCLI(cfg *Config, flags CLIFlags) {
	if flags.Port != nil {
		cfg.Server.Port = *flags.Port
	}
	if flags.LogLevel != nil {
		cfg.Logging.Level = *flags.LogLevel
	}
	if flags.DSN != nil {
		cfg.Postgres.DSN = *flags.DSN
	}
	if flags.NatsURL != nil {
		cfg.NATS.URL = *flags.NatsURL
	}
	if flags.Model != nil {
		cfg.LLM.DefaultModel = *flags.Model
	}
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "FORGEBOT_PORT")
	setString(&cfg.Server.CORSOrigin, "FORGEBOT_CORS_ORIGIN")
	setFloat64(&cfg.Server.RateLimit, "FORGEBOT_RATE_LIMIT")
	setInt(&cfg.Server.RateBurst, "FORGEBOT_RATE_BURST")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "FORGEBOT_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "FORGEBOT_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "FORGEBOT_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "FORGEBOT_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "FORGEBOT_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.Stream, "FORGEBOT_NATS_STREAM")
	setString(&cfg.LiteLLM.URL, "LITELLM_URL")
	setString(&cfg.LiteLLM.MasterKey, "LITELLM_MASTER_KEY")
	setString(&cfg.Logging.Level, "FORGEBOT_LOG_LEVEL")
	setString(&cfg.Logging.Service, "FORGEBOT_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "FORGEBOT_LOG_ASYNC")
	setInt(&cfg.Breaker.MaxFailures, "FORGEBOT_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "FORGEBOT_BREAKER_TIMEOUT")

	// LLM
	setString(&cfg.LLM.BaseURL, "FORGEBOT_LLM_BASE_URL")
	setString(&cfg.LLM.APIKey, "FORGEBOT_LLM_API_KEY")
	setString(&cfg.LLM.DefaultModel, "FORGEBOT_LLM_MODEL")
	setStringList(&cfg.LLM.FallbackModels, "FORGEBOT_LLM_FALLBACK_MODELS")
	setDuration(&cfg.LLM.Timeout, "FORGEBOT_LLM_TIMEOUT")
	setInt(&cfg.LLM.MaxRetries, "FORGEBOT_LLM_MAX_RETRIES")
	setDuration(&cfg.LLM.InitialBackoff, "FORGEBOT_LLM_INITIAL_BACKOFF")
	setDuration(&cfg.LLM.MaxBackoff, "FORGEBOT_LLM_MAX_BACKOFF")
	setInt(&cfg.LLM.MaxTokens, "FORGEBOT_LLM_MAX_TOKENS")
	setFloat64(&cfg.LLM.Temperature, "FORGEBOT_LLM_TEMPERATURE")
	setBool(&cfg.LLM.Private, "FORGEBOT_LLM_PRIVATE")
	setInt(&cfg.LLM.MaxModelAttempts, "FORGEBOT_LLM_MAX_MODEL_ATTEMPTS")
	setInt(&cfg.LLM.FallbackAfter, "FORGEBOT_LLM_FALLBACK_AFTER")
	setInt(&cfg.LLM.MinUsableTokens, "FORGEBOT_LLM_MIN_USABLE_TOKENS")

	// Agent
	setInt(&cfg.Agent.MaxIterations, "FORGEBOT_AGENT_MAX_ITERATIONS")
	setInt(&cfg.Agent.ReadOnlyCeiling, "FORGEBOT_AGENT_READ_ONLY_CEILING")
	setInt(&cfg.Agent.CounterCapacity, "FORGEBOT_AGENT_COUNTER_CAPACITY")

	// Routing
	setString(&cfg.Routing.ContentDir, "FORGEBOT_CONTENT_DIR")
	setFloat64(&cfg.Routing.FastPathThreshold, "FORGEBOT_FAST_PATH_THRESHOLD")

	// Build
	setInt(&cfg.Build.MaxAttempts, "FORGEBOT_BUILD_MAX_ATTEMPTS")
	setInt(&cfg.Build.SummaryRuns, "FORGEBOT_BUILD_SUMMARY_RUNS")
	setInt(&cfg.Build.SummaryLimit, "FORGEBOT_BUILD_SUMMARY_LIMIT")
	setString(&cfg.Build.Model, "FORGEBOT_BUILD_MODEL")
	setInt(&cfg.Build.BuildMaxTokens, "FORGEBOT_BUILD_MAX_TOKENS")

	// Cache
	setInt64(&cfg.Cache.L1MaxSizeMB, "FORGEBOT_CACHE_L1_SIZE_MB")
	setString(&cfg.Cache.L2Bucket, "FORGEBOT_CACHE_L2_BUCKET")
	setDuration(&cfg.Cache.L2TTL, "FORGEBOT_CACHE_L2_TTL")
	setDuration(&cfg.Cache.SummaryTTL, "FORGEBOT_CACHE_SUMMARY_TTL")

	// OTEL
	setBool(&cfg.OTEL.Enabled, "FORGEBOT_OTEL_ENABLED")
	setString(&cfg.OTEL.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&cfg.OTEL.ServiceName, "OTEL_SERVICE_NAME")
	setBool(&cfg.OTEL.Insecure, "FORGEBOT_OTEL_INSECURE")
	setFloat64(&cfg.OTEL.SampleRate, "FORGEBOT_OTEL_SAMPLE_RATE")

	// Workspace
	setString(&cfg.Workspace.Root, "FORGEBOT_WORKSPACE_ROOT")
	setInt64(&cfg.Workspace.MaxFileBytes, "FORGEBOT_WORKSPACE_MAX_FILE_BYTES")
	setInt(&cfg.Workspace.MaxSearchHits, "FORGEBOT_WORKSPACE_MAX_SEARCH_HITS")
	setString(&cfg.Workspace.GitRemote, "FORGEBOT_GIT_REMOTE")
	setString(&cfg.Workspace.GitBranch, "FORGEBOT_GIT_BRANCH")

	// MCP
	setBool(&cfg.MCP.Serve, "FORGEBOT_MCP_SERVE")
	setString(&cfg.MCP.APIKey, "FORGEBOT_MCP_API_KEY")
	setDuration(&cfg.MCP.CallTimeout, "FORGEBOT_MCP_CALL_TIMEOUT")
}

// validate checks that required fields are set and ceilings are sane.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.LLM.DefaultModel == "" {
		return errors.New("llm.default_model is required")
	}
	if cfg.Postgres.DSN != "" && cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.LLM.MaxModelAttempts < 1 {
		return errors.New("llm.max_model_attempts must be >= 1")
	}
	if cfg.LLM.FallbackAfter < 1 {
		return errors.New("llm.fallback_after must be >= 1")
	}
	if cfg.Agent.MaxIterations < 1 {
		return errors.New("agent.max_iterations must be >= 1")
	}
	if cfg.Agent.ReadOnlyCeiling < 1 || cfg.Agent.ReadOnlyCeiling > cfg.Agent.MaxIterations {
		return errors.New("agent.read_only_ceiling must be between 1 and agent.max_iterations")
	}
	if cfg.Build.MaxAttempts < 1 {
		return errors.New("build.max_attempts must be >= 1")
	}
	if t := cfg.Routing.FastPathThreshold; t < 0 || t > 1 {
		return errors.New("routing.fast_path_threshold must be within [0, 1]")
	}
	for i, s := range cfg.MCP.Servers {
		if s.Name == "" || s.Command == "" {
			return fmt.Errorf("mcp.servers[%d]: name and command are required", i)
		}
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setStringList(dst *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	*dst = out
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
