package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

// configPtr holds the current config for thread-safe access.
var configPtr atomic.Pointer[Config]

// loadedConfigFile stores the path of the config file used by the last successful Load.
var loadedConfigFile atomic.Value

// Get returns the current Config. It is safe for concurrent use.
// If no config has been loaded yet, it returns the default config.
func Get() *Config {
	if c := configPtr.Load(); c != nil {
		return c
	}
	d := DefaultConfig()
	configPtr.Store(d)
	return d
}

// set stores a new Config atomically.
func set(cfg *Config) {
	configPtr.Store(cfg)
}

// Config is the top-level configuration for mlxd.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"     toml:"server"`
	Auth       AuthConfig       `mapstructure:"auth"       toml:"auth"`
	Model      ModelConfig      `mapstructure:"model"      toml:"model"`
	Generation GenerationConfig `mapstructure:"generation" toml:"generation"`
	Cache      CacheConfig      `mapstructure:"cache"      toml:"cache"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit" toml:"rate_limit"`
	Tracing    TracingConfig    `mapstructure:"tracing"    toml:"tracing"`
	Metrics    MetricsConfig    `mapstructure:"metrics"    toml:"metrics"`
}

// ServerConfig holds the core HTTP server settings.
type ServerConfig struct {
	BindAddress     string   `mapstructure:"bind_address"      toml:"bind_address"`
	Port            int      `mapstructure:"port"              toml:"port"`
	LogLevel        string   `mapstructure:"log_level"         toml:"log_level"`
	DataDir         string   `mapstructure:"data_dir"          toml:"data_dir"`
	ModelCacheDir   string   `mapstructure:"model_cache_dir"   toml:"model_cache_dir"`
	TLSEnabled      bool     `mapstructure:"tls_enabled"       toml:"tls_enabled"`
	CertFile        string   `mapstructure:"cert_file"         toml:"cert_file"`
	KeyFile         string   `mapstructure:"key_file"          toml:"key_file"`
	ReadTimeout     int      `mapstructure:"read_timeout"      toml:"read_timeout"`
	WriteTimeout    int      `mapstructure:"write_timeout"     toml:"write_timeout"`
	IdleTimeout     int      `mapstructure:"idle_timeout"      toml:"idle_timeout"`
	MaxBodySize     int64    `mapstructure:"max_body_size"     toml:"max_body_size"`
	RequestTimeout  int      `mapstructure:"request_timeout"   toml:"request_timeout"` // seconds; per-request wall clock
	MaxQueueDepth   int      `mapstructure:"max_queue_depth"   toml:"max_queue_depth"`
	AllowedOrigins  []string `mapstructure:"allowed_origins"   toml:"allowed_origins"`
}

// AuthConfig holds the HTTP bearer-token authentication settings.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled" toml:"enabled"`
	Token   string `mapstructure:"token"   toml:"token"`
}

// ModelConfig describes the served model(s).
type ModelConfig struct {
	ID              string `mapstructure:"id"                toml:"id"`
	Path            string `mapstructure:"path"              toml:"path"`
	ContextWindow   int    `mapstructure:"context_window"     toml:"context_window"`
	PrefillStepSize int    `mapstructure:"prefill_step_size"  toml:"prefill_step_size"`
	CompactEvery    int    `mapstructure:"compact_every"      toml:"compact_every"` // forward steps between memory-compaction hooks
}

// GenerationConfig holds server-side defaults for sampling parameters,
// overlaid by per-request overrides in GenerationCoordinator.
type GenerationConfig struct {
	MaxTokens             int      `mapstructure:"max_tokens"              toml:"max_tokens"`
	Temperature           float64  `mapstructure:"temperature"             toml:"temperature"`
	TopP                  float64  `mapstructure:"top_p"                   toml:"top_p"`
	TopK                  int      `mapstructure:"top_k"                   toml:"top_k"`
	MinP                  float64  `mapstructure:"min_p"                   toml:"min_p"`
	RepetitionPenalty     float64  `mapstructure:"repetition_penalty"      toml:"repetition_penalty"`
	RepetitionContextSize int      `mapstructure:"repetition_context_size" toml:"repetition_context_size"`
	DefaultStop           []string `mapstructure:"default_stop"            toml:"default_stop"`
	ToolCallParser        string   `mapstructure:"tool_call_parser"        toml:"tool_call_parser"`
	FixToolArgs           bool     `mapstructure:"fix_tool_args"           toml:"fix_tool_args"`
	RawMode               bool     `mapstructure:"raw_mode"                toml:"raw_mode"`
}

// CacheConfig controls the prompt-prefix KV cache.
type CacheConfig struct {
	Enabled         bool  `mapstructure:"enabled"          toml:"enabled"`
	MaxTokens       int64 `mapstructure:"max_tokens"       toml:"max_tokens"`
	TTLSeconds      int   `mapstructure:"ttl_seconds"      toml:"ttl_seconds"`
	GenerationSlots int64 `mapstructure:"generation_slots" toml:"generation_slots"`
}

// RateLimitConfig controls optional per-client request rate limiting.
type RateLimitConfig struct {
	Enabled      bool    `mapstructure:"enabled"       toml:"enabled"`
	DefaultRate  float64 `mapstructure:"default_rate"  toml:"default_rate"` // requests per second
	DefaultBurst int     `mapstructure:"default_burst" toml:"default_burst"`
}

// TracingConfig controls OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"      toml:"enabled"`
	Exporter    string  `mapstructure:"exporter"     toml:"exporter"`     // "stdout", "otlp-grpc", "otlp-http"
	Endpoint    string  `mapstructure:"endpoint"     toml:"endpoint"`     // e.g. "localhost:4317"
	ServiceName string  `mapstructure:"service_name" toml:"service_name"` // defaults to "mlxd"
	SampleRate  float64 `mapstructure:"sample_rate"  toml:"sample_rate"`  // 0.0 to 1.0
	Insecure    bool    `mapstructure:"insecure"     toml:"insecure"`     // skip TLS for dev
}

// MetricsConfig controls metrics retention and the dashboard API cache.
type MetricsConfig struct {
	RetentionDays   int `mapstructure:"retention_days"    toml:"retention_days"`
	CacheTTLSeconds int `mapstructure:"cache_ttl_seconds" toml:"cache_ttl_seconds"`
}

// RequestTimeoutDuration returns the per-request wall-clock timeout.
func (s ServerConfig) RequestTimeoutDuration() time.Duration {
	if s.RequestTimeout <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(s.RequestTimeout) * time.Second
}

// Load reads configuration from disk with the following precedence:
//  1. Environment variables (MLXD_ prefix, _ as separator)
//  2. The file at explicitPath if non-empty
//  3. ~/.mlxd/mlxd.toml
//  4. ./mlxd.toml
//  5. Built-in defaults
//
// The loaded config is validated and stored in the global atomic pointer.
func Load(explicitPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")

	// Set all defaults from the default config so viper knows every key.
	setViperDefaults(v)

	// Environment variable overlay: MLXD_SERVER_PORT etc.
	v.SetEnvPrefix("MLXD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Determine which file(s) to read.
	if explicitPath != "" {
		v.SetConfigFile(explicitPath)
	} else {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(homeDir, ".mlxd"))
		}
		v.AddConfigPath(".")
		v.SetConfigName("mlxd")
	}

	if err := v.ReadInConfig(); err != nil {
		// If no config file exists we still proceed with defaults + env.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	// Store the resolved config file path.
	if cf := v.ConfigFileUsed(); cf != "" {
		loadedConfigFile.Store(cf)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	)); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	// Expand ~ in data/model-cache dirs.
	cfg.Server.DataDir = expandHome(cfg.Server.DataDir)
	cfg.Server.ModelCacheDir = expandHome(cfg.Server.ModelCacheDir)

	if override := os.Getenv("MLXD_MODEL_CACHE_DIR"); override != "" {
		cfg.Server.ModelCacheDir = expandHome(override)
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	set(cfg)
	return cfg, nil
}

// InitConfig writes the default configuration file to ~/.mlxd/mlxd.toml.
// If the file already exists it is not overwritten.
func InitConfig() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("determining home directory: %w", err)
	}

	dir := filepath.Join(homeDir, ".mlxd")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	path := filepath.Join(dir, DefaultConfigFilename)
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("Config already exists: %s\n", path)
		return nil
	}

	cfg := DefaultConfig()
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshalling default config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	fmt.Printf("Config written to %s\n", path)
	return nil
}

// ExportConfig writes the current config to the given path in TOML format.
func ExportConfig(path string) error {
	cfg := Get()
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// ImportConfig reads a TOML config file and merges it into the current config.
// The imported config is also persisted to the active config file so changes
// survive restarts.
func ImportConfig(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	cfg := DefaultConfig()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}
	if err := validate(cfg); err != nil {
		return err
	}
	set(cfg)

	// Persist to the active config file so changes survive restart.
	if dest := ConfigFilePath(); dest != "" {
		out, err := toml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("marshalling config for persistence: %w", err)
		}
		if err := os.WriteFile(dest, out, 0o600); err != nil {
			return fmt.Errorf("persisting imported config: %w", err)
		}
	}

	return nil
}

// ConfigFilePath returns the path of the config file that was loaded, or
// empty if no file was found.
func ConfigFilePath() string {
	if v, ok := loadedConfigFile.Load().(string); ok {
		return v
	}
	return ""
}

// setViperDefaults registers every known key with viper so that env var binding
// works for all fields even when no config file is present.
func setViperDefaults(v *viper.Viper) {
	d := DefaultConfig()

	// Server
	v.SetDefault("server.bind_address", d.Server.BindAddress)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.log_level", d.Server.LogLevel)
	v.SetDefault("server.data_dir", d.Server.DataDir)
	v.SetDefault("server.model_cache_dir", d.Server.ModelCacheDir)
	v.SetDefault("server.tls_enabled", d.Server.TLSEnabled)
	v.SetDefault("server.cert_file", d.Server.CertFile)
	v.SetDefault("server.key_file", d.Server.KeyFile)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.idle_timeout", d.Server.IdleTimeout)
	v.SetDefault("server.max_body_size", d.Server.MaxBodySize)
	v.SetDefault("server.request_timeout", d.Server.RequestTimeout)
	v.SetDefault("server.max_queue_depth", d.Server.MaxQueueDepth)
	v.SetDefault("server.allowed_origins", d.Server.AllowedOrigins)

	// Auth
	v.SetDefault("auth.enabled", d.Auth.Enabled)
	v.SetDefault("auth.token", d.Auth.Token)

	// Model
	v.SetDefault("model.id", d.Model.ID)
	v.SetDefault("model.path", d.Model.Path)
	v.SetDefault("model.context_window", d.Model.ContextWindow)
	v.SetDefault("model.prefill_step_size", d.Model.PrefillStepSize)
	v.SetDefault("model.compact_every", d.Model.CompactEvery)

	// Generation
	v.SetDefault("generation.max_tokens", d.Generation.MaxTokens)
	v.SetDefault("generation.temperature", d.Generation.Temperature)
	v.SetDefault("generation.top_p", d.Generation.TopP)
	v.SetDefault("generation.top_k", d.Generation.TopK)
	v.SetDefault("generation.min_p", d.Generation.MinP)
	v.SetDefault("generation.repetition_penalty", d.Generation.RepetitionPenalty)
	v.SetDefault("generation.repetition_context_size", d.Generation.RepetitionContextSize)
	v.SetDefault("generation.default_stop", d.Generation.DefaultStop)
	v.SetDefault("generation.tool_call_parser", d.Generation.ToolCallParser)
	v.SetDefault("generation.fix_tool_args", d.Generation.FixToolArgs)
	v.SetDefault("generation.raw_mode", d.Generation.RawMode)

	// Cache
	v.SetDefault("cache.enabled", d.Cache.Enabled)
	v.SetDefault("cache.max_tokens", d.Cache.MaxTokens)
	v.SetDefault("cache.ttl_seconds", d.Cache.TTLSeconds)
	v.SetDefault("cache.generation_slots", d.Cache.GenerationSlots)

	// RateLimit
	v.SetDefault("rate_limit.enabled", d.RateLimit.Enabled)
	v.SetDefault("rate_limit.default_rate", d.RateLimit.DefaultRate)
	v.SetDefault("rate_limit.default_burst", d.RateLimit.DefaultBurst)

	// Tracing
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.endpoint", d.Tracing.Endpoint)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("tracing.insecure", d.Tracing.Insecure)

	// Metrics
	v.SetDefault("metrics.retention_days", d.Metrics.RetentionDays)
	v.SetDefault("metrics.cache_ttl_seconds", d.Metrics.CacheTTLSeconds)
}

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
