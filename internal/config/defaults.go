package config

// DefaultBindAddress is the default bind address (localhost only for security).
const DefaultBindAddress = "127.0.0.1"

// DefaultPort is the default port for the HTTP surface.
const DefaultPort = 7878

// DefaultLogLevel is the default log level.
const DefaultLogLevel = "info"

// DefaultDataDir is the default data directory (before tilde expansion).
const DefaultDataDir = "~/.mlxd"

// DefaultModelCacheDir is the default model weight cache directory (before
// tilde expansion), overridable via the MLXD_MODEL_CACHE_DIR env var.
const DefaultModelCacheDir = "~/.mlxd/models"

// DefaultConfigFilename is the name of the config file.
const DefaultConfigFilename = "mlxd.toml"

// DefaultContextWindow is the default model context window in tokens.
const DefaultContextWindow = 8192

// DefaultPrefillStepSize is the default chunk size for prefill windows.
const DefaultPrefillStepSize = 512

// DefaultCompactEvery is the default number of decode steps between
// memory-compaction hook invocations.
const DefaultCompactEvery = 256

// DefaultMaxTokens is the default max_tokens ceiling when a request omits it.
const DefaultMaxTokens = 2048

// DefaultTemperature is the default sampling temperature.
const DefaultTemperature = 1.0

// DefaultTopP is the default nucleus-sampling threshold (1 = disabled).
const DefaultTopP = 1.0

// DefaultRepetitionContextSize is the default sliding-window size for the
// repetition penalty.
const DefaultRepetitionContextSize = 64

// DefaultCacheMaxTokens is the default token budget for the prefix-KV cache.
const DefaultCacheMaxTokens int64 = 1 << 20

// DefaultCacheTTLSeconds is the default prefix-cache snapshot TTL.
const DefaultCacheTTLSeconds = 3600

// DefaultRetentionDays is the default metrics/request-log retention in days.
const DefaultRetentionDays = 30

// DefaultCacheTTL is the default dashboard-API cache TTL in seconds.
const DefaultCacheTTL = 300

// DefaultReadTimeout is the default HTTP server read timeout in seconds.
const DefaultReadTimeout = 10

// DefaultWriteTimeout is the default HTTP server write timeout in seconds.
// Set high (5 minutes) to accommodate streamed generations.
const DefaultWriteTimeout = 300

// DefaultIdleTimeout is the default HTTP server idle timeout in seconds.
const DefaultIdleTimeout = 120

// DefaultMaxBodySize is the default maximum request body size in bytes (10 MB).
const DefaultMaxBodySize = 10 << 20

// DefaultRequestTimeout is the default per-request wall-clock timeout in
// seconds.
const DefaultRequestTimeout = 300

// DefaultMaxQueueDepth is the default maximum number of requests allowed to
// queue for the single generation slot before 503s are returned.
const DefaultMaxQueueDepth = 64

// DefaultTracingExporter is the default tracing exporter type.
const DefaultTracingExporter = "stdout"

// DefaultTracingEndpoint is the default OTLP collector endpoint.
const DefaultTracingEndpoint = "localhost:4317"

// DefaultTracingServiceName is the default service name for traces.
const DefaultTracingServiceName = "mlxd"

// DefaultTracingSampleRate is the default sampling rate (1.0 = 100%).
const DefaultTracingSampleRate = 1.0

// ValidLogLevels lists the allowed log level values.
var ValidLogLevels = []string{"trace", "debug", "info", "warn", "error", "fatal"}

// ValidToolCallParsers lists the allowed tool-call-parser selector values.
var ValidToolCallParsers = []string{"", "json", "hermes", "llama3_json", "qwen3_xml", "mistral", "gemma"}

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			BindAddress:    DefaultBindAddress,
			Port:           DefaultPort,
			LogLevel:       DefaultLogLevel,
			DataDir:        DefaultDataDir,
			ModelCacheDir:  DefaultModelCacheDir,
			TLSEnabled:     false,
			CertFile:       "",
			KeyFile:        "",
			ReadTimeout:    DefaultReadTimeout,
			WriteTimeout:   DefaultWriteTimeout,
			IdleTimeout:    DefaultIdleTimeout,
			MaxBodySize:    DefaultMaxBodySize,
			RequestTimeout: DefaultRequestTimeout,
			MaxQueueDepth:  DefaultMaxQueueDepth,
			AllowedOrigins: []string{"*"},
		},
		Auth: AuthConfig{
			Enabled: false,
			Token:   "",
		},
		Model: ModelConfig{
			ID:              "local-model",
			Path:            "",
			ContextWindow:   DefaultContextWindow,
			PrefillStepSize: DefaultPrefillStepSize,
			CompactEvery:    DefaultCompactEvery,
		},
		Generation: GenerationConfig{
			MaxTokens:             DefaultMaxTokens,
			Temperature:           DefaultTemperature,
			TopP:                  DefaultTopP,
			TopK:                  0,
			MinP:                  0,
			RepetitionPenalty:     1.0,
			RepetitionContextSize: DefaultRepetitionContextSize,
			DefaultStop:           []string{},
			ToolCallParser:        "",
			FixToolArgs:           false,
			RawMode:               false,
		},
		Cache: CacheConfig{
			Enabled:         true,
			MaxTokens:       DefaultCacheMaxTokens,
			TTLSeconds:      DefaultCacheTTLSeconds,
			GenerationSlots: 1,
		},
		RateLimit: RateLimitConfig{
			Enabled:      false,
			DefaultRate:  10.0,
			DefaultBurst: 20,
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Exporter:    DefaultTracingExporter,
			Endpoint:    DefaultTracingEndpoint,
			ServiceName: DefaultTracingServiceName,
			SampleRate:  DefaultTracingSampleRate,
			Insecure:    false,
		},
		Metrics: MetricsConfig{
			RetentionDays:   DefaultRetentionDays,
			CacheTTLSeconds: DefaultCacheTTL,
		},
	}
}
