package config

import (
	"fmt"
	"strings"
)

// validate checks the Config for invalid or out-of-range values.
// It returns a combined error if any checks fail.
func validate(cfg *Config) error {
	var errs []string

	// Server validation
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be between 1 and 65535, got %d", cfg.Server.Port))
	}
	if !isValidEnum(cfg.Server.LogLevel, ValidLogLevels) {
		errs = append(errs, fmt.Sprintf("server.log_level must be one of %v, got %q", ValidLogLevels, cfg.Server.LogLevel))
	}
	if cfg.Server.DataDir == "" {
		errs = append(errs, "server.data_dir must not be empty")
	}
	if cfg.Server.TLSEnabled {
		if cfg.Server.CertFile == "" {
			errs = append(errs, "server.cert_file must be set when tls_enabled is true")
		}
		if cfg.Server.KeyFile == "" {
			errs = append(errs, "server.key_file must be set when tls_enabled is true")
		}
	}
	if cfg.Server.ReadTimeout < 0 {
		errs = append(errs, fmt.Sprintf("server.read_timeout must be non-negative, got %d", cfg.Server.ReadTimeout))
	}
	if cfg.Server.WriteTimeout < 0 {
		errs = append(errs, fmt.Sprintf("server.write_timeout must be non-negative, got %d", cfg.Server.WriteTimeout))
	}
	if cfg.Server.IdleTimeout < 0 {
		errs = append(errs, fmt.Sprintf("server.idle_timeout must be non-negative, got %d", cfg.Server.IdleTimeout))
	}
	if cfg.Server.MaxBodySize < 0 {
		errs = append(errs, fmt.Sprintf("server.max_body_size must be non-negative, got %d", cfg.Server.MaxBodySize))
	}
	if cfg.Server.RequestTimeout < 0 {
		errs = append(errs, fmt.Sprintf("server.request_timeout must be non-negative, got %d", cfg.Server.RequestTimeout))
	}
	if cfg.Server.MaxQueueDepth < 0 {
		errs = append(errs, fmt.Sprintf("server.max_queue_depth must be non-negative, got %d", cfg.Server.MaxQueueDepth))
	}

	// Auth validation
	if cfg.Auth.Enabled && cfg.Auth.Token == "" {
		errs = append(errs, "auth.token must be set when auth.enabled is true")
	}

	// Model validation
	if strings.TrimSpace(cfg.Model.ID) == "" {
		errs = append(errs, "model.id must not be empty")
	}
	if cfg.Model.ContextWindow < 1 {
		errs = append(errs, fmt.Sprintf("model.context_window must be positive, got %d", cfg.Model.ContextWindow))
	}
	if cfg.Model.PrefillStepSize < 1 {
		errs = append(errs, fmt.Sprintf("model.prefill_step_size must be positive, got %d", cfg.Model.PrefillStepSize))
	}
	if cfg.Model.CompactEvery < 0 {
		errs = append(errs, fmt.Sprintf("model.compact_every must be non-negative, got %d", cfg.Model.CompactEvery))
	}

	// Generation validation: same ranges GenerationCoordinator enforces
	// per-request, checked here so a bad server default fails fast at
	// startup instead of silently clamping every request.
	if cfg.Generation.MaxTokens < 1 {
		errs = append(errs, fmt.Sprintf("generation.max_tokens must be positive, got %d", cfg.Generation.MaxTokens))
	}
	if cfg.Generation.Temperature < 0 {
		errs = append(errs, fmt.Sprintf("generation.temperature must be non-negative, got %f", cfg.Generation.Temperature))
	}
	if cfg.Generation.TopP <= 0 || cfg.Generation.TopP > 1 {
		errs = append(errs, fmt.Sprintf("generation.top_p must be in (0, 1], got %f", cfg.Generation.TopP))
	}
	if cfg.Generation.TopK < 0 {
		errs = append(errs, fmt.Sprintf("generation.top_k must be non-negative, got %d", cfg.Generation.TopK))
	}
	if cfg.Generation.MinP < 0 || cfg.Generation.MinP >= 1 {
		errs = append(errs, fmt.Sprintf("generation.min_p must be in [0, 1), got %f", cfg.Generation.MinP))
	}
	if cfg.Generation.RepetitionPenalty <= 0 {
		errs = append(errs, fmt.Sprintf("generation.repetition_penalty must be positive, got %f", cfg.Generation.RepetitionPenalty))
	}
	if cfg.Generation.RepetitionContextSize < 1 {
		errs = append(errs, fmt.Sprintf("generation.repetition_context_size must be positive, got %d", cfg.Generation.RepetitionContextSize))
	}
	if !isValidEnum(cfg.Generation.ToolCallParser, ValidToolCallParsers) {
		errs = append(errs, fmt.Sprintf("generation.tool_call_parser must be one of %v, got %q", ValidToolCallParsers, cfg.Generation.ToolCallParser))
	}

	// Cache validation
	if cfg.Cache.MaxTokens < 0 {
		errs = append(errs, fmt.Sprintf("cache.max_tokens must be non-negative, got %d", cfg.Cache.MaxTokens))
	}
	if cfg.Cache.TTLSeconds < 0 {
		errs = append(errs, fmt.Sprintf("cache.ttl_seconds must be non-negative, got %d", cfg.Cache.TTLSeconds))
	}
	if cfg.Cache.GenerationSlots < 1 {
		errs = append(errs, fmt.Sprintf("cache.generation_slots must be at least 1, got %d", cfg.Cache.GenerationSlots))
	}

	// RateLimit validation
	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.DefaultRate <= 0 {
			errs = append(errs, fmt.Sprintf("rate_limit.default_rate must be positive, got %f", cfg.RateLimit.DefaultRate))
		}
		if cfg.RateLimit.DefaultBurst < 1 {
			errs = append(errs, fmt.Sprintf("rate_limit.default_burst must be at least 1, got %d", cfg.RateLimit.DefaultBurst))
		}
	}

	// Tracing validation
	if cfg.Tracing.Enabled {
		validExporters := []string{"stdout", "otlp-grpc", "otlp-http"}
		if !isValidEnum(cfg.Tracing.Exporter, validExporters) {
			errs = append(errs, fmt.Sprintf("tracing.exporter must be one of %v, got %q", validExporters, cfg.Tracing.Exporter))
		}
		if cfg.Tracing.ServiceName == "" {
			errs = append(errs, "tracing.service_name must not be empty when tracing is enabled")
		}
	}
	if cfg.Tracing.SampleRate < 0 || cfg.Tracing.SampleRate > 1 {
		errs = append(errs, fmt.Sprintf("tracing.sample_rate must be between 0 and 1, got %f", cfg.Tracing.SampleRate))
	}

	// Metrics validation
	if cfg.Metrics.RetentionDays < 1 {
		errs = append(errs, fmt.Sprintf("metrics.retention_days must be at least 1, got %d", cfg.Metrics.RetentionDays))
	}
	if cfg.Metrics.CacheTTLSeconds < 0 {
		errs = append(errs, fmt.Sprintf("metrics.cache_ttl_seconds must be non-negative, got %d", cfg.Metrics.CacheTTLSeconds))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// isValidEnum returns true if val is in the allowed list (case-insensitive).
func isValidEnum(val string, allowed []string) bool {
	lower := strings.ToLower(val)
	for _, a := range allowed {
		if strings.ToLower(a) == lower {
			return true
		}
	}
	return false
}
