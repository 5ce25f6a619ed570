package config

import (
	"strings"
	"testing"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Server.DataDir = "/tmp/test"
	return cfg
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := validConfig()
	if err := validate(cfg); err != nil {
		t.Fatalf("validate valid config: %v", err)
	}
}

func TestValidate_BadPort(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Port = 70000

	err := validate(cfg)
	if err == nil {
		t.Fatal("expected error for port 70000")
	}
	if !strings.Contains(err.Error(), "server.port") {
		t.Errorf("error should mention server.port: %v", err)
	}
}

func TestValidate_BadLogLevel(t *testing.T) {
	cfg := validConfig()
	cfg.Server.LogLevel = "verbose"

	err := validate(cfg)
	if err == nil {
		t.Fatal("expected error for invalid log level")
	}
	if !strings.Contains(err.Error(), "log_level") {
		t.Errorf("error should mention log_level: %v", err)
	}
}

func TestValidate_EmptyDataDir(t *testing.T) {
	cfg := validConfig()
	cfg.Server.DataDir = ""

	err := validate(cfg)
	if err == nil {
		t.Fatal("expected error for empty data_dir")
	}
}

func TestValidate_TLS_MissingCert(t *testing.T) {
	cfg := validConfig()
	cfg.Server.TLSEnabled = true
	cfg.Server.CertFile = ""
	cfg.Server.KeyFile = "/path/to/key.pem"

	err := validate(cfg)
	if err == nil {
		t.Fatal("expected error for missing cert_file")
	}
	if !strings.Contains(err.Error(), "cert_file") {
		t.Errorf("error should mention cert_file: %v", err)
	}
}

func TestValidate_TLS_MissingKey(t *testing.T) {
	cfg := validConfig()
	cfg.Server.TLSEnabled = true
	cfg.Server.CertFile = "/path/to/cert.pem"
	cfg.Server.KeyFile = ""

	err := validate(cfg)
	if err == nil {
		t.Fatal("expected error for missing key_file")
	}
}

func TestValidate_NegativeReadTimeout(t *testing.T) {
	cfg := validConfig()
	cfg.Server.ReadTimeout = -1

	err := validate(cfg)
	if err == nil {
		t.Fatal("expected error for negative read_timeout")
	}
}

func TestValidate_NegativeMaxQueueDepth(t *testing.T) {
	cfg := validConfig()
	cfg.Server.MaxQueueDepth = -1

	err := validate(cfg)
	if err == nil {
		t.Fatal("expected error for negative max_queue_depth")
	}
}

func TestValidate_AuthTokenRequired(t *testing.T) {
	cfg := validConfig()
	cfg.Auth.Enabled = true
	cfg.Auth.Token = ""

	err := validate(cfg)
	if err == nil {
		t.Fatal("expected error for enabled auth with no token")
	}
}

func TestValidate_EmptyModelID(t *testing.T) {
	cfg := validConfig()
	cfg.Model.ID = "  "

	err := validate(cfg)
	if err == nil {
		t.Fatal("expected error for empty model.id")
	}
}

func TestValidate_BadContextWindow(t *testing.T) {
	cfg := validConfig()
	cfg.Model.ContextWindow = 0

	err := validate(cfg)
	if err == nil {
		t.Fatal("expected error for zero context_window")
	}
}

func TestValidate_BadMaxTokens(t *testing.T) {
	cfg := validConfig()
	cfg.Generation.MaxTokens = 0

	err := validate(cfg)
	if err == nil {
		t.Fatal("expected error for zero max_tokens")
	}
}

func TestValidate_NegativeTemperature(t *testing.T) {
	cfg := validConfig()
	cfg.Generation.Temperature = -1

	err := validate(cfg)
	if err == nil {
		t.Fatal("expected error for negative temperature")
	}
}

func TestValidate_TopPOutOfRange(t *testing.T) {
	cfg := validConfig()
	cfg.Generation.TopP = 1.5

	err := validate(cfg)
	if err == nil {
		t.Fatal("expected error for top_p > 1")
	}
}

func TestValidate_MinPOutOfRange(t *testing.T) {
	cfg := validConfig()
	cfg.Generation.MinP = 1.0

	err := validate(cfg)
	if err == nil {
		t.Fatal("expected error for min_p >= 1")
	}
}

func TestValidate_BadToolCallParser(t *testing.T) {
	cfg := validConfig()
	cfg.Generation.ToolCallParser = "nonexistent"

	err := validate(cfg)
	if err == nil {
		t.Fatal("expected error for unknown tool_call_parser")
	}
}

func TestValidate_NegativeCacheMaxTokens(t *testing.T) {
	cfg := validConfig()
	cfg.Cache.MaxTokens = -1

	err := validate(cfg)
	if err == nil {
		t.Fatal("expected error for negative cache.max_tokens")
	}
}

func TestValidate_ZeroGenerationSlots(t *testing.T) {
	cfg := validConfig()
	cfg.Cache.GenerationSlots = 0

	err := validate(cfg)
	if err == nil {
		t.Fatal("expected error for cache.generation_slots = 0")
	}
}

func TestValidate_RateLimitBadRate(t *testing.T) {
	cfg := validConfig()
	cfg.RateLimit.Enabled = true
	cfg.RateLimit.DefaultRate = 0

	err := validate(cfg)
	if err == nil {
		t.Fatal("expected error for zero default_rate when rate limiting is enabled")
	}
}

func TestValidate_MetricsRetentionZero(t *testing.T) {
	cfg := validConfig()
	cfg.Metrics.RetentionDays = 0

	err := validate(cfg)
	if err == nil {
		t.Fatal("expected error for retention_days = 0")
	}
}

func TestValidate_NegativeCacheTTL(t *testing.T) {
	cfg := validConfig()
	cfg.Metrics.CacheTTLSeconds = -1

	err := validate(cfg)
	if err == nil {
		t.Fatal("expected error for negative cache_ttl_seconds")
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Port = 0
	cfg.Server.LogLevel = "bad"

	err := validate(cfg)
	if err == nil {
		t.Fatal("expected multiple validation errors")
	}

	errStr := err.Error()
	if !strings.Contains(errStr, "server.port") || !strings.Contains(errStr, "log_level") {
		t.Errorf("error should mention multiple fields: %v", err)
	}
}

func TestIsValidEnum(t *testing.T) {
	if !isValidEnum("INFO", ValidLogLevels) {
		t.Error("INFO should be valid (case-insensitive)")
	}
	if isValidEnum("verbose", ValidLogLevels) {
		t.Error("verbose should not be valid")
	}
}
