package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Writing.MaxMessages != 8 {
		t.Errorf("expected MaxMessages 8, got %d", cfg.Writing.MaxMessages)
	}
	if cfg.Writing.ConflictRetries != 2 {
		t.Errorf("expected ConflictRetries 2, got %d", cfg.Writing.ConflictRetries)
	}
	if cfg.Oracle.Timeout != 15*time.Second {
		t.Errorf("expected oracle timeout 15s, got %v", cfg.Oracle.Timeout)
	}
	if cfg.DB.Driver != "sqlite" {
		t.Errorf("expected sqlite driver, got %q", cfg.DB.Driver)
	}
	if cfg.DebugErrors {
		t.Error("DEBUG_ERRORS must default to false")
	}
	if cfg.RateLimit.SignInRequests != 10 {
		t.Errorf("expected 10 sign-in requests per window, got %d", cfg.RateLimit.SignInRequests)
	}
	if cfg.OracleConfigured() {
		t.Error("oracle should be unconfigured without an API key")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("MAX_MESSAGES", "4")
	t.Setenv("ORACLE_TIMEOUT", "3s")
	t.Setenv("IMPROVEMENT_ENABLED", "off")
	t.Setenv("CORS_ORIGINS", "http://a.test, http://b.test,")
	t.Setenv("ORACLE_BASE_URL", "http://oracle.test/v1/")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Writing.MaxMessages != 4 {
		t.Errorf("expected MaxMessages 4, got %d", cfg.Writing.MaxMessages)
	}
	if cfg.Oracle.Timeout != 3*time.Second {
		t.Errorf("expected 3s, got %v", cfg.Oracle.Timeout)
	}
	if cfg.Writing.ImprovementEnabled {
		t.Error("expected improvement disabled")
	}
	if len(cfg.CORSOrigins) != 2 {
		t.Errorf("expected 2 CORS origins, got %v", cfg.CORSOrigins)
	}
	if cfg.Oracle.BaseURL != "http://oracle.test/v1" {
		t.Errorf("expected trailing slash trimmed, got %q", cfg.Oracle.BaseURL)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"threshold too small", map[string]string{"MAX_MESSAGES": "1"}},
		{"negative retries", map[string]string{"CONFLICT_RETRIES": "-1"}},
		{"postgres without url", map[string]string{"DB_DRIVER": "postgres"}},
		{"unknown driver", map[string]string{"DB_DRIVER": "mysql"}},
		{"zero rate limit", map[string]string{"RATE_LIMIT_REQUESTS": "0"}},
		{"zero sign-in limit", map[string]string{"RATE_LIMIT_SIGNIN_REQUESTS": "0"}},
		{"reminder interval too short", map[string]string{"REMINDER_INTERVAL": "30s"}},
		{"reminder interval too long", map[string]string{"REMINDER_INTERVAL": "2h"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
