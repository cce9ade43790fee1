// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	AppEnv      string
	CORSOrigins []string
	DebugErrors bool

	DB              DBConfig
	Writing         WritingConfig
	Oracle          OracleConfig
	Auth            AuthConfig
	RateLimit       RateLimitConfig
	Reminders       ReminderConfig
	ConversationLog ConversationLogConfig
	TracingStdout   bool
}

// DBConfig selects the ledger backend.
type DBConfig struct {
	Driver      string // "sqlite" or "postgres"
	Path        string
	DatabaseURL string
}

// WritingConfig tunes the writing session state machine.
type WritingConfig struct {
	MaxMessages        int
	ConflictRetries    int
	MaxSubmissionChars int
	HistoryPageSize    int
	ImprovementEnabled bool
}

// OracleConfig configures the grammar and question oracle.
type OracleConfig struct {
	BaseURL          string
	APIKey           string
	Model            string
	Timeout          time.Duration
	RetryBudget      int
	FeedbackLanguage string
}

// AuthConfig configures token issuance.
type AuthConfig struct {
	JWTSecret string
	TokenTTL  time.Duration
}

// RateLimitConfig limits check submissions per user and sign-in attempts
// per client IP.
type RateLimitConfig struct {
	Requests       int
	SignInRequests int
	Window         time.Duration
	RedisAddr      string
}

// ReminderConfig controls the practice reminder job.
type ReminderConfig struct {
	Enabled  bool
	Interval time.Duration
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		AppEnv:      getEnv("APP_ENV", "development"),
		CORSOrigins: splitList(getEnv("CORS_ORIGINS", "")),
		DebugErrors: getEnvBool("DEBUG_ERRORS", false),
		DB: DBConfig{
			Driver:      strings.ToLower(getEnv("DB_DRIVER", "sqlite")),
			Path:        getEnv("DB_PATH", "./data/penpal.db"),
			DatabaseURL: getEnv("DATABASE_URL", ""),
		},
		Writing: WritingConfig{
			MaxMessages:        getEnvInt("MAX_MESSAGES", 8),
			ConflictRetries:    getEnvInt("CONFLICT_RETRIES", 2),
			MaxSubmissionChars: getEnvInt("MAX_SUBMISSION_CHARS", 2000),
			HistoryPageSize:    getEnvInt("HISTORY_PAGE_SIZE", 50),
			ImprovementEnabled: getEnvBool("IMPROVEMENT_ENABLED", true),
		},
		Oracle: OracleConfig{
			BaseURL:          strings.TrimRight(getEnv("ORACLE_BASE_URL", "https://api.openai.com/v1"), "/"),
			APIKey:           getEnv("ORACLE_API_KEY", ""),
			Model:            getEnv("ORACLE_MODEL", "gpt-4o-mini"),
			Timeout:          getEnvDuration("ORACLE_TIMEOUT", 15*time.Second),
			RetryBudget:      getEnvInt("ORACLE_RETRY_BUDGET", 1),
			FeedbackLanguage: getEnv("ORACLE_FEEDBACK_LANGUAGE", "Vietnamese"),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("AUTH_JWT_SECRET", ""),
			TokenTTL:  getEnvDuration("AUTH_TOKEN_TTL", 7*24*time.Hour),
		},
		RateLimit: RateLimitConfig{
			Requests:       getEnvInt("RATE_LIMIT_REQUESTS", 30),
			SignInRequests: getEnvInt("RATE_LIMIT_SIGNIN_REQUESTS", 10),
			Window:         getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
			RedisAddr:      getEnv("REDIS_ADDR", ""),
		},
		Reminders: ReminderConfig{
			Enabled:  getEnvBool("REMINDERS_ENABLED", true),
			Interval: getEnvDuration("REMINDER_INTERVAL", time.Minute),
		},
		ConversationLog: ConversationLogConfig{
			Enabled:       getEnvBool("CONVERSATION_LOG_ENABLED", true),
			Dir:           getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			GlobalEnabled: getEnvBool("CONVERSATION_LOG_GLOBAL_ENABLED", false),
			GlobalPath:    getEnv("CONVERSATION_LOG_GLOBAL_PATH", "./data/logs/conversations/all.ndjson"),
			QueueSize:     queueSize,
		},
		TracingStdout: getEnvBool("TRACING_STDOUT", false),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	switch c.DB.Driver {
	case "sqlite":
		if c.DB.Path == "" {
			return fmt.Errorf("DB_PATH cannot be empty")
		}
	case "postgres":
		if c.DB.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when DB_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("DB_DRIVER must be sqlite or postgres, got %q", c.DB.Driver)
	}
	if c.Writing.MaxMessages < 2 {
		return fmt.Errorf("MAX_MESSAGES must be >= 2")
	}
	if c.Writing.ConflictRetries < 0 {
		return fmt.Errorf("CONFLICT_RETRIES must be >= 0")
	}
	if c.Writing.MaxSubmissionChars <= 0 {
		return fmt.Errorf("MAX_SUBMISSION_CHARS must be > 0")
	}
	if c.Writing.HistoryPageSize <= 0 {
		return fmt.Errorf("HISTORY_PAGE_SIZE must be > 0")
	}
	if c.Oracle.Timeout <= 0 {
		return fmt.Errorf("ORACLE_TIMEOUT must be > 0")
	}
	if c.Oracle.RetryBudget < 0 {
		return fmt.Errorf("ORACLE_RETRY_BUDGET must be >= 0")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("AUTH_TOKEN_TTL must be > 0")
	}
	if c.RateLimit.Requests <= 0 || c.RateLimit.Window <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be > 0")
	}
	if c.RateLimit.SignInRequests <= 0 {
		return fmt.Errorf("RATE_LIMIT_SIGNIN_REQUESTS must be > 0")
	}
	if c.Reminders.Enabled && (c.Reminders.Interval < time.Minute || c.Reminders.Interval > time.Hour) {
		return fmt.Errorf("REMINDER_INTERVAL must be between 1m and 1h")
	}
	if c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.GlobalPath == "" {
		return fmt.Errorf("CONVERSATION_LOG_GLOBAL_PATH cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return fmt.Errorf("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	if c.AppEnv == "production" {
		return false
	}
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// OracleConfigured reports whether an oracle API key is present.
func (c *Config) OracleConfigured() bool {
	return c.Oracle.APIKey != ""
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
