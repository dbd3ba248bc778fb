package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the counseling engine.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	MetricsNamespace         string

	AllowAnyOrigin bool

	LogLevel  string
	LogFormat string

	StoreDriver string
	DatabaseURL string
	SQLitePath  string

	GenerationMode       string
	GenerationHTTPURL    string
	GenerationHTTPStrict bool
	AnthropicAPIKey      string
	AnthropicModel       string
	GenerationMaxTokens  int
	GenerationTimeout    time.Duration

	ContextBudgetChars  int
	ContextMemoryLimit  int
	ContextPatternLimit int
	ContextItemLimit    int
	HistoryLimit        int

	InsightRulesPath      string
	RiskQuestionnairePath string

	EscalateModerate         bool
	EscalationChannelTimeout time.Duration
	EscalationCeiling        time.Duration
	EscalationMaxAttempts    int

	SMSBridgeURL   string
	SMSBridgeUsers string

	MatrixHomeserver  string
	MatrixUserID      string
	MatrixAccessToken string
	MatrixRoomID      string
	MatrixUsers       string

	SMTPAddr     string
	SMTPFrom     string
	SMTPTo       []string
	SMTPUsername string
	SMTPPassword string
	EmailUsers   string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "solace"),
		AllowAnyOrigin:   false,
		LogLevel:         strings.ToLower(envOrDefault("LOG_LEVEL", "info")),
		LogFormat:        strings.ToLower(envOrDefault("LOG_FORMAT", "json")),
		StoreDriver:      strings.ToLower(envOrDefault("STORE_DRIVER", "auto")),
		DatabaseURL:      stringsTrimSpace("DATABASE_URL"),
		SQLitePath:       envOrDefault("SQLITE_PATH", "data/solace.db"),
		GenerationMode:   strings.ToLower(envOrDefault("GENERATION_MODE", "auto")),
		// No default endpoint: an unset URL keeps auto mode off the HTTP adapter.
		GenerationHTTPURL:        stringsTrimSpace("GENERATION_HTTP_URL"),
		AnthropicAPIKey:          stringsTrimSpace("ANTHROPIC_API_KEY"),
		AnthropicModel:           envOrDefault("ANTHROPIC_MODEL", "claude-sonnet-4-5"),
		GenerationMaxTokens:      1024,
		GenerationTimeout:        30 * time.Second,
		ContextBudgetChars:       6000,
		ContextMemoryLimit:       5,
		ContextPatternLimit:      3,
		ContextItemLimit:         5,
		HistoryLimit:             12,
		InsightRulesPath:         stringsTrimSpace("INSIGHT_RULES_PATH"),
		RiskQuestionnairePath:    stringsTrimSpace("RISK_QUESTIONNAIRE_PATH"),
		EscalationChannelTimeout: 10 * time.Second,
		EscalationCeiling:        30 * time.Second,
		EscalationMaxAttempts:    3,
		SMSBridgeURL:             stringsTrimSpace("SMS_BRIDGE_URL"),
		SMSBridgeUsers:           envOrDefault("SMS_BRIDGE_USERS", "*"),
		MatrixHomeserver:         stringsTrimSpace("MATRIX_HOMESERVER"),
		MatrixUserID:             stringsTrimSpace("MATRIX_USER_ID"),
		MatrixAccessToken:        stringsTrimSpace("MATRIX_ACCESS_TOKEN"),
		MatrixRoomID:             stringsTrimSpace("MATRIX_ROOM_ID"),
		MatrixUsers:              envOrDefault("MATRIX_USERS", "*"),
		SMTPAddr:                 stringsTrimSpace("SMTP_ADDR"),
		SMTPFrom:                 stringsTrimSpace("SMTP_FROM"),
		SMTPTo:                   listFromEnv("SMTP_TO"),
		SMTPUsername:             stringsTrimSpace("SMTP_USERNAME"),
		SMTPPassword:             os.Getenv("SMTP_PASSWORD"),
		EmailUsers:               envOrDefault("EMAIL_USERS", "*"),
		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 30 * time.Minute,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.GenerationHTTPStrict, err = boolFromEnv("GENERATION_HTTP_STREAM_STRICT", cfg.GenerationHTTPStrict)
	if err != nil {
		return Config{}, err
	}
	cfg.GenerationMaxTokens, err = intFromEnv("GENERATION_MAX_TOKENS", cfg.GenerationMaxTokens)
	if err != nil {
		return Config{}, err
	}
	cfg.GenerationTimeout, err = durationFromEnv("GENERATION_TIMEOUT", cfg.GenerationTimeout)
	if err != nil {
		return Config{}, err
	}
	for key, dst := range map[string]*int{
		"CONTEXT_BUDGET_CHARS":  &cfg.ContextBudgetChars,
		"CONTEXT_MEMORY_LIMIT":  &cfg.ContextMemoryLimit,
		"CONTEXT_PATTERN_LIMIT": &cfg.ContextPatternLimit,
		"CONTEXT_ITEM_LIMIT":    &cfg.ContextItemLimit,
		"HISTORY_LIMIT":         &cfg.HistoryLimit,
	} {
		*dst, err = intFromEnv(key, *dst)
		if err != nil {
			return Config{}, err
		}
	}
	cfg.EscalateModerate, err = boolFromEnv("ESCALATE_MODERATE", cfg.EscalateModerate)
	if err != nil {
		return Config{}, err
	}
	cfg.EscalationChannelTimeout, err = durationFromEnv("ESCALATION_CHANNEL_TIMEOUT", cfg.EscalationChannelTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.EscalationCeiling, err = durationFromEnv("ESCALATION_CEILING", cfg.EscalationCeiling)
	if err != nil {
		return Config{}, err
	}
	cfg.EscalationMaxAttempts, err = intFromEnv("ESCALATION_MAX_ATTEMPTS", cfg.EscalationMaxAttempts)
	if err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.SessionInactivityTimeout < 5*time.Second {
		return fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error")
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or console")
	}
	switch c.StoreDriver {
	case "auto", "memory", "postgres", "sqlite":
	default:
		return fmt.Errorf("STORE_DRIVER must be one of auto, memory, postgres, sqlite")
	}
	if c.StoreDriver == "postgres" && c.DatabaseURL == "" {
		return fmt.Errorf("STORE_DRIVER=postgres requires DATABASE_URL")
	}
	switch c.GenerationMode {
	case "auto", "mock", "http", "anthropic":
	default:
		return fmt.Errorf("GENERATION_MODE must be one of auto, mock, http, anthropic")
	}
	if c.GenerationMode == "http" && c.GenerationHTTPURL == "" {
		return fmt.Errorf("GENERATION_MODE=http requires GENERATION_HTTP_URL")
	}
	if c.GenerationMode == "anthropic" && c.AnthropicAPIKey == "" {
		return fmt.Errorf("GENERATION_MODE=anthropic requires ANTHROPIC_API_KEY")
	}
	if c.GenerationTimeout <= 0 {
		return fmt.Errorf("GENERATION_TIMEOUT must be positive")
	}
	if c.GenerationMaxTokens <= 0 {
		return fmt.Errorf("GENERATION_MAX_TOKENS must be positive")
	}
	if c.ContextBudgetChars < 200 {
		return fmt.Errorf("CONTEXT_BUDGET_CHARS must be at least 200")
	}
	if c.ContextMemoryLimit <= 0 || c.ContextPatternLimit <= 0 || c.ContextItemLimit <= 0 {
		return fmt.Errorf("CONTEXT_*_LIMIT values must be positive")
	}
	if c.HistoryLimit < 0 {
		return fmt.Errorf("HISTORY_LIMIT must be >= 0")
	}
	if c.EscalationChannelTimeout <= 0 || c.EscalationCeiling <= 0 {
		return fmt.Errorf("ESCALATION_CHANNEL_TIMEOUT and ESCALATION_CEILING must be positive")
	}
	if c.EscalationMaxAttempts <= 0 || c.EscalationMaxAttempts > 10 {
		return fmt.Errorf("ESCALATION_MAX_ATTEMPTS must be between 1 and 10")
	}
	if c.MatrixHomeserver != "" && (c.MatrixAccessToken == "" || c.MatrixRoomID == "") {
		return fmt.Errorf("MATRIX_HOMESERVER requires MATRIX_ACCESS_TOKEN and MATRIX_ROOM_ID")
	}
	if c.SMTPAddr != "" && (c.SMTPFrom == "" || len(c.SMTPTo) == 0) {
		return fmt.Errorf("SMTP_ADDR requires SMTP_FROM and SMTP_TO")
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func listFromEnv(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = trimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func stringsTrimSpace(key string) string {
	return trimSpace(os.Getenv(key))
}

func trimSpace(v string) string {
	for len(v) > 0 && (v[0] == ' ' || v[0] == '\n' || v[0] == '\t' || v[0] == '\r') {
		v = v[1:]
	}
	for len(v) > 0 {
		c := v[len(v)-1]
		if c == ' ' || c == '\n' || c == '\t' || c == '\r' {
			v = v[:len(v)-1]
			continue
		}
		break
	}
	return v
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
