package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Credential backends
const (
	CredentialBackendFile    = "file"
	CredentialBackendKeyring = "keyring"
)

type Config struct {
	DatabaseURL string

	GoogleCredentialsFile string
	GoogleTokenFile       string
	CredentialBackend     string
	KeyringDir            string
	KeyringPassword       string

	OpenRouterAPIKey string
	OpenRouterModel  string
	AICostPerToken   float64
	AICallInterval   time.Duration

	GmailMaxEmails      int
	FetchHoursBack      int
	ProcessUnreadOnly   bool
	ProcessStarred      bool
	MarkAsRead          bool
	DefaultTaskListName string
	NotifyEmail         string

	// EmailProcessingSchedule and SummarySchedule are cron specs built
	// from the H:MM settings.
	EmailProcessingSchedule string
	SummarySchedule         string
	Location                *time.Location
	ManualTriggerDelay      time.Duration

	MaxRetries     int
	RetryBaseDelay time.Duration
	WorkerCount    int

	EmailRetentionDays int
	LogRetentionDays   int

	HTTPAddr        string
	ShutdownTimeout int // seconds
	LogLevel        log.Level
}

func defaults(v *viper.Viper) {
	v.SetDefault("DATABASE_URL", "sqlite://data/inbox-agent.db")
	v.SetDefault("GOOGLE_CREDENTIALS_FILE", "credentials.json")
	v.SetDefault("GOOGLE_TOKEN_FILE", "token.json")
	v.SetDefault("CREDENTIAL_BACKEND", CredentialBackendFile)
	v.SetDefault("KEYRING_DIR", "data/keyring")
	v.SetDefault("KEYRING_PASSWORD", "")
	v.SetDefault("OPENROUTER_API_KEY", "")
	v.SetDefault("OPENROUTER_MODEL", "")
	v.SetDefault("AI_COST_PER_TOKEN", 0.00003)
	v.SetDefault("AI_CALL_INTERVAL", "1s")
	v.SetDefault("GMAIL_MAX_EMAILS", 50)
	v.SetDefault("FETCH_HOURS_BACK", 24)
	v.SetDefault("PROCESS_UNREAD_ONLY", true)
	v.SetDefault("PROCESS_STARRED_EMAILS", true)
	v.SetDefault("MARK_AS_READ", false)
	v.SetDefault("DEFAULT_TASK_LIST_NAME", "My Tasks")
	v.SetDefault("NOTIFY_EMAIL", "")
	v.SetDefault("EMAIL_PROCESSING_SCHEDULE", "8:00")
	v.SetDefault("SUMMARY_SCHEDULE", "18:00")
	v.SetDefault("TIMEZONE", "Local")
	v.SetDefault("MANUAL_TRIGGER_DELAY", "5s")
	v.SetDefault("MAX_RETRIES", 3)
	v.SetDefault("RETRY_BASE_DELAY", "1s")
	v.SetDefault("WORKER_COUNT", 3)
	v.SetDefault("EMAIL_RETENTION_DAYS", 90)
	v.SetDefault("LOG_RETENTION_DAYS", 30)
	v.SetDefault("HTTP_ADDR", ":8000")
	v.SetDefault("SHUTDOWN_TIMEOUT", 30)
	v.SetDefault("LOG_LEVEL", "info")
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists (ignore error in production)
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	defaults(v)

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		DatabaseURL:           v.GetString("DATABASE_URL"),
		GoogleCredentialsFile: v.GetString("GOOGLE_CREDENTIALS_FILE"),
		GoogleTokenFile:       v.GetString("GOOGLE_TOKEN_FILE"),
		CredentialBackend:     strings.ToLower(v.GetString("CREDENTIAL_BACKEND")),
		KeyringDir:            v.GetString("KEYRING_DIR"),
		KeyringPassword:       v.GetString("KEYRING_PASSWORD"),
		OpenRouterAPIKey:      v.GetString("OPENROUTER_API_KEY"),
		OpenRouterModel:       v.GetString("OPENROUTER_MODEL"),
		AICostPerToken:        v.GetFloat64("AI_COST_PER_TOKEN"),
		GmailMaxEmails:        v.GetInt("GMAIL_MAX_EMAILS"),
		FetchHoursBack:        v.GetInt("FETCH_HOURS_BACK"),
		ProcessUnreadOnly:     v.GetBool("PROCESS_UNREAD_ONLY"),
		ProcessStarred:        v.GetBool("PROCESS_STARRED_EMAILS"),
		MarkAsRead:            v.GetBool("MARK_AS_READ"),
		DefaultTaskListName:   v.GetString("DEFAULT_TASK_LIST_NAME"),
		NotifyEmail:           v.GetString("NOTIFY_EMAIL"),
		MaxRetries:            v.GetInt("MAX_RETRIES"),
		WorkerCount:           v.GetInt("WORKER_COUNT"),
		EmailRetentionDays:    v.GetInt("EMAIL_RETENTION_DAYS"),
		LogRetentionDays:      v.GetInt("LOG_RETENTION_DAYS"),
		HTTPAddr:              v.GetString("HTTP_ADDR"),
		ShutdownTimeout:       v.GetInt("SHUTDOWN_TIMEOUT"),
	}

	var errs []error
	if cfg.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}

	switch cfg.CredentialBackend {
	case CredentialBackendFile, CredentialBackendKeyring:
	default:
		errs = append(errs, fmt.Errorf("CREDENTIAL_BACKEND must be %q or %q, got %q", CredentialBackendFile, CredentialBackendKeyring, cfg.CredentialBackend))
	}

	var err error
	if cfg.EmailProcessingSchedule, err = DailySpec(v.GetString("EMAIL_PROCESSING_SCHEDULE")); err != nil {
		errs = append(errs, fmt.Errorf("EMAIL_PROCESSING_SCHEDULE: %w", err))
	}
	if cfg.SummarySchedule, err = DailySpec(v.GetString("SUMMARY_SCHEDULE")); err != nil {
		errs = append(errs, fmt.Errorf("SUMMARY_SCHEDULE: %w", err))
	}
	if cfg.Location, err = time.LoadLocation(v.GetString("TIMEZONE")); err != nil {
		errs = append(errs, fmt.Errorf("TIMEZONE: %w", err))
	}
	if cfg.LogLevel, err = log.ParseLevel(v.GetString("LOG_LEVEL")); err != nil {
		errs = append(errs, fmt.Errorf("LOG_LEVEL: %w", err))
	}

	for key, dst := range map[string]*time.Duration{
		"AI_CALL_INTERVAL":     &cfg.AICallInterval,
		"MANUAL_TRIGGER_DELAY": &cfg.ManualTriggerDelay,
		"RETRY_BASE_DELAY":     &cfg.RetryBaseDelay,
	} {
		d, err := time.ParseDuration(v.GetString(key))
		if err != nil || d < 0 {
			errs = append(errs, fmt.Errorf("%s must be a non-negative duration, got %q", key, v.GetString(key)))
			continue
		}
		*dst = d
	}

	for key, n := range map[string]int{
		"GMAIL_MAX_EMAILS":     cfg.GmailMaxEmails,
		"FETCH_HOURS_BACK":     cfg.FetchHoursBack,
		"MAX_RETRIES":          cfg.MaxRetries,
		"WORKER_COUNT":         cfg.WorkerCount,
		"EMAIL_RETENTION_DAYS": cfg.EmailRetentionDays,
		"LOG_RETENTION_DAYS":   cfg.LogRetentionDays,
		"SHUTDOWN_TIMEOUT":     cfg.ShutdownTimeout,
	} {
		if n <= 0 {
			errs = append(errs, fmt.Errorf("%s must be a positive integer, got %q", key, v.GetString(key)))
		}
	}
	if cfg.AICostPerToken < 0 {
		errs = append(errs, fmt.Errorf("AI_COST_PER_TOKEN must not be negative"))
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DailySpec turns an "H:MM" time of day into a daily cron spec
func DailySpec(hhmm string) (string, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(hhmm), ":")
	if !ok {
		return "", fmt.Errorf("expected H:MM, got %q", hhmm)
	}
	hour, err := strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return "", fmt.Errorf("invalid hour in %q", hhmm)
	}
	minute, err := strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 || len(m) != 2 {
		return "", fmt.Errorf("invalid minute in %q", hhmm)
	}
	return fmt.Sprintf("%d %d * * *", minute, hour), nil
}

// HasAI reports whether an OpenRouter key is configured
func (c *Config) HasAI() bool {
	return c.OpenRouterAPIKey != ""
}
