package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"alttext/internal/domain"
	"alttext/internal/infra/credentials"
)

const (
	DefaultReplicateBaseURL = "https://api.replicate.com/v1"
	// DefaultModelVersion pins the image captioning pipeline.
	DefaultModelVersion = "2e1dddc8621f72155f24cf2e0adbde548458d3cab9f00c0139eea840d0ac4746"
	DefaultPollInterval = 2 * time.Second
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv           string
	Port             string
	ReplicateToken   credentials.Credential
	ReplicateBaseURL string
	ModelVersion     string
	PollInterval     time.Duration
	PollMaxAttempts  int
	PollFetchRetries int
	PollCancelRemote bool
	RequestTimeout   time.Duration
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
	CORSOrigins      []string
	DefaultLocale    string
	SessionTTL       time.Duration
	MaxSessions      int
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
// A missing credential fails fast so no unauthenticated request is ever sent.
func LoadConfig() (*Config, error) {
	token, err := credentials.FromEnv("REPLICATE_API_TOKEN", "REPLICATE_API_KEY")
	if err != nil {
		return nil, err
	}
	cfg := &Config{
		AppEnv:           getEnv("APP_ENV", "development"),
		Port:             getEnv("PORT", "8080"),
		ReplicateToken:   token,
		ReplicateBaseURL: strings.TrimRight(getEnv("REPLICATE_BASE_URL", DefaultReplicateBaseURL), "/"),
		ModelVersion:     getEnv("REPLICATE_MODEL_VERSION", DefaultModelVersion),
		PollInterval:     msDuration(getEnvInt("POLL_INTERVAL_MS", int(DefaultPollInterval/time.Millisecond))),
		PollMaxAttempts:  getEnvInt("POLL_MAX_ATTEMPTS", 0),
		PollFetchRetries: getEnvInt("POLL_FETCH_RETRIES", 0),
		PollCancelRemote: getEnvBool("POLL_CANCEL_REMOTE", false),
		RequestTimeout:   secondsDuration(getEnvInt("REQUEST_TIMEOUT_SECONDS", 30)),
		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 0)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 60),
		CORSOrigins:      splitCSV(os.Getenv("CORS_ALLOWED_ORIGINS")),
		DefaultLocale:    getEnv("DEFAULT_LOCALE", "en"),
		SessionTTL:       time.Minute * time.Duration(getEnvInt("SESSION_TTL_MINUTES", 30)),
		MaxSessions:      getEnvInt("MAX_SESSIONS", 1000),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks invariants shared by the environment and file loaders.
func (c *Config) Validate() error {
	if c.ReplicateToken.Empty() {
		return fmt.Errorf("%w: REPLICATE_API_TOKEN is required", domain.ErrMissingCredential)
	}
	if c.ModelVersion == "" {
		return fmt.Errorf("REPLICATE_MODEL_VERSION must not be empty")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL_MS must be positive")
	}
	if c.PollMaxAttempts < 0 || c.PollFetchRetries < 0 {
		return fmt.Errorf("poll limits must not be negative")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func msDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func secondsDuration(s int) time.Duration {
	return time.Duration(s) * time.Second
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}
	return out
}
