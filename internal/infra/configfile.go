package infra

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// fileConfig mirrors the subset of Config that may be overridden from YAML.
// The credential is read from the environment only.
type fileConfig struct {
	AppEnv           *string `yaml:"app_env"`
	ReplicateBaseURL *string `yaml:"replicate_base_url"`
	ModelVersion     *string `yaml:"model_version"`
	PollIntervalMS   *int    `yaml:"poll_interval_ms"`
	PollMaxAttempts  *int    `yaml:"poll_max_attempts"`
	PollFetchRetries *int    `yaml:"poll_fetch_retries"`
	PollCancelRemote *bool   `yaml:"poll_cancel_remote"`
	RequestTimeoutS  *int    `yaml:"request_timeout_seconds"`
	DefaultLocale    *string `yaml:"default_locale"`
}

// LoadConfigFile overlays the YAML file at path onto cfg. Unknown keys are
// rejected so typos surface early.
func LoadConfigFile(cfg *Config, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	var fc fileConfig
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil {
		return fmt.Errorf("decode config %s: %w", path, err)
	}
	if fc.AppEnv != nil {
		cfg.AppEnv = *fc.AppEnv
	}
	if fc.ReplicateBaseURL != nil {
		cfg.ReplicateBaseURL = strings.TrimRight(*fc.ReplicateBaseURL, "/")
	}
	if fc.ModelVersion != nil {
		cfg.ModelVersion = strings.TrimSpace(*fc.ModelVersion)
	}
	if fc.PollIntervalMS != nil {
		cfg.PollInterval = msDuration(*fc.PollIntervalMS)
	}
	if fc.PollMaxAttempts != nil {
		cfg.PollMaxAttempts = *fc.PollMaxAttempts
	}
	if fc.PollFetchRetries != nil {
		cfg.PollFetchRetries = *fc.PollFetchRetries
	}
	if fc.PollCancelRemote != nil {
		cfg.PollCancelRemote = *fc.PollCancelRemote
	}
	if fc.RequestTimeoutS != nil {
		cfg.RequestTimeout = secondsDuration(*fc.RequestTimeoutS)
	}
	if fc.DefaultLocale != nil {
		cfg.DefaultLocale = *fc.DefaultLocale
	}
	return cfg.Validate()
}
