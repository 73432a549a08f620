package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values for Config.
const (
	DefaultMaxIterations   = 5
	DefaultMaxTasks        = 10
	DefaultStuckThreshold  = 15 * time.Minute
	DefaultRetryDelay      = 300 * time.Second
	DefaultMaxRetries      = 3
	DefaultApprovalTimeout = time.Hour
	DefaultPollInterval    = 5 * time.Second
	DefaultInterval        = 5 * time.Minute
	DefaultMaxLogBytes     = 5 * 1024 * 1024

	// MinInterval is the shortest continuous-mode interval accepted.
	MinInterval = 10 * time.Second
)

// DefaultLimits returns limits with sensible default values.
func DefaultLimits() Limits {
	return Limits{
		MaxIterations: DefaultMaxIterations,
		MaxTasks:      DefaultMaxTasks,
	}
}

// DefaultRecovery returns the default quarantine/retry policy.
func DefaultRecovery() Recovery {
	return Recovery{
		StuckThreshold: DefaultStuckThreshold,
		RetryDelay:     DefaultRetryDelay,
		MaxRetries:     DefaultMaxRetries,
	}
}

// DefaultApproval returns the default approval gate settings.
func DefaultApproval() Approval {
	return Approval{
		Timeout:      DefaultApprovalTimeout,
		PollInterval: DefaultPollInterval,
	}
}

// DefaultScheduler returns the default scheduler settings.
func DefaultScheduler() Scheduler {
	return Scheduler{
		Interval:    DefaultInterval,
		MaxLogBytes: DefaultMaxLogBytes,
	}
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		Limits:    DefaultLimits(),
		Recovery:  DefaultRecovery(),
		Approval:  DefaultApproval(),
		Scheduler: DefaultScheduler(),
	}
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// LoadConfig reads .vaultloop/config.yaml from the vault root, then applies
// overrides from .vaultloop/.env and the process environment, in that order.
// A missing file yields the defaults.
func LoadConfig(basePath string) (*Config, error) {
	configPath := filepath.Join(basePath, ".vaultloop", "config.yaml")

	cfg := DefaultConfig()

	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	env, err := LoadEnvFile(basePath)
	if err != nil {
		return nil, err
	}
	if err := ApplyEnv(&cfg, func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := env[key]
		return v, ok
	}); err != nil {
		return nil, err
	}

	if err := ValidateConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// SaveConfig writes cfg to .vaultloop/config.yaml under basePath.
func SaveConfig(basePath string, cfg *Config) error {
	dir := filepath.Join(basePath, ".vaultloop")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Environment variable names recognised by ApplyEnv.
const (
	EnvMaxIterations   = "VAULTLOOP_MAX_ITER"
	EnvMaxTasks        = "VAULTLOOP_MAX_TASKS"
	EnvStuckThreshold  = "VAULTLOOP_STUCK_THRESHOLD"
	EnvRetryDelay      = "VAULTLOOP_RETRY_DELAY"
	EnvMaxRetries      = "VAULTLOOP_MAX_RETRIES"
	EnvApprovalTimeout = "VAULTLOOP_APPROVAL_TIMEOUT"
	EnvPollInterval    = "VAULTLOOP_POLL_INTERVAL"
	EnvInterval        = "VAULTLOOP_INTERVAL"
	EnvMaxLogBytes     = "VAULTLOOP_MAX_LOG_BYTES"
)

// ApplyEnv overrides cfg fields from lookup. Durations accept Go duration
// syntax ("90s") or a bare number of seconds.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	ints := []struct {
		key string
		dst *int
	}{
		{EnvMaxIterations, &cfg.Limits.MaxIterations},
		{EnvMaxTasks, &cfg.Limits.MaxTasks},
		{EnvMaxRetries, &cfg.Recovery.MaxRetries},
	}
	for _, f := range ints {
		v, ok := lookup(f.key)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return ValidationError{Field: f.key, Message: "must be an integer"}
		}
		*f.dst = n
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{EnvStuckThreshold, &cfg.Recovery.StuckThreshold},
		{EnvRetryDelay, &cfg.Recovery.RetryDelay},
		{EnvApprovalTimeout, &cfg.Approval.Timeout},
		{EnvPollInterval, &cfg.Approval.PollInterval},
		{EnvInterval, &cfg.Scheduler.Interval},
	}
	for _, f := range durations {
		v, ok := lookup(f.key)
		if !ok || v == "" {
			continue
		}
		d, err := parseDuration(v)
		if err != nil {
			return ValidationError{Field: f.key, Message: "must be a duration"}
		}
		*f.dst = d
	}

	if v, ok := lookup(EnvMaxLogBytes); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return ValidationError{Field: EnvMaxLogBytes, Message: "must be an integer"}
		}
		cfg.Scheduler.MaxLogBytes = n
	}

	return nil
}

func parseDuration(v string) (time.Duration, error) {
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(v)
}

// ValidateConfig checks that all config values are valid.
func ValidateConfig(cfg *Config) error {
	if cfg.Limits.MaxIterations <= 0 {
		return ValidationError{Field: "limits.max_iterations", Message: "must be positive"}
	}
	if cfg.Limits.MaxTasks <= 0 {
		return ValidationError{Field: "limits.max_tasks", Message: "must be positive"}
	}
	if cfg.Recovery.StuckThreshold <= 0 {
		return ValidationError{Field: "recovery.stuck_threshold", Message: "must be positive"}
	}
	if cfg.Recovery.RetryDelay < 0 {
		return ValidationError{Field: "recovery.retry_delay", Message: "must not be negative"}
	}
	if cfg.Recovery.MaxRetries <= 0 {
		return ValidationError{Field: "recovery.max_retries", Message: "must be positive"}
	}
	if cfg.Approval.Timeout <= 0 {
		return ValidationError{Field: "approval.timeout", Message: "must be positive"}
	}
	if cfg.Approval.PollInterval <= 0 {
		return ValidationError{Field: "approval.poll_interval", Message: "must be positive"}
	}
	if cfg.Scheduler.Interval < MinInterval {
		return ValidationError{Field: "scheduler.interval", Message: fmt.Sprintf("must be at least %s", MinInterval)}
	}
	if cfg.Scheduler.MaxLogBytes <= 0 {
		return ValidationError{Field: "scheduler.max_log_bytes", Message: "must be positive"}
	}
	return nil
}

// LoadEnvFile parses .vaultloop/.env into a map of key-value pairs.
// The file format is KEY=VALUE per line. Lines starting with # are comments.
// Empty lines are ignored.
func LoadEnvFile(basePath string) (map[string]string, error) {
	envPath := filepath.Join(basePath, ".vaultloop", ".env")

	file, err := os.Open(envPath)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]string), nil
		}
		return nil, fmt.Errorf("failed to open env file: %w", err)
	}
	defer file.Close()

	env := make(map[string]string)
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		idx := strings.Index(line, "=")
		if idx == -1 {
			return nil, fmt.Errorf("invalid env file line %d: missing '='", lineNum)
		}

		key := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])

		// Strip surrounding quotes (single or double)
		if len(value) >= 2 {
			if (value[0] == '"' && value[len(value)-1] == '"') ||
				(value[0] == '\'' && value[len(value)-1] == '\'') {
				value = value[1 : len(value)-1]
			}
		}

		if key == "" {
			return nil, fmt.Errorf("invalid env file line %d: empty key", lineNum)
		}

		env[key] = value
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read env file: %w", err)
	}

	return env, nil
}

// IsValidationError checks if an error is a ValidationError.
func IsValidationError(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}
