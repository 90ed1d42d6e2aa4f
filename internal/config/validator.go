package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var (
	validProviders = []string{"anthropic", "openai"}
	validProtocols = []string{"rest", "jsonrpc", "stdio"}
	validDrivers   = []string{"sqlite", "memory"}
	validLevels    = []string{"debug", "info", "warn", "error"}
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateProvider validates the model provider name.
func (v *Validator) ValidateProvider(provider string) error {
	return oneOf("llm.provider", provider, validProviders)
}

// ValidateAPIKey validates an API key format
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty (set llm.api_key or STOCKPILOT_LLM_API_KEY)", provider)
	}

	switch provider {
	case "anthropic":
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case "openai":
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	}

	return nil
}

// ValidateTemperature validates temperature value
func (v *Validator) ValidateTemperature(temp float64) error {
	if temp < 0 || temp > 1 {
		return fmt.Errorf("temperature must be between 0 and 1, got %f", temp)
	}
	return nil
}

// ValidateMaxTokens validates max tokens value
func (v *Validator) ValidateMaxTokens(tokens int) error {
	if tokens <= 0 {
		return fmt.Errorf("max tokens must be positive, got %d", tokens)
	}
	if tokens > 200000 {
		return fmt.Errorf("max tokens too large (max 200000), got %d", tokens)
	}
	return nil
}

// ValidateToolHost checks that the selected protocol has what it needs.
func (v *Validator) ValidateToolHost(th ToolHostConfig) error {
	if err := oneOf("toolhost.protocol", th.Protocol, validProtocols); err != nil {
		return err
	}
	switch th.Protocol {
	case "stdio":
		if th.Command == "" {
			return fmt.Errorf("toolhost.command is required for the stdio protocol")
		}
	default:
		if th.BaseURL == "" {
			return fmt.Errorf("toolhost.base_url is required for the %s protocol", th.Protocol)
		}
		if !strings.HasPrefix(th.BaseURL, "http://") && !strings.HasPrefix(th.BaseURL, "https://") {
			return fmt.Errorf("toolhost.base_url must be an http(s) URL, got %q", th.BaseURL)
		}
	}
	if err := v.ValidateDuration("toolhost.timeout", th.Timeout); err != nil {
		return err
	}
	return v.ValidateDuration("toolhost.cache_ttl", th.CacheTTL)
}

// ValidateSession checks the session store settings.
func (v *Validator) ValidateSession(s SessionConfig) error {
	if err := oneOf("session.driver", s.Driver, validDrivers); err != nil {
		return err
	}
	if s.ContextSize <= 0 {
		return fmt.Errorf("session.context_size must be positive, got %d", s.ContextSize)
	}
	if s.RetentionDays < 0 {
		return fmt.Errorf("session.retention_days cannot be negative, got %d", s.RetentionDays)
	}
	if v.ValidateSchedule(s.RetentionSchedule) != nil {
		return fmt.Errorf("session.retention_schedule %q is not a valid cron expression", s.RetentionSchedule)
	}
	return nil
}

// ValidateSchedule parses a five-field cron expression.
func (v *Validator) ValidateSchedule(expr string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	return nil
}

// ValidateDuration requires a positive duration.
func (v *Validator) ValidateDuration(key string, d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%s must be positive, got %s", key, d)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	return oneOf("logging.level", level, validLevels)
}

func oneOf(key, value string, valid []string) error {
	for _, candidate := range valid {
		if value == candidate {
			return nil
		}
	}
	return fmt.Errorf("invalid %s: %q (must be one of: %s)", key, value, strings.Join(valid, ", "))
}
