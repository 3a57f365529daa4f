package qavault

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"
)

// ConfigMustString returns the string value for the given key.
// It panics if the key doesn't exist or the value is empty.
//
// Example:
//
//	key := qavault.ConfigMustString("auth.signingKey", "Set QV__AUTH__SIGNING_KEY environment variable")
func ConfigMustString(key, helpMsg string) string {
	if !Config.Exists(key) {
		panic(fmt.Sprintf("required config '%s' not set: %s", key, helpMsg))
	}
	value := Config.String(key)
	if value == "" {
		panic(fmt.Sprintf("required config '%s' is empty: %s", key, helpMsg))
	}
	return value
}

// ValidateIntRange validates that a value is within the given range (inclusive).
func ValidateIntRange(value, minVal, maxVal int) error {
	if value < minVal || value > maxVal {
		return fmt.Errorf("must be between %d and %d, got: %d", minVal, maxVal, value)
	}
	return nil
}

// ValidatePort validates that a port number is valid (1-65535).
func ValidatePort(port int) error {
	return ValidateIntRange(port, 1, 65535)
}

// ValidatePositiveDuration validates that a duration is positive (> 0).
func ValidatePositiveDuration(value time.Duration) error {
	if value <= 0 {
		return fmt.Errorf("must be positive, got: %s", value)
	}
	return nil
}

// ValidateURL validates that a string is a valid URL.
func ValidateURL(urlStr string) error {
	if urlStr == "" {
		return errors.New("URL cannot be empty")
	}
	parsed, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme == "" {
		return errors.New("URL must have a scheme (http:// or https://)")
	}
	if parsed.Host == "" {
		return errors.New("URL must have a host")
	}
	return nil
}

// ValidateOneOf validates that value is one of the allowed options.
func ValidateOneOf(value string, options ...string) error {
	if !slices.Contains(options, value) {
		return fmt.Errorf("must be one of %s, got: %q", strings.Join(options, ", "), value)
	}
	return nil
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Key     string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Key, e.Message)
}

// ValidateConfig validates the configuration values that would otherwise
// fail late, at first use. Returns all validation errors found, or nil if
// configuration is valid.
func ValidateConfig() []ValidationError {
	var errs []ValidationError
	check := func(key string, err error) {
		if err != nil {
			errs = append(errs, ValidationError{Key: key, Message: err.Error()})
		}
	}

	if Config.Exists("api.baseUrl") {
		check("api.baseUrl", ValidateURL(Config.String("api.baseUrl")))
	}
	if Config.Exists("api.timeout") {
		check("api.timeout", ValidatePositiveDuration(Config.Duration("api.timeout")))
	}
	if Config.Exists("session.backend") {
		check("session.backend", ValidateOneOf(Config.String("session.backend"), "sqlite", "memory"))
	}
	if Config.Exists("log.format") {
		check("log.format", ValidateOneOf(Config.String("log.format"), "dev", "prod", "none"))
	}
	if Config.Exists("server.port") {
		check("server.port", ValidatePort(Config.Int("server.port")))
	}
	if Config.Exists("auth.tokenExpiration") {
		check("auth.tokenExpiration", ValidatePositiveDuration(Config.Duration("auth.tokenExpiration")))
	}
	if Config.Exists("database.driver") {
		check("database.driver", ValidateOneOf(Config.String("database.driver"), "postgres", "sqlite3"))
	}

	return errs
}

// FormatValidationErrors formats a slice of validation errors into a readable error message.
func FormatValidationErrors(errs []ValidationError) string {
	if len(errs) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("Configuration validation failed:\n")
	for _, err := range errs {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	sb.WriteString("\nFix these errors in qavault.yaml or QV__ environment variables and try again.")
	return sb.String()
}
