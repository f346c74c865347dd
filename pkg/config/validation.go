package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validate checks the configuration for invalid values.
//
// Validation is tag-driven (see the validate struct tags) with a few
// cross-field checks the tags cannot express. The directory and workflow
// executor sections are only validated when they are configured at all, so
// a default config loads cleanly; a running engine without them fails at
// wiring time instead.
//
// Validate does not mutate the configuration. Normalization (log level
// casing, default filling) happens in ApplyDefaults.
func Validate(cfg *Config) error {
	v := validator.New()

	if err := v.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if err := cfg.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if cfg.Telemetry.Enabled && cfg.Telemetry.Endpoint == "" {
		return errors.New("telemetry endpoint is required when telemetry is enabled")
	}

	if cfg.LDAP.Hostname != "" {
		if err := v.Struct(cfg.LDAP); err != nil {
			return fmt.Errorf("ldap: %w", formatValidationError(err))
		}
	}

	if cfg.Airflow.BaseURL != "" {
		if err := v.Struct(cfg.Airflow); err != nil {
			return fmt.Errorf("airflow: %w", formatValidationError(err))
		}
	}

	if cfg.Notifications.Enabled && cfg.Notifications.AdminEmail == "" {
		return errors.New("notifications admin_email is required when notifications are enabled")
	}

	return nil
}

// formatValidationError turns validator errors into one readable message
// naming every offending field and the constraint it failed.
func formatValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q validation", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}
