package config

import (
	"strings"
	"testing"
)

func TestValidate_ValidConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	err := Validate(cfg)
	if err != nil {
		t.Errorf("Expected valid config to pass validation, got error: %v", err)
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Level = "INVALID"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for invalid log level")
	}
	if !strings.Contains(err.Error(), "oneof") {
		t.Errorf("Expected 'oneof' validation error, got: %v", err)
	}
}

func TestValidate_InvalidLogFormat(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Format = "xml"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for invalid log format")
	}
}

func TestValidate_InvalidAPIPort(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.API.Port = 70000 // Out of range

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for port out of range")
	}
	if !strings.Contains(err.Error(), "max") {
		t.Errorf("Expected 'max' validation error, got: %v", err)
	}
}

func TestValidate_NegativePort(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.API.Port = -1

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for negative port")
	}
}

func TestValidate_MissingSQLitePath(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Database.SQLite.Path = ""

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for missing sqlite path")
	}
	errStr := strings.ToLower(err.Error())
	if !strings.Contains(errStr, "sqlite") {
		t.Errorf("Expected error about sqlite path, got: %v", err)
	}
}

func TestValidate_TelemetryEnabledWithoutEndpoint(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Telemetry.Enabled = true
	cfg.Telemetry.Endpoint = ""

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for telemetry enabled without endpoint")
	}
	if !strings.Contains(err.Error(), "telemetry") {
		t.Errorf("Expected error about telemetry endpoint, got: %v", err)
	}
}

func TestValidate_TelemetrySampleRate(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Telemetry.Enabled = true
	cfg.Telemetry.Endpoint = "localhost:4317"
	cfg.Telemetry.SampleRate = 1.5 // Out of range (should be 0.0-1.0)

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for sample rate out of range")
	}
}

func TestValidate_NotificationsWithoutAdminEmail(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Notifications.Enabled = true
	cfg.Notifications.AdminEmail = ""

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for notifications without admin email")
	}
	if !strings.Contains(err.Error(), "admin_email") {
		t.Errorf("Expected error about admin_email, got: %v", err)
	}
}

func TestValidate_LDAPSectionOnlyWhenConfigured(t *testing.T) {
	// An empty ldap section passes; a partially filled one must be complete.
	cfg := GetDefaultConfig()
	if err := Validate(cfg); err != nil {
		t.Fatalf("Empty ldap section should pass, got: %v", err)
	}

	cfg.LDAP.Hostname = "ldap.corp.local"
	cfg.LDAP.BaseDN = ""
	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for ldap without base_dn")
	}
	if !strings.Contains(err.Error(), "ldap") {
		t.Errorf("Expected ldap validation error, got: %v", err)
	}
}

func TestValidate_AirflowSectionOnlyWhenConfigured(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Airflow.BaseURL = "https://airflow.corp.local"
	// Username, password and dag_id missing.
	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for incomplete airflow section")
	}
	if !strings.Contains(err.Error(), "airflow") {
		t.Errorf("Expected airflow validation error, got: %v", err)
	}
}

func TestValidate_LogLevelNormalization(t *testing.T) {
	// Validation accepts both uppercase and lowercase log levels.
	testCases := []string{"info", "INFO", "debug", "DEBUG", "warn", "WARN", "error", "ERROR"}

	for _, level := range testCases {
		cfg := GetDefaultConfig()
		cfg.Logging.Level = level

		err := Validate(cfg)
		if err != nil {
			t.Errorf("Validation failed for level %q: %v", level, err)
		}

		// Validation should NOT normalize - level should remain as-is
		if cfg.Logging.Level != level {
			t.Errorf("Expected level to remain %q after validation, got %q", level, cfg.Logging.Level)
		}
	}

	// Normalization happens in ApplyDefaults.
	cfg := &Config{Logging: LoggingConfig{Level: "info"}}
	ApplyDefaults(cfg)
	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected ApplyDefaults to normalize 'info' to 'INFO', got %q", cfg.Logging.Level)
	}
}
