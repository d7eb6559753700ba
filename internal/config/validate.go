package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"go.uber.org/zap/zapcore"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError blocks execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning is surfaced but does not block execution.
	SeverityWarning IssueSeverity = "warning"
)

// Issue describes a single validation finding. Path is the setting key.
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// MaxBatchSize is the largest batch size accepted without a warning.
const MaxBatchSize = 10000

var sslModes = map[string]struct{}{
	"disable": {}, "allow": {}, "prefer": {}, "require": {}, "verify-ca": {}, "verify-full": {},
}

// Validate performs static checks over cfg. It does not mutate it.
func Validate(cfg *Config) []Issue {
	var issues []Issue
	add := func(sev IssueSeverity, path, format string, args ...any) {
		issues = append(issues, Issue{Severity: sev, Path: path, Message: fmt.Sprintf(format, args...)})
	}

	if strings.TrimSpace(cfg.SQLiteDB) == "" {
		add(SeverityError, "sqlite_db", "path to the source database must not be empty")
	}

	issues = append(issues, validateDestination(cfg)...)

	switch {
	case cfg.BatchSize <= 0:
		add(SeverityError, "batch_size", "must be positive, got %d", cfg.BatchSize)
	case cfg.BatchSize > MaxBatchSize:
		add(SeverityWarning, "batch_size", "%d rows per batch holds a lot in memory; %d or fewer is typical", cfg.BatchSize, MaxBatchSize)
	}

	if strings.TrimSpace(cfg.Job) == "" {
		add(SeverityError, "job", "job must not be empty; it labels metrics")
	}

	if _, err := zapcore.ParseLevel(cfg.LogLevel); err != nil {
		add(SeverityError, "log_level", "unknown level %q", cfg.LogLevel)
	}
	if cfg.LogEncoding != "json" && cfg.LogEncoding != "console" {
		add(SeverityError, "log_encoding", "must be json or console, got %q", cfg.LogEncoding)
	}

	issues = append(issues, validateMetrics(cfg)...)
	return issues
}

func validateDestination(cfg *Config) []Issue {
	var issues []Issue
	required := []struct{ path, val string }{
		{"db_host", cfg.DBHost},
		{"db_name", cfg.DBName},
		{"db_user", cfg.DBUser},
		{"db_schema", cfg.DBSchema},
	}
	for _, r := range required {
		if strings.TrimSpace(r.val) == "" {
			issues = append(issues, Issue{Severity: SeverityError, Path: r.path, Message: "must not be empty"})
		}
	}
	if cfg.DBPort <= 0 || cfg.DBPort > 65535 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "db_port",
			Message:  fmt.Sprintf("port %d out of range", cfg.DBPort),
		})
	}
	if _, ok := sslModes[cfg.DBSSLMode]; !ok {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "db_sslmode",
			Message:  fmt.Sprintf("unknown sslmode %q", cfg.DBSSLMode),
		})
	}
	if cfg.DBPassword == "" {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "db_password",
			Message:  "empty password; relying on trust or peer authentication",
		})
	}
	return issues
}

func validateMetrics(cfg *Config) []Issue {
	var issues []Issue
	switch cfg.MetricsBackend {
	case "", "none":
	case "pushgateway":
		u, err := url.Parse(cfg.PushgatewayURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "pushgateway_url",
				Message:  fmt.Sprintf("not an absolute URL: %q", cfg.PushgatewayURL),
			})
		}
	case "datadog":
		if _, _, err := net.SplitHostPort(cfg.DogStatsdAddr); err != nil && !strings.HasPrefix(cfg.DogStatsdAddr, "unix://") {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "dogstatsd_addr",
				Message:  fmt.Sprintf("want host:port or unix://path, got %q", cfg.DogStatsdAddr),
			})
		}
	default:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "metrics_backend",
			Message:  fmt.Sprintf("unknown backend %q (want none, pushgateway or datadog)", cfg.MetricsBackend),
		})
	}
	return issues
}

// Err joins the error-severity issues, or returns nil when there are none.
func Err(issues []Issue) error {
	var errs []error
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			errs = append(errs, iss)
		}
	}
	return errors.Join(errs...)
}
