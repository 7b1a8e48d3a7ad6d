package config

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"slices"
	"strings"

	"github.com/Iron-Ham/qscaler/internal/errors"
	"github.com/Iron-Ham/qscaler/internal/logging"
	"github.com/Iron-Ham/qscaler/internal/scaler"
)

// CPU sources
const (
	CPUSourceHost       = "host"
	CPUSourcePrometheus = "prometheus"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "scaling.max_procs")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Is lets callers match configuration failures with errors.ErrInvalidInput.
func (e ValidationErrors) Is(target error) bool {
	return target == errors.ErrInvalidInput
}

// Fields returns the failing field paths, in order.
func (e ValidationErrors) Fields() []string {
	fields := make([]string, 0, len(e))
	for _, err := range e {
		fields = append(fields, err.Field)
	}
	return fields
}

// settingRegex matches an ini-style key
var settingRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// ValidCPUSources returns the list of valid cpu.source values
func ValidCPUSources() []string {
	return []string{CPUSourceHost, CPUSourcePrometheus}
}

// ValidQueueSchemes returns the URL schemes queue.url may use
func ValidQueueSchemes() []string {
	return []string{"https", "http", "redis", "rediss"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errs []ValidationError

	errs = append(errs, c.validateScaling()...)
	errs = append(errs, c.validateSupervisor()...)
	errs = append(errs, c.validateQueue()...)
	errs = append(errs, c.validateCPU()...)
	errs = append(errs, c.validateLoop()...)
	errs = append(errs, c.validateMetrics()...)
	errs = append(errs, c.validateLogging()...)

	return errs
}

// validateScaling validates the ScalingConfig
func (c *Config) validateScaling() []ValidationError {
	var errs []ValidationError
	s := c.Scaling

	if s.ScaleFactor <= 0 {
		errs = append(errs, ValidationError{
			Field:   "scaling.scale_factor",
			Value:   s.ScaleFactor,
			Message: "is required and must be positive",
		})
	}

	if s.MinProcs < 0 {
		errs = append(errs, ValidationError{
			Field:   "scaling.min_procs",
			Value:   s.MinProcs,
			Message: "must be non-negative",
		})
	}

	// min = max = 0 is a valid, fully scaled-down pool.
	if s.MaxProcs < s.MinProcs {
		errs = append(errs, ValidationError{
			Field:   "scaling.max_procs",
			Value:   s.MaxProcs,
			Message: fmt.Sprintf("must be at least scaling.min_procs (%d)", s.MinProcs),
		})
	}

	if s.CPUCeiling <= 0 || s.CPUCeiling > 100 {
		errs = append(errs, ValidationError{
			Field:   "scaling.cpu_ceiling",
			Value:   s.CPUCeiling,
			Message: "must be in (0, 100]",
		})
	}

	return errs
}

// validateSupervisor validates the SupervisorConfig
func (c *Config) validateSupervisor() []ValidationError {
	var errs []ValidationError
	s := c.Supervisor

	if strings.TrimSpace(s.Config) == "" {
		errs = append(errs, ValidationError{
			Field:   "supervisor.config",
			Value:   s.Config,
			Message: "is required",
		})
	} else if strings.ContainsRune(s.Config, '\x00') {
		errs = append(errs, ValidationError{
			Field:   "supervisor.config",
			Value:   s.Config,
			Message: "path contains invalid null character",
		})
	}

	if !settingRegex.MatchString(s.Setting) {
		errs = append(errs, ValidationError{
			Field:   "supervisor.setting",
			Value:   s.Setting,
			Message: "must be a key made of letters, digits and underscores",
		})
	}

	if strings.TrimSpace(s.CtlCommand) == "" {
		errs = append(errs, ValidationError{
			Field:   "supervisor.ctl_command",
			Value:   s.CtlCommand,
			Message: "must not be empty",
		})
	}

	return errs
}

// validateQueue validates the QueueConfig
func (c *Config) validateQueue() []ValidationError {
	var errs []ValidationError
	q := c.Queue

	if q.URL == "" {
		errs = append(errs, ValidationError{
			Field:   "queue.url",
			Value:   q.URL,
			Message: "is required",
		})
	} else if u, err := url.Parse(q.URL); err != nil || u.Host == "" {
		errs = append(errs, ValidationError{
			Field:   "queue.url",
			Value:   q.URL,
			Message: "must be an absolute URL",
		})
	} else if !slices.Contains(ValidQueueSchemes(), u.Scheme) {
		errs = append(errs, ValidationError{
			Field:   "queue.url",
			Value:   q.URL,
			Message: fmt.Sprintf("scheme must be one of: %s", strings.Join(ValidQueueSchemes(), ", ")),
		})
	}

	if q.Timeout < 0 {
		errs = append(errs, ValidationError{
			Field:   "queue.timeout",
			Value:   q.Timeout,
			Message: "must be non-negative",
		})
	}

	return errs
}

// validateCPU validates the CPUConfig
func (c *Config) validateCPU() []ValidationError {
	var errs []ValidationError
	cpu := c.CPU

	switch cpu.Source {
	case CPUSourceHost:
		if cpu.Window <= 0 {
			errs = append(errs, ValidationError{
				Field:   "cpu.window",
				Value:   cpu.Window,
				Message: "must be positive",
			})
		}
	case CPUSourcePrometheus:
		if u, err := url.Parse(cpu.PrometheusURL); cpu.PrometheusURL == "" || err != nil || u.Host == "" {
			errs = append(errs, ValidationError{
				Field:   "cpu.prometheus_url",
				Value:   cpu.PrometheusURL,
				Message: "must be an absolute URL when cpu.source is prometheus",
			})
		}
		if strings.TrimSpace(cpu.PrometheusQuery) == "" {
			errs = append(errs, ValidationError{
				Field:   "cpu.prometheus_query",
				Value:   cpu.PrometheusQuery,
				Message: "must not be empty when cpu.source is prometheus",
			})
		}
		if cpu.PrometheusTimeout < 0 {
			errs = append(errs, ValidationError{
				Field:   "cpu.prometheus_timeout",
				Value:   cpu.PrometheusTimeout,
				Message: "must be non-negative",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "cpu.source",
			Value:   cpu.Source,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidCPUSources(), ", ")),
		})
	}

	return errs
}

// validateLoop validates the LoopConfig
func (c *Config) validateLoop() []ValidationError {
	var errs []ValidationError

	if c.Loop.Schedule != "" {
		if err := scaler.ValidateSchedule(c.Loop.Schedule); err != nil {
			errs = append(errs, ValidationError{
				Field:   "loop.schedule",
				Value:   c.Loop.Schedule,
				Message: fmt.Sprintf("invalid cron expression: %v", err),
			})
		}
		return errs
	}

	if c.Loop.Interval <= 0 {
		errs = append(errs, ValidationError{
			Field:   "loop.interval",
			Value:   c.Loop.Interval,
			Message: "must be positive",
		})
	}

	return errs
}

// validateMetrics validates the MetricsConfig
func (c *Config) validateMetrics() []ValidationError {
	if c.Metrics.Listen == "" {
		return nil
	}
	if _, _, err := net.SplitHostPort(c.Metrics.Listen); err != nil {
		return []ValidationError{{
			Field:   "metrics.listen",
			Value:   c.Metrics.Listen,
			Message: "must be host:port or :port",
		}}
	}
	return nil
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	var errs []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), strings.ToLower(c.Logging.Level)) {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	if c.Logging.MaxSizeMB <= 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be positive",
		})
	}

	const maxLogSizeMB = 1000 // 1GB
	if c.Logging.MaxSizeMB > maxLogSizeMB {
		errs = append(errs, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: fmt.Sprintf("exceeds maximum of %dMB", maxLogSizeMB),
		})
	}

	if c.Logging.MaxBackups < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errs
}

// LogLevel returns the configured level normalised for the logging package.
func (c *LoggingConfig) LogLevel() string {
	return logging.ParseLevel(c.Level)
}
