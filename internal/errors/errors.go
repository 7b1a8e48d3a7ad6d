// Package errors provides centralized error definitions and error handling utilities
// for qscaler. It defines domain-specific errors, semantic error types,
// error constructors with context wrapping, and error classification helpers.
//
// # Error Types
//
// Domain-specific errors represent failures of a collaborator of the control loop:
//   - StoreError: reading or writing the supervisor program configuration
//   - ReloadError: a supervisorctl reload phase failed (carries captured output)
//   - MetricError: a CPU or queue-depth sample could not be taken
//   - RollbackError: an apply failed and restoring the previous count failed too
//
// Semantic errors represent common error conditions:
//   - NotFoundError: a resource (e.g. the numprocs setting) is missing
//   - ValidationError: invalid input or configuration
//
// # Usage
//
//	err := errors.NewStoreError("write", path, cause)
//	if errors.Is(err, errors.ErrSettingNotFound) { ... }
//
//	var reloadErr *errors.ReloadError
//	if errors.As(err, &reloadErr) {
//	    log.Error("reload failed", "phase", reloadErr.Phase, "output", reloadErr.Output)
//	}
//
// # Error Classification
//
//   - Retryable: transient errors the next tick may not hit again
//   - Severity: Debug, Info, Warning, Error, Critical
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that require immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Supervisor-related sentinel errors
var (
	// ErrSettingNotFound indicates the program configuration has no usable
	// worker-count line.
	ErrSettingNotFound = New("setting not found")
	// ErrReloadFailed indicates supervisorctl returned a failure status.
	ErrReloadFailed = New("supervisor reload failed")
	// ErrRollbackFailed indicates the previous count could not be restored.
	ErrRollbackFailed = New("rollback failed")
)

// Metric-related sentinel errors
var (
	// ErrQueueUnavailable indicates the queue-depth service could not be queried.
	ErrQueueUnavailable = New("queue depth unavailable")
	// ErrCPUUnavailable indicates the CPU sampler returned no usable value.
	ErrCPUUnavailable = New("cpu usage unavailable")
	// ErrMalformedResponse indicates a metric service answered with an unusable value.
	ErrMalformedResponse = New("malformed metric response")
)

// General sentinel errors
var (
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
	// ErrUnsupportedScheme indicates a queue URL with an unknown scheme.
	ErrUnsupportedScheme = New("unsupported queue url scheme")
)

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// QscalerError is the base interface for all qscaler errors.
type QscalerError interface {
	error

	// Unwrap returns the underlying error, if any.
	Unwrap() error

	// Is reports whether this error matches the target error.
	Is(target error) bool

	// Severity returns the severity level of this error.
	Severity() Severity

	// IsRetryable returns true if the error is transient and a later tick
	// may succeed.
	IsRetryable() bool
}

// baseError provides common functionality for all error types.
type baseError struct {
	message   string
	cause     error
	severity  Severity
	retryable bool
}

// Error returns the error message.
func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying error.
func (e *baseError) Unwrap() error {
	return e.cause
}

// Is checks if this error matches the target.
func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

// Severity returns the error severity.
func (e *baseError) Severity() Severity {
	return e.severity
}

// IsRetryable returns whether the error is retryable.
func (e *baseError) IsRetryable() bool {
	return e.retryable
}

// formatWithContext renders "<kind> [k=v, ...]: message: cause".
func formatWithContext(kind string, parts []string, message string, cause error) string {
	prefix := kind
	if len(parts) > 0 {
		prefix = fmt.Sprintf("%s [%s]", kind, strings.Join(parts, ", "))
	}
	if cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, message, cause)
	}
	return fmt.Sprintf("%s: %s", prefix, message)
}

// -----------------------------------------------------------------------------
// Domain-Specific Errors
// -----------------------------------------------------------------------------

// StoreError represents a failure reading or writing the supervisor program
// configuration file.
//
// Example:
//
//	err := errors.NewStoreError("write", "/etc/supervisor/conf.d/worker.conf", cause)
//	fmt.Println(err) // "store error [op=write, path=...]: write failed: <cause>"
type StoreError struct {
	baseError
	Op   string
	Path string
}

// NewStoreError creates a new StoreError. File I/O failures are treated as
// retryable: the next tick re-reads the file from scratch.
func NewStoreError(op, path string, cause error) *StoreError {
	return &StoreError{
		baseError: baseError{
			message:   op + " failed",
			cause:     cause,
			severity:  SeverityError,
			retryable: true,
		},
		Op:   op,
		Path: path,
	}
}

// WithSeverity sets the error severity.
func (e *StoreError) WithSeverity(s Severity) *StoreError {
	e.severity = s
	return e
}

// Error returns the formatted error message.
func (e *StoreError) Error() string {
	var parts []string
	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.Path != "" {
		parts = append(parts, fmt.Sprintf("path=%s", e.Path))
	}
	return formatWithContext("store error", parts, e.message, e.cause)
}

// Is checks if this error matches the target.
func (e *StoreError) Is(target error) bool {
	if _, ok := target.(*StoreError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// ReloadError represents a failed supervisorctl phase.
//
// Example:
//
//	err := errors.NewReloadError("reread", cause).WithOutput(string(out))
type ReloadError struct {
	baseError
	Phase   string
	Command string
	Output  string // Captured command output
}

// NewReloadError creates a new ReloadError for the given phase.
func NewReloadError(phase string, cause error) *ReloadError {
	if cause == nil {
		cause = ErrReloadFailed
	}
	return &ReloadError{
		baseError: baseError{
			message:   fmt.Sprintf("supervisorctl %s failed", phase),
			cause:     cause,
			severity:  SeverityError,
			retryable: true,
		},
		Phase: phase,
	}
}

// WithCommand records the command line that was run.
func (e *ReloadError) WithCommand(cmd string) *ReloadError {
	e.Command = cmd
	return e
}

// WithOutput adds the captured command output to the error context.
func (e *ReloadError) WithOutput(output string) *ReloadError {
	e.Output = output
	return e
}

// Error returns the formatted error message.
func (e *ReloadError) Error() string {
	var parts []string
	if e.Phase != "" {
		parts = append(parts, fmt.Sprintf("phase=%s", e.Phase))
	}
	msg := formatWithContext("reload error", parts, e.message, e.cause)
	if out := strings.TrimSpace(e.Output); out != "" {
		msg = fmt.Sprintf("%s\noutput: %s", msg, out)
	}
	return msg
}

// Is checks if this error matches the target.
func (e *ReloadError) Is(target error) bool {
	if _, ok := target.(*ReloadError); ok {
		return true
	}
	if target == ErrReloadFailed {
		return true
	}
	return e.baseError.Is(target)
}

// MetricError represents a failed metric sample.
//
// Example:
//
//	err := errors.NewMetricError("sqs", errors.ErrQueueUnavailable).WithQueue(url)
type MetricError struct {
	baseError
	Source string
	Queue  string
}

// NewMetricError creates a new MetricError for the named source.
func NewMetricError(source string, cause error) *MetricError {
	return &MetricError{
		baseError: baseError{
			message:   "sample failed",
			cause:     cause,
			severity:  SeverityWarning,
			retryable: true,
		},
		Source: source,
	}
}

// WithQueue adds the queue identifier to the error context.
func (e *MetricError) WithQueue(queue string) *MetricError {
	e.Queue = queue
	return e
}

// Error returns the formatted error message.
func (e *MetricError) Error() string {
	var parts []string
	if e.Source != "" {
		parts = append(parts, fmt.Sprintf("source=%s", e.Source))
	}
	if e.Queue != "" {
		parts = append(parts, fmt.Sprintf("queue=%s", e.Queue))
	}
	return formatWithContext("metric error", parts, e.message, e.cause)
}

// Is checks if this error matches the target.
func (e *MetricError) Is(target error) bool {
	if _, ok := target.(*MetricError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// RollbackError reports that an apply failed and the previous count could
// not be restored. The supervisor configuration may now disagree with the
// running processes until an operator or a later tick fixes it.
type RollbackError struct {
	baseError
	Previous int
	Target   int
	ApplyErr error
}

// NewRollbackError creates a new RollbackError. cause is the failure of the
// rollback itself; applyErr is the failure that triggered the rollback.
func NewRollbackError(previous, target int, applyErr, cause error) *RollbackError {
	return &RollbackError{
		baseError: baseError{
			message:   fmt.Sprintf("could not restore %d procs after failed change to %d", previous, target),
			cause:     Join(ErrRollbackFailed, cause),
			severity:  SeverityCritical,
			retryable: false,
		},
		Previous: previous,
		Target:   target,
		ApplyErr: applyErr,
	}
}

// Error returns the formatted error message.
func (e *RollbackError) Error() string {
	msg := formatWithContext("rollback error", nil, e.message, e.cause)
	if e.ApplyErr != nil {
		msg = fmt.Sprintf("%s (apply error: %v)", msg, e.ApplyErr)
	}
	return msg
}

// Is checks if this error matches the target.
func (e *RollbackError) Is(target error) bool {
	if _, ok := target.(*RollbackError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// NotFoundError represents a resource that could not be found.
//
// Example:
//
//	err := errors.NewNotFoundError("setting", "numprocs")
//	fmt.Println(err) // "setting 'numprocs' not found"
type NotFoundError struct {
	baseError
	ResourceType string
	ResourceID   string
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resourceType, resourceID string) *NotFoundError {
	return &NotFoundError{
		baseError: baseError{
			message:  fmt.Sprintf("%s '%s' not found", resourceType, resourceID),
			severity: SeverityError,
		},
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

// WithCause adds a cause to the error.
func (e *NotFoundError) WithCause(cause error) *NotFoundError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *NotFoundError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s '%s' not found: %v", e.ResourceType, e.ResourceID, e.cause)
	}
	return fmt.Sprintf("%s '%s' not found", e.ResourceType, e.ResourceID)
}

// Is checks if this error matches the target.
func (e *NotFoundError) Is(target error) bool {
	if _, ok := target.(*NotFoundError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// ValidationError represents invalid input or state.
//
// Example:
//
//	err := errors.NewValidationError("must be positive").WithField("scale_factor").WithValue(0)
type ValidationError struct {
	baseError
	Field string
	Value any
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{
			message:  message,
			cause:    ErrInvalidInput,
			severity: SeverityError,
		},
	}
}

// WithField sets the offending field name.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue records the offending value.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	switch {
	case e.Field != "" && e.Value != nil:
		return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.message, e.Value)
	case e.Field != "":
		return fmt.Sprintf("%s: %s", e.Field, e.message)
	default:
		return e.message
	}
}

// Is checks if this error matches the target.
func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Error Classification
// -----------------------------------------------------------------------------

// IsRetryable returns true if the error is transient and a later tick may
// succeed. Errors that don't implement QscalerError are not retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var qErr QscalerError
	if As(err, &qErr) {
		return qErr.IsRetryable()
	}
	return false
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that don't implement QscalerError.
//
// Example:
//
//	switch errors.GetSeverity(err) {
//	case errors.SeverityCritical:
//	    logger.Error("operator attention needed", "error", err)
//	case errors.SeverityWarning:
//	    logger.Warn("transient failure", "error", err)
//	}
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}

	var qErr QscalerError
	if As(err, &qErr) {
		return qErr.Severity()
	}
	return SeverityError
}

// IsDomainError returns true if the error is a domain-specific error
// (StoreError, ReloadError, MetricError, or RollbackError).
func IsDomainError(err error) bool {
	if err == nil {
		return false
	}

	var storeErr *StoreError
	var reloadErr *ReloadError
	var metricErr *MetricError
	var rollbackErr *RollbackError

	return As(err, &storeErr) || As(err, &reloadErr) ||
		As(err, &metricErr) || As(err, &rollbackErr)
}

// -----------------------------------------------------------------------------
// Convenience Constructors
// -----------------------------------------------------------------------------

// Wrap wraps an error with additional context message.
// Unlike a bare fmt.Errorf, this returns nil for a nil error.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
