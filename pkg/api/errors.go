package api

import (
	"errors"
	"fmt"
	"time"
)

// ErrDuplicatePromotion is returned when a promoted record already exists
// for a task's (external id, project ref) key. It is a benign outcome of
// a concurrent retry, not a failure.
var ErrDuplicatePromotion = errors.New("task already promoted")

// ConfigurationError indicates invalid or missing configuration. It is
// fatal: callers must not retry.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Reason
}

// NewConfigurationError builds a ConfigurationError with a formatted reason.
func NewConfigurationError(format string, args ...any) error {
	return &ConfigurationError{Reason: fmt.Sprintf(format, args...)}
}

// IsConfigurationError reports whether err is a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// FlowNotFoundError indicates that no flow definition is registered
// under the requested name.
type FlowNotFoundError struct {
	Flow string
}

func (e *FlowNotFoundError) Error() string {
	return fmt.Sprintf("flow not found: %s", e.Flow)
}

// CapabilityNotFoundError indicates a step names a capability that is
// not registered. Programmer error, never retried.
type CapabilityNotFoundError struct {
	Capability string
}

func (e *CapabilityNotFoundError) Error() string {
	return fmt.Sprintf("capability not found: %s", e.Capability)
}

// MethodNotFoundError indicates a step names a method its capability
// does not expose. Programmer error, never retried.
type MethodNotFoundError struct {
	Capability string
	Method     string
}

func (e *MethodNotFoundError) Error() string {
	return fmt.Sprintf("capability %s has no method %s", e.Capability, e.Method)
}

// RemoteServiceError is a non-2xx response from the remote tracking
// service. Whether it is retried depends on the status code and the
// step's retry budget.
type RemoteServiceError struct {
	StatusCode int
	Message    string
}

func (e *RemoteServiceError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote service error: status %d", e.StatusCode)
	}
	return fmt.Sprintf("remote service error: status %d: %s", e.StatusCode, e.Message)
}

// Retryable reports whether the error is worth retrying: rate limiting
// and server-side failures are, client errors are not.
func (e *RemoteServiceError) Retryable() bool {
	return e.StatusCode == 429 || (e.StatusCode >= 500 && e.StatusCode < 600)
}

// TimeoutError indicates a step attempt did not settle within its
// configured timeout. The attempt counts against the retry budget; the
// in-flight call is cancelled cooperatively and its result discarded.
type TimeoutError struct {
	Step    string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("step %s timed out after %s", e.Step, e.Timeout)
}

// IsTimeout reports whether err is a step TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// ValidationError indicates a staged task failed the promotion gate.
// Non-fatal: the task keeps its current sync status and is revisited on
// the next pass.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Fatal reports whether err must abort immediately instead of being
// retried against a step's budget.
func Fatal(err error) bool {
	var (
		ce *ConfigurationError
		cn *CapabilityNotFoundError
		mn *MethodNotFoundError
	)
	return errors.As(err, &ce) || errors.As(err, &cn) || errors.As(err, &mn)
}
