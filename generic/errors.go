/*
errors.go - Centralized error types for the dues engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Services wrap these errors with additional context; the API layer maps
  them to status codes with the helpers at the bottom of this file.

ERROR CATEGORIES:
  1. Configuration errors - Invalid pricing/penalty values
  2. Lifecycle errors - Paying a settled or voided due, illegal transitions
  3. Concurrency errors - Lock or version contention (safe to retry)
  4. Lookup errors - Missing dues, payments, periods

USAGE:
  if errors.Is(err, generic.ErrDueAlreadySettled) {
      // nothing left to pay
  }

  var te *generic.TransitionError
  if errors.As(err, &te) {
      fmt.Println(te.Current, te.Allowed)
  }

SEE ALSO:
  - types.go: PaymentConfiguration.Validate returns ConfigError
  - dues/workflow.go: Returns TransitionError
  - api/handlers.go: Maps errors to HTTP status codes
*/
package generic

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidConfiguration is returned when a configuration update carries
	// an out-of-range cutoff, penalty or unknown policy. Nothing is mutated.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrConfigurationMissing is returned before the configuration is seeded.
	ErrConfigurationMissing = errors.New("payment configuration not set")

	// ErrDueAlreadySettled is returned when paying a due that is already pagado.
	ErrDueAlreadySettled = errors.New("due already settled")

	// ErrDueVoided is returned when paying a due that was anulado.
	ErrDueVoided = errors.New("due voided")

	// ErrDuplicateDue is returned by stores when a due key already exists.
	// The generator treats it as a no-op.
	ErrDuplicateDue = errors.New("duplicate due")

	// ErrConcurrentModification is returned when a per-due lock or an
	// optimistic version check detects contention.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrPropagationPartialFailure is returned when a configuration change was
	// committed but some dues could not be brought up to date.
	ErrPropagationPartialFailure = errors.New("price propagation partially failed")

	ErrDueNotFound     = errors.New("due not found")
	ErrPaymentNotFound = errors.New("payment not found")
	ErrPeriodNotFound  = errors.New("academic period not found")

	// ErrPaymentInProgress is returned when a due already has a non-terminal payment.
	ErrPaymentInProgress = errors.New("due already has a payment in progress")

	// ErrInvalidTransition is returned for state changes the workflow does not allow.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrForbidden is returned when an operation needs a privileged actor.
	ErrForbidden = errors.New("operation requires a privileged actor")

	// ErrInvalidAmount is returned for malformed or negative money input.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrReasonRequired is returned when rejecting or voiding without a reason.
	ErrReasonRequired = errors.New("a reason is required")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// FieldViolation names one invalid configuration field.
type FieldViolation struct {
	Field   string
	Message string
}

// ConfigError lists every invalid field of a rejected configuration.
type ConfigError struct {
	Fields []FieldViolation
}

func (e *ConfigError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "invalid configuration: " + strings.Join(parts, "; ")
}

func (e *ConfigError) Unwrap() error { return ErrInvalidConfiguration }

// DueStateError is returned when a due's state rules out a payment.
type DueStateError struct {
	DueID  DueID
	Estado Estado
}

func (e *DueStateError) Error() string {
	return fmt.Sprintf("due %s is %s and cannot take payments", e.DueID, e.Estado)
}

func (e *DueStateError) Unwrap() error {
	if e.Estado == EstadoAnulado {
		return ErrDueVoided
	}
	return ErrDueAlreadySettled
}

// TransitionError names the current state and the moves legal from it.
type TransitionError struct {
	Subject string // "payment" or "due"
	ID      string
	Current Estado
	Event   Event
	Target  Estado
	Allowed []Move
}

func (e *TransitionError) Error() string {
	allowed := "none (terminal state)"
	if len(e.Allowed) > 0 {
		names := make([]string, len(e.Allowed))
		for i, m := range e.Allowed {
			names[i] = m.String()
		}
		allowed = strings.Join(names, ", ")
	}
	if e.Event == "" {
		return fmt.Sprintf("%s %s is %s (allowed: %s)", e.Subject, e.ID, e.Current, allowed)
	}
	return fmt.Sprintf("%s %s is %s; cannot %s (allowed: %s)", e.Subject, e.ID, e.Current, e.Event, allowed)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// PropagationError lists dues left stale after a committed configuration change.
type PropagationError struct {
	ConfigVersion int64
	StaleDues     []DueID
	Causes        map[DueID]error
}

func (e *PropagationError) Error() string {
	return fmt.Sprintf("configuration v%d committed but %d due(s) not updated", e.ConfigVersion, len(e.StaleDues))
}

func (e *PropagationError) Unwrap() error { return ErrPropagationPartialFailure }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidConfiguration) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrReasonRequired)
}

// IsConflict returns true if the error is caused by the current state of a resource.
func IsConflict(err error) bool {
	return errors.Is(err, ErrDueAlreadySettled) ||
		errors.Is(err, ErrDueVoided) ||
		errors.Is(err, ErrPaymentInProgress) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrConcurrentModification) ||
		errors.Is(err, ErrConfigurationMissing)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrDueNotFound) ||
		errors.Is(err, ErrPaymentNotFound) ||
		errors.Is(err, ErrPeriodNotFound)
}
