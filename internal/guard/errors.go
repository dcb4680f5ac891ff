package guard

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes failures raised around guard evaluation.
type ErrorCode string

const (
	// ErrCodeConfiguration indicates malformed or missing on-chain
	// configuration. It cannot self-correct, so evaluation halts for the session.
	ErrCodeConfiguration ErrorCode = "CONFIGURATION_ERROR"

	// ErrCodeIntegrity indicates mint state that violates redeemed <= available.
	ErrCodeIntegrity ErrorCode = "INTEGRITY_ERROR"

	// ErrCodeTransientFetch indicates a chain read failed and may succeed on retry.
	ErrCodeTransientFetch ErrorCode = "TRANSIENT_FETCH_ERROR"

	// ErrCodeSubmissionRace indicates a group became disallowed between
	// evaluation and mint submission.
	ErrCodeSubmissionRace ErrorCode = "SUBMISSION_RACE_ERROR"
)

// Error is the structured error type shared by the evaluator, the chain
// clients, the runner and the mint orchestrator.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Group is the guard group label, when the error concerns one group.
	Group string

	// Condition is the offending condition type, for configuration errors.
	Condition ConditionType

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Group != "" && e.Condition != "" {
		msg = fmt.Sprintf("%s (group=%s, condition=%s)", msg, e.Group, e.Condition)
	} else if e.Group != "" {
		msg = fmt.Sprintf("%s (group=%s)", msg, e.Group)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewConfigurationError creates an error for invalid on-chain configuration.
func NewConfigurationError(message string, cause error) *Error {
	return &Error{Code: ErrCodeConfiguration, Message: message, Err: cause}
}

// NewUnknownConditionError reports a condition type the evaluator does not know.
// Unknown conditions are never skipped.
func NewUnknownConditionError(group string, cond ConditionType) *Error {
	return &Error{
		Code:      ErrCodeConfiguration,
		Message:   "unknown guard condition",
		Group:     group,
		Condition: cond,
	}
}

// NewIntegrityError creates an error for inconsistent mint state.
func NewIntegrityError(message string) *Error {
	return &Error{Code: ErrCodeIntegrity, Message: message}
}

// NewTransientError wraps a failed chain read.
func NewTransientError(op string, cause error) *Error {
	return &Error{Code: ErrCodeTransientFetch, Message: op, Err: cause}
}

// NewSubmissionRaceError reports that group stopped being mintable before submission.
func NewSubmissionRaceError(group, reason string) *Error {
	return &Error{
		Code:    ErrCodeSubmissionRace,
		Message: fmt.Sprintf("guard no longer allows minting: %s", reason),
		Group:   group,
	}
}

func hasCode(err error, code ErrorCode) bool {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Code == code
	}
	return false
}

// IsConfigurationError returns true if err is a configuration error.
// Uses errors.As to handle wrapped errors.
func IsConfigurationError(err error) bool {
	return hasCode(err, ErrCodeConfiguration)
}

// IsIntegrityError returns true if err is a mint state integrity error.
func IsIntegrityError(err error) bool {
	return hasCode(err, ErrCodeIntegrity)
}

// IsTransient returns true if err is a retryable fetch failure.
func IsTransient(err error) bool {
	return hasCode(err, ErrCodeTransientFetch)
}

// IsSubmissionRace returns true if err is a submission race.
func IsSubmissionRace(err error) bool {
	return hasCode(err, ErrCodeSubmissionRace)
}

// IsHardFailure returns true for errors that must be shown as a persistent
// failure banner and stop further evaluation.
func IsHardFailure(err error) bool {
	return IsConfigurationError(err) || IsIntegrityError(err)
}
