package errors

import (
	"errors"
	"fmt"
)

// Code is a stable, machine-readable error class. Retry decisions in the
// workflow layer key off the code, never off message text.
type Code int

const (
	CodeSuccess  Code = 0
	CodeInternal Code = 1
	CodeUsage    Code = 2

	// CodeNetwork marks proxy/connection-level failures. These are the only
	// errors that count toward a wallet's proxy-health threshold.
	CodeNetwork Code = 10
	// CodeRejected marks a chain-side rejection: failed simulation,
	// pre-broadcast refusal or an on-chain revert. Never retried with the
	// same parameters.
	CodeRejected Code = 11
	// CodeInsufficientFunds is terminal for the current step.
	CodeInsufficientFunds Code = 12
	// CodeTimeout means a receipt or confirmation wait elapsed. Remedied by
	// re-polling or an explicit speed-up, not by blind re-submission.
	CodeTimeout Code = 13
	// CodeNoNetwork means no source chain cleared the balance floor.
	CodeNoNetwork Code = 14
	// CodeExhausted means the reserve proxy pool is empty.
	CodeExhausted Code = 15
)

// Error is a typed error that carries a stable code through wrapping.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf extracts the code from err, defaulting to CodeInternal for
// untyped errors.
func CodeOf(err error) Code {
	if err == nil {
		return CodeSuccess
	}
	if typed, ok := As(err); ok {
		return typed.Code
	}
	return CodeInternal
}

// IsTransient reports whether err should be treated as a network/proxy
// failure worth retrying and counting toward proxy health.
func IsTransient(err error) bool {
	return CodeOf(err) == CodeNetwork
}

// IsRetryable reports whether retrying the same step can make progress.
// Rejections, missing funds and ineligible networks cannot be retried away.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case CodeNetwork, CodeTimeout, CodeExhausted:
		return true
	default:
		return false
	}
}

func ExitCode(err error) int {
	if err == nil {
		return int(CodeSuccess)
	}
	if typed, ok := As(err); ok {
		return int(typed.Code)
	}
	return int(CodeInternal)
}
