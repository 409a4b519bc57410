package core

import (
	"time"

	"github.com/hyperion-automation/statecore/pkg/core/failfast"
)

// Error is a typed {Code, Message} error, used throughout the ambient
// stack so callers can switch on Code without string-matching Error().
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// ValidateAddress validates an orchestrator mailbox address (a MachineId
// or an internal reply address).
func ValidateAddress(address string) error {
	if address == "" {
		return &Error{Code: "INVALID_ADDRESS", Message: "address cannot be empty"}
	}
	if len(address) > 255 {
		return &Error{Code: "INVALID_ADDRESS", Message: "address too long (max 255 characters)"}
	}
	return nil
}

// ValidateTimeout validates a timeout duration used for request/response calls.
func ValidateTimeout(timeout time.Duration) error {
	if timeout <= 0 {
		return &Error{Code: "INVALID_TIMEOUT", Message: "timeout must be positive"}
	}
	if timeout > 5*time.Minute {
		return &Error{Code: "INVALID_TIMEOUT", Message: "timeout too large (max 5 minutes)"}
	}
	return nil
}

// ValidateBody validates an event/message payload.
func ValidateBody(body interface{}) error {
	if body == nil {
		return &Error{Code: "INVALID_BODY", Message: "body cannot be nil"}
	}
	return nil
}

// FailFast panics with an error (fail-fast principle).
// Deprecated: use failfast.Err instead.
func FailFast(err error) {
	failfast.Err(err)
}

// FailFastIf panics if condition is true.
// Deprecated: use failfast.If instead.
func FailFastIf(condition bool, message string) {
	failfast.If(!condition, message)
}
