package bridge

import (
	"errors"
	"fmt"
)

// ErrConfigurationMissing marks an absent credential or preference.
var ErrConfigurationMissing = errors.New("configuration missing")

// ErrOperationInProgress rejects a subscribe or unsubscribe that overlaps another.
var ErrOperationInProgress = errors.New("a subscribe or unsubscribe operation is already in progress")

// TransportError is a non-success response from the registration endpoint.
type TransportError struct {
	Status int
	Body   string
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("registration endpoint returned status %d: %s", e.Status, e.Body)
}

// Platform push capability error codes.
const (
	CodeInternalError                = 500
	CodeInvalidProviderApplicationID = 10001
	CodeMissingInvokeTargetID        = 10002
	CodeSessionAlreadyExists         = 10005
)

// PlatformError is returned by the platform push capability.
type PlatformError struct {
	Code int
}

func (e *PlatformError) Error() string {
	return e.Message()
}

// Message returns the user-facing description of the error code.
func (e *PlatformError) Message() string {
	switch e.Code {
	case CodeInternalError:
		return "Error: An internal error occurred while creating the push service. Try restarting the application."
	case CodeInvalidProviderApplicationID:
		return "Error: Created the push service with a missing or invalid appId value. It usually means a programming error."
	case CodeMissingInvokeTargetID:
		return "Error: Created the push service with a missing invokeTargetId value. It usually means a programming error."
	case CodeSessionAlreadyExists:
		return "Error: Created the push service with an appId or invokeTargetId value that matches another application. It usually means a programming error."
	default:
		return fmt.Sprintf("Error: Received error code (%d) after creating the push service.", e.Code)
	}
}

// PayloadDecodeError reports a self-produced payload that could not be decoded.
type PayloadDecodeError struct {
	Err error
}

func (e *PayloadDecodeError) Error() string {
	return fmt.Sprintf("payload decode failed: %v", e.Err)
}

func (e *PayloadDecodeError) Unwrap() error {
	return e.Err
}
