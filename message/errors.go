package message

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure carried in Outcome.Error.
type ErrorKind string

const (
	MethodNotFound       ErrorKind = "MethodNotFound"
	InvalidArgument      ErrorKind = "InvalidArgument"
	MalformedCommand     ErrorKind = "MalformedCommand"
	NotFound             ErrorKind = "NotFound"
	PermissionDenied     ErrorKind = "PermissionDenied"
	IOFailure            ErrorKind = "IOFailure"
	UnsupportedAlgorithm ErrorKind = "UnsupportedAlgorithm"
	OperationError       ErrorKind = "OperationError"
	Timeout              ErrorKind = "Timeout"
	RateLimited          ErrorKind = "RateLimited"
	Internal             ErrorKind = "Internal"
)

// RemoteError is the structured error a server returns instead of a result.
// It is a plain value: kind plus message, nothing language-specific.
type RemoteError struct {
	Kind    ErrorKind `codec:"kind" json:"kind"`
	Message string    `codec:"message" json:"message"`
}

func Errorf(kind ErrorKind, format string, args ...any) *RemoteError {
	return &RemoteError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func (e *RemoteError) Error() string {
	if e == nil {
		return ""
	}
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is matches another *RemoteError by kind, so callers can write
// errors.Is(err, &message.RemoteError{Kind: message.NotFound}).
func (e *RemoteError) Is(target error) bool {
	t, ok := target.(*RemoteError)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Kind == t.Kind
}

// KindOf extracts the ErrorKind of err, or "" if err carries no RemoteError.
func KindOf(err error) ErrorKind {
	var remote *RemoteError
	if errors.As(err, &remote) {
		return remote.Kind
	}
	return ""
}

// AsRemoteError converts any error into a RemoteError. Errors that already carry a
// RemoteError keep their kind; everything else becomes an OperationError.
func AsRemoteError(err error) *RemoteError {
	if err == nil {
		return nil
	}
	var remote *RemoteError
	if errors.As(err, &remote) {
		return remote
	}
	return &RemoteError{Kind: OperationError, Message: err.Error()}
}
