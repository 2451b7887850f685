package driver

import (
	"fmt"

	"github.com/pkg/errors"
)

// Status is the code returned by a driver call. The values follow CUDA's cudaError_t, so the cudart binding can
// convert them directly.
type Status int

//go:generate go tool enumer -type=Status -trimprefix=Status error.go

const (
	StatusSuccess               Status = 0
	StatusInvalidValue          Status = 1
	StatusMemoryAllocation      Status = 2
	StatusInitializationError   Status = 3
	StatusNoDevice              Status = 100
	StatusInvalidDevice         Status = 101
	StatusInvalidResourceHandle Status = 400
	StatusIllegalState          Status = 401
	StatusNotReady              Status = 600
	StatusLaunchFailure         Status = 719
	StatusNotSupported          Status = 801
	StatusUnknown               Status = 999
)

// Error is returned by drivers for failed calls.
type Error struct {
	Code Status

	// Op is the name of the driver operation that failed, e.g. "CreateQueue".
	Op string

	// Message given by the underlying runtime, if any.
	Message string
}

// Error implements error.
func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("driver error in %s (code=%d %s)", e.Op, int(e.Code), e.Code)
	}
	return fmt.Sprintf("driver error in %s (code=%d %s): %s", e.Op, int(e.Code), e.Code, e.Message)
}

// NewError returns a *Error with a stack trace attached.
func NewError(op string, code Status, format string, args ...any) error {
	return errors.WithStack(&Error{Code: code, Op: op, Message: fmt.Sprintf(format, args...)})
}

// Code returns the Status of err if it wraps a driver *Error, StatusSuccess if err is nil, and StatusUnknown otherwise.
func Code(err error) Status {
	if err == nil {
		return StatusSuccess
	}
	var dErr *Error
	if errors.As(err, &dErr) {
		return dErr.Code
	}
	return StatusUnknown
}
