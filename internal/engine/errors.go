package engine

import (
	"errors"
	"fmt"
)

var (
	ErrNoItems        = errors.New("no work items supplied")
	ErrNoValidPeriods = errors.New("no valid periods supplied")
	ErrNoStatus       = errors.New("target status is required")
)

// RequestError rejects a whole report request. Reason is meant for the end user.
type RequestError struct {
	Err    error
	Reason string
}

func (e *RequestError) Error() string {
	if e.Reason == "" {
		return e.Err.Error()
	}
	return e.Reason
}

func (e *RequestError) Unwrap() error { return e.Err }

func requestError(err error, format string, args ...any) error {
	return &RequestError{Err: err, Reason: fmt.Sprintf(format, args...)}
}
