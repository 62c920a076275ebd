package cbhttpx

import (
	"errors"
	"fmt"
)

var ErrConnectError = errors.New("http connect failed")

// ConnectError carries the transport failure behind ErrConnectError.  It
// unwraps to the sentinel, never the cause: context cancellation is passed
// through before wrapping so it stays matchable.
type ConnectError struct {
	Cause error
}

func (e ConnectError) Error() string {
	return fmt.Sprintf("%s: %s", ErrConnectError, e.Cause)
}

func (e ConnectError) Unwrap() error {
	return ErrConnectError
}

// StatusCodeError is implemented by errors which carry the HTTP status code
// of the response that produced them.  Retry orchestration uses it to
// classify server-side failures without depending on the packages that
// decode them.
type StatusCodeError interface {
	error
	HttpStatusCode() int
}

type retrierDeadlineError struct {
	Cause      error
	RetryCause error
}

func (e retrierDeadlineError) Error() string {
	if e.RetryCause != nil {
		return fmt.Sprintf("timed out during retrying: %s (retry cause: %s)", e.Cause, e.RetryCause)
	} else {
		return fmt.Sprintf("timed out during retrying: %s", e.Cause)
	}
}

func (e retrierDeadlineError) Unwrap() error {
	return e.Cause
}
