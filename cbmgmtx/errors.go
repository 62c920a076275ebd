package cbmgmtx

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrAccessDenied       = errors.New("access denied")
	ErrUnsupportedFeature = errors.New("unsupported feature")
	ErrPoolNotInitialized = errors.New("pool is not initialized")
	ErrAlreadyInitialized = errors.New("cluster is already initialized")
	ErrNodeAlreadyJoined  = errors.New("node is already part of a cluster")
	ErrBucketExists       = errors.New("bucket already exists")
	ErrBucketNotFound     = errors.New("bucket not found")
	ErrBucketUuidMismatch = errors.New("bucket uuid mismatch")
	ErrScopeExists        = errors.New("scope already exists")
	ErrScopeNotFound      = errors.New("scope not found")
	ErrCollectionExists   = errors.New("collection already exists")
	ErrCollectionNotFound = errors.New("collection not found")
	ErrFlushDisabled      = errors.New("flush is disabled")
	ErrRebalanceFailed    = errors.New("rebalance failed")
	ErrServerInvalidArg   = errors.New("invalid argument")
)

type ServerError struct {
	Cause      error
	StatusCode int
	Body       []byte
}

func (e ServerError) Error() string {
	if len(e.Body) > 0 {
		return fmt.Sprintf("server error: %s (status: %d, body: %s)", e.Cause.Error(), e.StatusCode, e.Body)
	}
	return fmt.Sprintf("server error: %s (status: %d)", e.Cause.Error(), e.StatusCode)
}

func (e ServerError) Unwrap() error {
	return e.Cause
}

// HttpStatusCode implements cbhttpx.StatusCodeError so that retry
// orchestration can classify the response which produced this error.
func (e ServerError) HttpStatusCode() int {
	return e.StatusCode
}

type ServerInvalidArgError struct {
	Argument string
	Reason   string
}

func (e ServerInvalidArgError) Error() string {
	return fmt.Sprintf("%s: %s - %s", ErrServerInvalidArg, e.Argument, e.Reason)
}

func (e ServerInvalidArgError) Unwrap() error {
	return ErrServerInvalidArg
}

func parseForInvalidArg(errText string) ServerInvalidArgError {
	var parsed struct {
		Errors map[string]string `json:"errors"`
	}
	if err := json.Unmarshal([]byte(errText), &parsed); err != nil {
		return ServerInvalidArgError{Reason: errText}
	}

	for arg, reason := range parsed.Errors {
		return ServerInvalidArgError{Argument: arg, Reason: reason}
	}

	return ServerInvalidArgError{Reason: errText}
}
