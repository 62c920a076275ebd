package cbhttpx

import (
	"context"
	"errors"
	"time"
)

type RetryController interface {
	ShouldRetry(err error) (time.Duration, bool)
}

type RetryManager interface {
	NewRetryController() RetryController
}

func OrchestrateRetries[RespT any](
	ctx context.Context,
	rs RetryManager,
	fn func() (RespT, error),
) (RespT, error) {
	var opRetryController RetryController
	var lastErr error
	for {
		res, err := fn()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return res, retrierDeadlineError{err, lastErr}
			}
			if errors.Is(err, context.Canceled) {
				return res, err
			}

			if opRetryController == nil {
				opRetryController = rs.NewRetryController()
			}

			retryTime, shouldRetry := opRetryController.ShouldRetry(err)
			if shouldRetry {
				select {
				case <-time.After(retryTime):
				case <-ctx.Done():
					ctxErr := ctx.Err()
					if errors.Is(ctxErr, context.DeadlineExceeded) {
						return res, retrierDeadlineError{ctxErr, err}
					} else {
						return res, err
					}
				}

				lastErr = err
				continue
			}

			return res, err
		}

		return res, nil
	}
}

func OrchestrateNoResponseRetries(
	ctx context.Context,
	rs RetryManager,
	fn func() error,
) error {
	_, err := OrchestrateRetries[struct{}](ctx, rs, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// RetryManagerFixed retries transient failures a fixed number of times with
// a constant delay between attempts.  Transient means a connect-level error
// or a response status which suggests the server may recover: anything 500
// and above, request timeout, or too many requests.  Anything else fails
// the operation immediately.
type RetryManagerFixed struct {
	MaxAttempts uint32
	Backoff     time.Duration
}

func NewRetryManagerFixed() *RetryManagerFixed {
	return &RetryManagerFixed{
		MaxAttempts: 60,
		Backoff:     1 * time.Second,
	}
}

func (m *RetryManagerFixed) NewRetryController() RetryController {
	return &retryControllerFixed{
		parent: m,
	}
}

type retryControllerFixed struct {
	parent     *RetryManagerFixed
	retryCount uint32
}

func isRetriableStatusCode(statusCode int) bool {
	return statusCode >= 500 ||
		statusCode == 408 ||
		statusCode == 429
}

func (rc *retryControllerFixed) isRetriableError(err error) bool {
	if errors.Is(err, ErrConnectError) {
		return true
	}

	var statusErr StatusCodeError
	if errors.As(err, &statusErr) {
		return isRetriableStatusCode(statusErr.HttpStatusCode())
	}

	return false
}

func (rc *retryControllerFixed) ShouldRetry(err error) (time.Duration, bool) {
	if !rc.isRetriableError(err) {
		return 0, false
	}

	// the first attempt already happened, so we stop once the total number
	// of attempts reaches the configured maximum
	if rc.retryCount+1 >= rc.parent.MaxAttempts {
		return 0, false
	}

	rc.retryCount++
	retriedHttpRequests.Add(context.Background(), 1)

	return rc.parent.Backoff, true
}
