package cbclusterboot

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// runSupervised invokes fn, converting a panic into a returned error so no
// background task can take the process down or vanish without its outcome
// being recorded.
func runSupervised(
	ctx context.Context,
	logger *zap.Logger,
	name string,
	fn func(ctx context.Context) error,
) (err error) {
	defer func() {
		if r := recover(); r != nil {
			recoveredPanics.Add(context.Background(), 1)

			logger.Error("a panic has been triggered",
				zap.String("task", name),
				zap.Any("panicValue", r),
				zap.Stack("stacktrace"))

			err = fmt.Errorf("task %s panicked: %v", name, r)
		}
	}()

	return fn(ctx)
}

// isContextErr identifies cancellation, which lifecycle handling treats as
// a non-failure: whoever cancelled decides what state comes next.
func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// loggerOrNop lets components take an optional logger in their options.
func loggerOrNop(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}
