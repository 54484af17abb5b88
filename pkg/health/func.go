package health

import (
	"context"
	"fmt"
	"time"
)

// FuncChecker adapts a probe function, e.g. a store's Ping
type FuncChecker struct {
	fn func(ctx context.Context) error
	ok string
}

// NewFuncChecker wraps fn; ok is the message reported on success
func NewFuncChecker(ok string, fn func(ctx context.Context) error) *FuncChecker {
	return &FuncChecker{fn: fn, ok: ok}
}

// Check calls the function, giving up when ctx ends
func (f *FuncChecker) Check(ctx context.Context) Result {
	start := time.Now()

	done := make(chan error, 1)
	go func() { done <- f.fn(ctx) }()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = fmt.Errorf("check timed out: %w", ctx.Err())
	}

	if err != nil {
		return Result{
			Healthy:   false,
			Message:   err.Error(),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}
	return Result{
		Healthy:   true,
		Message:   f.ok,
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Type returns the health check type
func (f *FuncChecker) Type() CheckType {
	return CheckTypeFunc
}
