// Package testutil holds helpers for tests that wait on goroutines: file
// loads, directory scans and WebSocket pumps.
package testutil

import (
	"context"
	"fmt"
	"time"
)

// Default polling parameters.
const (
	DefaultTimeout  = 5 * time.Second
	DefaultInterval = 5 * time.Millisecond
)

// Poll checks condition every interval until it holds, timeout passes or
// ctx is done.
func Poll(ctx context.Context, condition func() bool, timeout, interval time.Duration) error {
	_, err := WaitForState(ctx, condition, func(ok bool) bool { return ok }, timeout, interval)
	if err != nil {
		return fmt.Errorf("timeout waiting for condition (threshold: %v): %w", timeout, err)
	}
	return nil
}

// WaitForState calls getter every interval until predicate accepts its
// result.
func WaitForState[T any](ctx context.Context, getter func() T, predicate func(T) bool, timeout, interval time.Duration) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if v := getter(); predicate(v) {
			return v, nil
		}
		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Receive polls a non-blocking receive until it yields a value match
// accepts. Values match rejects are discarded.
func Receive[T any](ctx context.Context, recv func() (T, bool), match func(T) bool, timeout time.Duration) (T, error) {
	var found T
	_, err := WaitForState(ctx, func() bool {
		for {
			v, ok := recv()
			if !ok {
				return false
			}
			if match(v) {
				found = v
				return true
			}
		}
	}, func(ok bool) bool { return ok }, timeout, DefaultInterval)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("timeout waiting for %T: %w", *new(T), err)
	}
	return found, nil
}
