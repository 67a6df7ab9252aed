// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package retry provides a bounded retry combinator.
//
// A Policy fixes the number of attempts and the delay between them.
// The delay may be zero: tenant database creation retries immediately
// because the only expected failure is the cluster still starting up,
// and the attempt itself (a createdb subprocess) already takes long
// enough to space the attempts out.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/bureau-foundation/dbsandbox/lib/clock"
)

// Policy configures Do.
type Policy struct {
	// Attempts is the total number of calls, first attempt included.
	// Values below 1 are treated as 1.
	Attempts int

	// Delay is the pause between a failed attempt and the next one.
	Delay time.Duration

	// Clock times the delay. Nil means clock.Real().
	Clock clock.Clock

	// Notify, when set, is called after every failed attempt that will
	// be retried.
	Notify func(attempt int, err error)
}

// ExhaustedError is returned by Do when every attempt failed. It
// unwraps to the error from the final attempt.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("giving up after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// Do calls operation until it succeeds, the policy's attempts are used
// up, or ctx is cancelled. The attempt number passed to operation
// starts at 1.
func Do(ctx context.Context, policy Policy, operation func(ctx context.Context, attempt int) error) error {
	attempts := policy.Attempts
	if attempts < 1 {
		attempts = 1
	}
	timeSource := policy.Clock
	if timeSource == nil {
		timeSource = clock.Real()
	}

	var lastError error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 && policy.Delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timeSource.After(policy.Delay):
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		lastError = operation(ctx, attempt)
		if lastError == nil {
			return nil
		}
		if attempt < attempts && policy.Notify != nil {
			policy.Notify(attempt, lastError)
		}
	}
	return &ExhaustedError{Attempts: attempts, Last: lastError}
}
