// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package pipeline runs an ordered list of steps that thread a state
// value from one to the next.
//
// Steps run strictly in sequence on the calling goroutine. The first
// failing step stops the run; its error is returned wrapped in a
// *StepError naming the step. The runner never retries: a step that
// wants retries wraps its own body (see lib/retry).
package pipeline

import (
	"context"
	"fmt"
)

// Step is one unit of work. Run receives the state produced by the
// previous step (or the initial state) and returns the state for the
// next one.
type Step[T any] struct {
	Name string
	Run  func(ctx context.Context, state T) (T, error)
}

// StepError reports which step failed.
type StepError struct {
	Step  string
	Index int
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Run executes steps in order starting from state. On success it
// returns the final step's state. On failure it returns the state as
// of the last successful step together with the error. A context that
// is already done stops the run before the next step starts.
func Run[T any](ctx context.Context, state T, steps ...Step[T]) (T, error) {
	for index, step := range steps {
		if err := ctx.Err(); err != nil {
			return state, &StepError{Step: step.Name, Index: index, Err: err}
		}
		next, err := step.Run(ctx, state)
		if err != nil {
			return state, &StepError{Step: step.Name, Index: index, Err: err}
		}
		state = next
	}
	return state, nil
}
