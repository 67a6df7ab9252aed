// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source.
//
// The sandbox shutdown grace period and the tenant-creation retry delay
// wait on a Clock instead of the time package, so tests can drive them
// deterministically:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	go box.Shutdown(ctx)
//	fake.WaitForTimers(1)     // shutdown is in its grace period
//	fake.Advance(time.Second) // end it
//
// Production code uses Real().
package clock
