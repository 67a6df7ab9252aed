// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"slices"
	"sync"
	"time"
)

// FakeClock is a Clock whose time only moves when Advance is called.
// It is safe for concurrent use.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time

	// timers is ordered by deadline, then by registration.
	timers []pendingTimer

	// registered is closed and replaced every time a timer is added,
	// waking WaitForTimers callers.
	registered chan struct{}
}

type pendingTimer struct {
	deadline time.Time
	fire     chan time.Time
}

// Fake returns a FakeClock reading initial.
func Fake(initial time.Time) *FakeClock {
	return &FakeClock{now: initial, registered: make(chan struct{})}
}

// Now returns the fake current time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After registers a timer that fires once the clock reaches now+d.
// Non-positive durations fire immediately without registering.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	fire := make(chan time.Time, 1)
	if d <= 0 {
		fire <- c.now
		return fire
	}

	deadline := c.now.Add(d)
	index, _ := slices.BinarySearchFunc(c.timers, deadline, func(timer pendingTimer, target time.Time) int {
		if timer.deadline.After(target) {
			return 1
		}
		return -1
	})
	c.timers = slices.Insert(c.timers, index, pendingTimer{deadline: deadline, fire: fire})

	close(c.registered)
	c.registered = make(chan struct{})
	return fire
}

// Advance moves the clock forward by d and fires every timer whose
// deadline has been reached, earliest first.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	due := 0
	for due < len(c.timers) && !c.timers[due].deadline.After(now) {
		due++
	}
	expired := slices.Clone(c.timers[:due])
	c.timers = slices.Delete(c.timers, 0, due)
	c.mu.Unlock()

	for _, timer := range expired {
		timer.fire <- now
	}
}

// WaitForTimers blocks until at least n timers are pending. Call it
// before Advance so the goroutine under test has registered its wait.
func (c *FakeClock) WaitForTimers(n int) {
	for {
		c.mu.Lock()
		if len(c.timers) >= n {
			c.mu.Unlock()
			return
		}
		registered := c.registered
		c.mu.Unlock()
		<-registered
	}
}

// Pending returns the number of timers that have not fired.
func (c *FakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}
