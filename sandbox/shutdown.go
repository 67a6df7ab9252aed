// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
)

// Shutdown tears the sandbox down. Only the first call does anything;
// later calls return nil without waiting.
//
// With a cluster handle: close all front-end services concurrently and
// wait for every one, signal the process group, wait the grace period,
// then remove the base directory. Without one, only remove the base
// directory. A cancelled ctx cuts the grace period short; it does not
// skip any step. An unexpected cluster exit runs its own teardown and
// makes later calls no-ops too.
func (s *Sandbox) Shutdown(ctx context.Context) error {
	if !s.stopping.CompareAndSwap(false, true) {
		return nil
	}

	s.mu.Lock()
	cluster := s.cluster
	services := slices.Clone(s.services)
	s.mu.Unlock()

	if cluster == nil {
		s.logger.Info("shutting down sandbox without a cluster")
		return s.runCleanup()
	}

	s.logger.Info("shutting down sandbox", "services", len(services), "cluster_pid", cluster.Pid())

	closeError := s.closeServices(ctx, services)
	s.logger.Debug("front-end services closed")

	var killError error
	if err := s.killGroup(); err != nil {
		killError = fmt.Errorf("signalling process group: %w", err)
		s.logger.Warn("signalling process group failed", "error", err)
	}

	select {
	case <-s.clock.After(s.settings.GracePeriod):
	case <-ctx.Done():
		s.logger.Warn("grace period cut short", "error", ctx.Err())
	}

	cleanupError := s.runCleanup()
	return errors.Join(closeError, killError, cleanupError)
}

// closeServices closes every service concurrently and waits for all of
// them.
func (s *Sandbox) closeServices(ctx context.Context, services []Frontend) error {
	closeErrors := make([]error, len(services))
	var group sync.WaitGroup
	for index, service := range services {
		group.Add(1)
		go func() {
			defer group.Done()
			if err := service.Close(ctx); err != nil {
				closeErrors[index] = fmt.Errorf("closing front-end %d: %w", index, err)
			}
		}()
	}
	group.Wait()
	return errors.Join(closeErrors...)
}
