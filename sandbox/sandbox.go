// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/bureau-foundation/dbsandbox/lib/clock"
	"github.com/bureau-foundation/dbsandbox/lib/config"
	"github.com/bureau-foundation/dbsandbox/lib/process"
)

// ErrStopping is returned by Provision once Shutdown has begun.
var ErrStopping = errors.New("sandbox is stopping")

var errNotReady = errors.New("front-end is not ready")

// Config holds configuration for creating a new Sandbox.
type Config struct {
	// BaseDirectory is the sandbox's private directory. It must exist
	// and is removed in its entirety on teardown. Required.
	BaseDirectory string

	// Cleanup removes BaseDirectory. Nil means os.RemoveAll. It is
	// invoked at most once.
	Cleanup func() error

	// Engine drives the cluster binaries. Required.
	Engine Engine

	// StartFrontend starts front-end services. Nil means StartFrontend.
	StartFrontend FrontendStarter

	// KillGroup terminates the caller's process group. Nil sends
	// SIGTERM to the group; the caller must handle SIGTERM to survive
	// it.
	KillGroup func() error

	// Clock times the grace period and tenant retry delay. Nil means
	// clock.Real().
	Clock clock.Clock

	// Settings and Frontend carry the provisioning parameters.
	Settings config.SandboxConfig
	Frontend config.FrontendConfig

	// PickPort returns a port in [min, max). Nil picks uniformly at
	// random.
	PickPort func(min, max int) int

	// Logger for sandbox operations. Nil means slog.Default().
	Logger *slog.Logger
}

// Sandbox owns one cluster and its front-end services.
type Sandbox struct {
	baseDirectory    string
	clusterDirectory string
	socketDirectory  string

	engine        Engine
	startFrontend FrontendStarter
	killGroup     func() error
	clock         clock.Clock
	settings      config.SandboxConfig
	frontend      config.FrontendConfig
	pickPort      func(min, max int) int
	logger        *slog.Logger

	cleanup     func() error
	cleanupOnce sync.Once
	cleanupErr  error
	cleanedUp   chan struct{}

	stopping atomic.Bool

	mu       sync.Mutex
	cluster  ClusterProcess
	services []Frontend
}

// New creates a Sandbox. It does not touch the filesystem or start
// anything; call Start.
func New(config Config) (*Sandbox, error) {
	if config.BaseDirectory == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	if config.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if config.Settings.PortMin >= config.Settings.PortMax {
		return nil, fmt.Errorf("port range [%d, %d) is empty", config.Settings.PortMin, config.Settings.PortMax)
	}

	base, err := filepath.Abs(config.BaseDirectory)
	if err != nil {
		return nil, fmt.Errorf("resolving base directory: %w", err)
	}

	s := &Sandbox{
		baseDirectory:    base,
		clusterDirectory: filepath.Join(base, "data"),
		socketDirectory:  filepath.Join(base, "socket"),
		engine:           config.Engine,
		startFrontend:    config.StartFrontend,
		killGroup:        config.KillGroup,
		clock:            config.Clock,
		settings:         config.Settings,
		frontend:         config.Frontend,
		pickPort:         config.PickPort,
		logger:           config.Logger,
		cleanup:          config.Cleanup,
		cleanedUp:        make(chan struct{}),
	}
	if s.startFrontend == nil {
		s.startFrontend = StartFrontend
	}
	if s.killGroup == nil {
		s.killGroup = func() error { return process.SignalOwnGroup(syscall.SIGTERM) }
	}
	if s.clock == nil {
		s.clock = clock.Real()
	}
	if s.pickPort == nil {
		s.pickPort = func(min, max int) int { return min + rand.IntN(max-min) }
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.cleanup == nil {
		s.cleanup = func() error { return os.RemoveAll(base) }
	}
	return s, nil
}

// BaseDirectory returns the sandbox's private directory.
func (s *Sandbox) BaseDirectory() string { return s.baseDirectory }

// SocketDirectory returns the cluster's Unix socket directory.
func (s *Sandbox) SocketDirectory() string { return s.socketDirectory }

// ClusterRunning reports whether the start-cluster step has completed.
// It stays true after the process exits.
func (s *Sandbox) ClusterRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cluster != nil
}

// ClusterPid returns the cluster server's pid, or 0 before
// start-cluster has completed.
func (s *Sandbox) ClusterPid() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cluster == nil {
		return 0
	}
	return s.cluster.Pid()
}

// Stopping reports whether Shutdown has been called.
func (s *Sandbox) Stopping() bool { return s.stopping.Load() }

// ServiceCount returns the number of registered front-end services.
func (s *Sandbox) ServiceCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.services)
}

// CleanedUp is closed once the base directory has been removed (or the
// removal attempted).
func (s *Sandbox) CleanedUp() <-chan struct{} { return s.cleanedUp }

// runCleanup invokes the cleanup callback at most once and returns its
// result to every caller.
func (s *Sandbox) runCleanup() error {
	s.cleanupOnce.Do(func() {
		s.cleanupErr = s.cleanup()
		if s.cleanupErr != nil {
			s.logger.Error("removing sandbox directory failed",
				"directory", s.baseDirectory, "error", s.cleanupErr)
		} else {
			s.logger.Info("sandbox directory removed", "directory", s.baseDirectory)
		}
		close(s.cleanedUp)
	})
	return s.cleanupErr
}
