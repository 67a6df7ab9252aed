// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/bureau-foundation/dbsandbox/lib/pipeline"
)

// Startup step names, as reported in pipeline.StepError.
const (
	StepInitCluster  = "init-cluster"
	StepStartCluster = "start-cluster"
)

// Start runs the startup pipeline. On error the sandbox is unusable
// and the caller should Shutdown it.
func (s *Sandbox) Start(ctx context.Context) error {
	s.logger.Info("starting sandbox", "directory", s.baseDirectory)
	_, err := pipeline.Run(ctx, struct{}{},
		pipeline.Step[struct{}]{Name: StepInitCluster, Run: s.initCluster},
		pipeline.Step[struct{}]{Name: StepStartCluster, Run: s.startCluster},
	)
	if err != nil {
		return fmt.Errorf("starting sandbox: %w", err)
	}
	return nil
}

func (s *Sandbox) initCluster(ctx context.Context, state struct{}) (struct{}, error) {
	if err := s.engine.Init(ctx, s.clusterDirectory); err != nil {
		return state, fmt.Errorf("initializing cluster in %s: %w", s.clusterDirectory, err)
	}
	if err := os.Mkdir(s.socketDirectory, 0700); err != nil {
		return state, fmt.Errorf("creating socket directory: %w", err)
	}
	return state, nil
}

func (s *Sandbox) startCluster(ctx context.Context, state struct{}) (struct{}, error) {
	logPath := filepath.Join(s.baseDirectory, "cluster.log")
	output, err := os.OpenFile(logPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0600)
	if err != nil {
		return state, fmt.Errorf("opening cluster log: %w", err)
	}
	// The child holds its own descriptor once started.
	defer output.Close()

	process, err := s.engine.Start(s.clusterDirectory, s.socketDirectory, output)
	if err != nil {
		return state, fmt.Errorf("launching cluster: %w", err)
	}

	s.mu.Lock()
	s.cluster = process
	s.mu.Unlock()

	go s.observeCluster(process)
	return state, nil
}

// exitCloseTimeout bounds front-end closes after an unexpected cluster
// exit, when no caller supplies a context.
const exitCloseTimeout = 10 * time.Second

// observeCluster removes the sandbox directory when the cluster
// process exits. An exit outside Shutdown also stops the sandbox:
// later Provision calls fail with ErrStopping and the registered
// front-ends are closed. The process group is not signalled, because
// the worker shares it and keeps serving.
func (s *Sandbox) observeCluster(process ClusterProcess) {
	<-process.Done()
	if !s.stopping.CompareAndSwap(false, true) {
		s.logger.Info("cluster process exited", "pid", process.Pid(), "exit_code", process.ExitCode())
		s.runCleanup()
		return
	}

	s.mu.Lock()
	services := slices.Clone(s.services)
	s.mu.Unlock()
	s.logger.Warn("cluster process exited unexpectedly, stopping sandbox",
		"pid", process.Pid(), "exit_code", process.ExitCode(), "services", len(services))

	ctx, cancel := context.WithTimeout(context.Background(), exitCloseTimeout)
	defer cancel()
	if err := s.closeServices(ctx, services); err != nil {
		s.logger.Warn("closing front-ends after cluster exit", "error", err)
	}
	s.runCleanup()
}
