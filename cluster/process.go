// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cluster

import (
	"os/exec"

	"github.com/bureau-foundation/dbsandbox/lib/process"
)

// Process is a running cluster server. A background goroutine reaps
// it and closes Done when it exits.
type Process struct {
	pid  int
	done chan struct{}

	// Set before done is closed.
	exitCode  int
	waitError error
}

func reap(cmd *exec.Cmd) *Process {
	p := &Process{
		pid:  cmd.Process.Pid,
		done: make(chan struct{}),
	}
	go func() {
		p.waitError = cmd.Wait()
		p.exitCode = process.ExitCode(p.waitError)
		close(p.done)
	}()
	return p
}

// Pid returns the server's process id.
func (p *Process) Pid() int { return p.pid }

// Done is closed when the server has exited and been reaped.
func (p *Process) Done() <-chan struct{} { return p.done }

// ExitCode returns the server's exit code: -1 if it was killed by a
// signal or could not be waited on. Only meaningful after Done.
func (p *Process) ExitCode() int {
	<-p.done
	return p.exitCode
}

// Err returns the error from waiting on the server, nil for a clean
// exit. Blocks until Done.
func (p *Process) Err() error {
	<-p.done
	return p.waitError
}
