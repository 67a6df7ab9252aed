// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"errors"
	"fmt"
	"syscall"

	"golang.org/x/sys/unix"
)

// BecomeGroupLeader moves the calling process into a new process group
// whose id is its own pid. It is a no-op when the process already leads
// its group.
func BecomeGroupLeader() error {
	if unix.Getpgrp() == unix.Getpid() {
		return nil
	}
	if err := unix.Setpgid(0, 0); err != nil {
		return fmt.Errorf("setpgid: %w", err)
	}
	return nil
}

// SignalGroup sends sig to every process in the process group pgid.
// A group that no longer exists is not an error.
func SignalGroup(pgid int, sig syscall.Signal) error {
	if pgid <= 1 {
		return fmt.Errorf("refusing to signal process group %d", pgid)
	}
	if err := unix.Kill(-pgid, sig); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return nil
		}
		return fmt.Errorf("signalling process group %d with %v: %w", pgid, sig, err)
	}
	return nil
}

// SignalOwnGroup sends sig to the caller's process group, the caller
// included. Callers that must survive the signal install a handler for
// it first (signal.Notify).
func SignalOwnGroup(sig syscall.Signal) error {
	return SignalGroup(unix.Getpgrp(), sig)
}
