// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package supervisor spawns and drives a dbsandbox-worker process.
//
// [Start] launches the worker in a new process group with the control
// channel on fd 3 and the resolved configuration as YAML on stdin. A
// reader goroutine routes every message the worker sends:
//
//   - log-location goes to [Supervisor.Events]
//   - ready and startup-failed settle [Supervisor.WaitReady]
//   - provisioned and provision-failed answer the pending
//     [Supervisor.Provision] call with the same request id
//   - protocol-error answers the matching pending call, or goes to
//     Events when nothing is waiting on that id
//
// When the channel ends without a final answer, WaitReady and every
// pending Provision fail with an error wrapping [ErrWorkerExited] and
// naming their own request id (the spawn id for WaitReady). Failures
// the worker reports arrive as [*RemoteError].
//
// [Supervisor.Close] asks the worker to shut down, closes the channel,
// and waits for the process to exit, killing its process group when
// the context expires first.
package supervisor
