// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ipc defines the control channel between the dbsandbox
// supervisor and its worker process.
//
// The channel is one end of an AF_UNIX stream socketpair created by the
// supervisor. The worker inherits the other end as file descriptor 3
// ([WorkerFD]). Each direction carries a stream of CBOR-encoded
// [Message] values; messages arrive in send order. There is no
// request/response framing at this layer: a provision request and its
// outcome are correlated by [Message].RequestID.
//
// Worker→supervisor: log-location (always first), ready or
// startup-failed, provisioned, provision-failed, protocol-error.
// Supervisor→worker: provision, shutdown.
//
// Errors crossing the channel are flattened into an [ErrorDetail] whose
// Causes list the unwrapped chain, so the supervisor's caller gets both
// a readable message and the individual links.
package ipc
