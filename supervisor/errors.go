// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bureau-foundation/dbsandbox/lib/ipc"
)

// ErrWorkerExited is wrapped by errors for requests the worker never
// answered because its channel closed.
var ErrWorkerExited = errors.New("worker exited without replying")

// RemoteError is a failure reported by the worker.
type RemoteError struct {
	// RequestID is the provision request id, or the spawn id for a
	// startup failure.
	RequestID string
	Kind      ipc.ErrorKind
	Message   string

	// Causes is the worker-side error chain below Message, outermost
	// first.
	Causes []string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("request %s: %s", e.RequestID, e.Message)
}

// RootCause returns the innermost message of the worker-side chain.
func (e *RemoteError) RootCause() string {
	if len(e.Causes) == 0 {
		return e.Message
	}
	return e.Causes[len(e.Causes)-1]
}

// Chain returns Message and Causes joined for display.
func (e *RemoteError) Chain() string {
	return strings.Join(append([]string{e.Message}, e.Causes...), "\n  caused by: ")
}

func remoteError(message ipc.Message) *RemoteError {
	remote := &RemoteError{RequestID: message.RequestID, Kind: ipc.KindProtocol}
	if message.Error == nil {
		remote.Message = fmt.Sprintf("%s without error detail", message.Type)
		return remote
	}
	remote.Kind = message.Error.Kind
	remote.Message = message.Error.Message
	remote.Causes = message.Error.Causes
	return remote
}

func exitedError(requestID string) error {
	return fmt.Errorf("request %s: %w", requestID, ErrWorkerExited)
}
