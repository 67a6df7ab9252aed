// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/dbsandbox/lib/codec"
)

// WorkerFD is the descriptor number of the control socket inside the
// worker process (the first entry of exec.Cmd.ExtraFiles).
const WorkerFD = 3

// ErrClosed is returned by Receive once the peer has closed its end or
// Close has been called locally.
var ErrClosed = errors.New("control channel closed")

// MalformedError is returned by Receive for an item that was framed
// correctly but is not a valid control message. The channel stays
// usable; the next Receive reads the following item.
type MalformedError struct {
	// RequestID is the item's request id when one could be recovered
	// as valid text, else "".
	RequestID string
	Err       error
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed control message: %v", e.Err)
}

func (e *MalformedError) Unwrap() error { return e.Err }

// Channel is one end of the control channel. Send is safe for
// concurrent use; Receive must be called from a single goroutine.
type Channel struct {
	conn    io.ReadWriteCloser
	decoder *codec.Decoder

	sendMu  sync.Mutex
	encoder *codec.Encoder

	closeOnce sync.Once
	closeErr  error
}

// NewChannel wraps an established connection.
func NewChannel(conn io.ReadWriteCloser) *Channel {
	return &Channel{
		conn:    conn,
		decoder: codec.NewDecoder(conn),
		encoder: codec.NewEncoder(conn),
	}
}

// Send writes one message.
func (c *Channel) Send(message Message) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if err := c.encoder.Encode(message); err != nil {
		return fmt.Errorf("sending %s message: %w", message.Type, err)
	}
	return nil
}

// Receive blocks for the next message. It returns ErrClosed when the
// stream ends cleanly or the channel was closed locally, and a
// *MalformedError for a single bad item. Any other error means the
// stream is broken.
func (c *Channel) Receive() (Message, error) {
	var message Message
	if err := c.decoder.Decode(&message); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed) || errors.Is(err, os.ErrClosed) {
			return Message{}, ErrClosed
		}
		if codec.IsItemError(err) {
			return Message{}, &MalformedError{RequestID: textOrEmpty(message.RequestID), Err: err}
		}
		return Message{}, fmt.Errorf("receiving control message: %w", err)
	}
	if err := message.validate(); err != nil {
		return Message{}, &MalformedError{RequestID: textOrEmpty(message.RequestID), Err: err}
	}
	return message, nil
}

// Close closes the underlying connection. Safe to call more than once.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// Socketpair returns the two ends of a new control channel: the local
// end as a net.Conn and the remote end as an *os.File ready to be
// placed in exec.Cmd.ExtraFiles. Both descriptors are close-on-exec;
// ExtraFiles clears the flag on the child's copy. The caller closes
// remote after starting the child.
func Socketpair() (local net.Conn, remote *os.File, err error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("creating control socketpair: %w", err)
	}

	localFile := os.NewFile(uintptr(fds[0]), "control-supervisor")
	remote = os.NewFile(uintptr(fds[1]), "control-worker")

	local, err = net.FileConn(localFile)
	// FileConn dups the descriptor; the original is no longer needed.
	localFile.Close()
	if err != nil {
		remote.Close()
		return nil, nil, fmt.Errorf("wrapping control socket: %w", err)
	}
	return local, remote, nil
}

// InheritedConn returns the control socket a worker inherited at
// WorkerFD.
func InheritedConn() (net.Conn, error) {
	file := os.NewFile(WorkerFD, "control")
	if file == nil {
		return nil, fmt.Errorf("control descriptor %d is not valid", WorkerFD)
	}
	conn, err := net.FileConn(file)
	file.Close()
	if err != nil {
		return nil, fmt.Errorf("control descriptor %d: %w", WorkerFD, err)
	}
	return conn, nil
}
