// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"unicode/utf8"
)

// MessageType tags a control message.
type MessageType string

const (
	// TypeLogLocation carries the worker's log file path. The worker
	// sends it once, before cluster setup starts.
	TypeLogLocation MessageType = "log-location"

	// TypeReady reports that the startup pipeline succeeded.
	TypeReady MessageType = "ready"

	// TypeStartupFailed reports that the startup pipeline failed. The
	// worker tears the sandbox down and exits after sending it.
	TypeStartupFailed MessageType = "startup-failed"

	// TypeProvision asks the worker for a new tenant database and
	// front-end endpoint.
	TypeProvision MessageType = "provision"

	// TypeProvisioned answers a provision request with its endpoint.
	TypeProvisioned MessageType = "provisioned"

	// TypeProvisionFailed answers a provision request with an error.
	TypeProvisionFailed MessageType = "provision-failed"

	// TypeProtocolError answers a message the worker did not
	// recognize. It is not fatal.
	TypeProtocolError MessageType = "protocol-error"

	// TypeShutdown asks the worker to tear down and exit. Closing the
	// channel has the same effect.
	TypeShutdown MessageType = "shutdown"
)

// Message is the unit of exchange on the control channel. Which fields
// are set depends on Type.
type Message struct {
	Type MessageType `cbor:"type"`

	// RequestID correlates a provision request with its outcome. For
	// ready and startup-failed it is the spawn id the supervisor passed
	// on the worker's command line.
	RequestID string `cbor:"request_id,omitempty"`

	// Database is the tenant database name for provision. Kept separate
	// from RequestID even though the supervisor sets both to the same
	// value; an empty Database means "use RequestID".
	Database string `cbor:"database,omitempty"`

	// Endpoint is set on provisioned.
	Endpoint *Endpoint `cbor:"endpoint,omitempty"`

	// Error is set on startup-failed, provision-failed, and
	// protocol-error.
	Error *ErrorDetail `cbor:"error,omitempty"`

	// Path is set on log-location.
	Path string `cbor:"path,omitempty"`
}

// DatabaseName returns the tenant database a provision message asks
// for.
func (m Message) DatabaseName() string {
	if m.Database != "" {
		return m.Database
	}
	return m.RequestID
}

// textField names one string of a message for validation errors.
type textField struct {
	name  string
	value string
}

// validate checks that every text field is valid UTF-8.
func (m Message) validate() error {
	fields := []textField{
		{"type", string(m.Type)},
		{"request_id", m.RequestID},
		{"database", m.Database},
		{"path", m.Path},
	}
	if m.Endpoint != nil {
		fields = append(fields, textField{"endpoint.host", m.Endpoint.Host})
	}
	if m.Error != nil {
		fields = append(fields,
			textField{"error.kind", string(m.Error.Kind)},
			textField{"error.message", m.Error.Message},
		)
		for index, cause := range m.Error.Causes {
			fields = append(fields, textField{fmt.Sprintf("error.causes[%d]", index), cause})
		}
	}
	for _, field := range fields {
		if !utf8.ValidString(field.value) {
			return fmt.Errorf("%s is not valid UTF-8", field.name)
		}
	}
	return nil
}

func textOrEmpty(value string) string {
	if utf8.ValidString(value) {
		return value
	}
	return ""
}

// Endpoint is where a provisioned front-end service listens.
type Endpoint struct {
	Host string `cbor:"host"`
	Port int    `cbor:"port"`
}

// Address returns host:port.
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// ErrorKind classifies a failure reported over the channel.
type ErrorKind string

const (
	KindStartup  ErrorKind = "startup"
	KindTenant   ErrorKind = "tenant"
	KindFrontend ErrorKind = "frontend"
	KindStopping ErrorKind = "stopping"
	KindProtocol ErrorKind = "protocol"
)

// ErrorDetail is an error flattened for transport.
type ErrorDetail struct {
	Kind ErrorKind `cbor:"kind"`

	// Message is err.Error() of the outermost error.
	Message string `cbor:"message"`

	// Causes holds the message of every error in the unwrap chain below
	// the outermost one, outermost first. For errors that join several
	// causes only the first branch is followed.
	Causes []string `cbor:"causes,omitempty"`
}

// NewErrorDetail flattens err.
func NewErrorDetail(kind ErrorKind, err error) *ErrorDetail {
	detail := &ErrorDetail{Kind: kind, Message: err.Error()}
	for cause := unwrapOne(err); cause != nil; cause = unwrapOne(cause) {
		detail.Causes = append(detail.Causes, cause.Error())
	}
	return detail
}

// RootCause returns the innermost message in the chain.
func (d *ErrorDetail) RootCause() string {
	if len(d.Causes) == 0 {
		return d.Message
	}
	return d.Causes[len(d.Causes)-1]
}

func unwrapOne(err error) error {
	if next := errors.Unwrap(err); next != nil {
		return next
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		if branches := joined.Unwrap(); len(branches) > 0 {
			return branches[0]
		}
	}
	return nil
}
