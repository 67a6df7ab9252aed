// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"unicode/utf8"

	"github.com/bureau-foundation/dbsandbox/lib/config"
	"github.com/bureau-foundation/dbsandbox/lib/ipc"
	"github.com/bureau-foundation/dbsandbox/lib/process"
)

// WorkerBinaryName is looked up next to the running executable and
// then on PATH when no worker binary is configured.
const WorkerBinaryName = "dbsandbox-worker"

// Config holds configuration for starting a worker.
type Config struct {
	// Settings is handed to the worker. Nil means config.Default().
	Settings *config.Config

	// WorkerBinary overrides Settings.Worker.Binary.
	WorkerBinary string

	// Args are appended to the worker's command line.
	Args []string

	// Env is the worker's environment. Nil means os.Environ().
	Env []string

	// Stderr receives the worker's stderr. Nil means os.Stderr.
	Stderr io.Writer

	// Logger for supervisor operations. Nil means slog.Default().
	Logger *slog.Logger
}

// EventKind classifies an Event.
type EventKind string

const (
	// EventLogLocation carries the worker's log file path.
	EventLogLocation EventKind = "log-location"

	// EventProtocolError carries a protocol-error no pending call
	// was waiting for.
	EventProtocolError EventKind = "protocol-error"

	// EventWorkerExited is the last event; Events is closed after it.
	EventWorkerExited EventKind = "worker-exited"
)

// Event is an informational notice from the worker.
type Event struct {
	Kind EventKind

	// Path is set for EventLogLocation.
	Path string

	// Error is set for EventProtocolError.
	Error *RemoteError

	// ExitCode is set for EventWorkerExited.
	ExitCode int
}

// Supervisor owns one worker process.
type Supervisor struct {
	spawnID string
	logger  *slog.Logger
	channel *ipc.Channel
	pid     int

	events chan Event

	ready     chan struct{}
	readyOnce sync.Once
	readyErr  error

	mu           sync.Mutex
	pending      map[string]chan ipc.Message
	disconnected bool
	logPath      string

	readerDone chan struct{}
	exited     chan struct{}
	exitCode   int

	closeOnce sync.Once
	closeErr  error
}

// Start spawns a worker and returns once the process is running. ctx
// bounds the spawn only; use WaitReady for the startup outcome.
func Start(ctx context.Context, cfg Config, spawnID string) (*Supervisor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if spawnID == "" {
		return nil, fmt.Errorf("spawn id is required")
	}
	settings := cfg.Settings
	if settings == nil {
		settings = config.Default()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("spawn_id", spawnID)

	binary := cfg.WorkerBinary
	if binary == "" {
		binary = settings.Worker.Binary
	}
	binary, err := resolveWorkerBinary(binary)
	if err != nil {
		return nil, err
	}

	encoded, err := settings.Marshal()
	if err != nil {
		return nil, fmt.Errorf("encoding worker configuration: %w", err)
	}

	local, remote, err := ipc.Socketpair()
	if err != nil {
		return nil, err
	}

	args := append([]string{"--spawn-id", spawnID, "--config", "-"}, cfg.Args...)
	cmd := exec.Command(binary, args...)
	cmd.Stdin = bytes.NewReader(encoded)
	cmd.Stdout = cfg.Stderr
	cmd.Stderr = cfg.Stderr
	if cfg.Stderr == nil {
		cmd.Stdout = os.Stderr
		cmd.Stderr = os.Stderr
	}
	cmd.Env = cfg.Env
	cmd.ExtraFiles = []*os.File{remote}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		local.Close()
		remote.Close()
		return nil, fmt.Errorf("starting %s: %w", binary, err)
	}
	// The child has its own copy.
	remote.Close()

	s := &Supervisor{
		spawnID:    spawnID,
		logger:     logger,
		channel:    ipc.NewChannel(local),
		pid:        cmd.Process.Pid,
		events:     make(chan Event, 64),
		ready:      make(chan struct{}),
		pending:    make(map[string]chan ipc.Message),
		readerDone: make(chan struct{}),
		exited:     make(chan struct{}),
	}
	logger.Info("worker started", "binary", binary, "pid", s.pid)

	go func() {
		s.exitCode = process.ExitCode(cmd.Wait())
		close(s.exited)
	}()
	go s.readLoop()
	go func() {
		<-s.readerDone
		<-s.exited
		s.logger.Info("worker exited", "pid", s.pid, "exit_code", s.exitCode)
		s.emit(Event{Kind: EventWorkerExited, ExitCode: s.exitCode})
		close(s.events)
	}()
	return s, nil
}

// Events returns informational events. The channel is buffered and
// closed after EventWorkerExited; events are dropped when the buffer
// is full.
func (s *Supervisor) Events() <-chan Event { return s.events }

// Pid returns the worker's process id, which is also its process
// group id.
func (s *Supervisor) Pid() int { return s.pid }

// LogPath returns the worker's reported log file path, or "" if it has
// not been reported.
func (s *Supervisor) LogPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logPath
}

// Done is closed when the worker process has exited.
func (s *Supervisor) Done() <-chan struct{} { return s.exited }

// ExitCode returns the worker's exit code. Only meaningful after Done.
func (s *Supervisor) ExitCode() int {
	<-s.exited
	return s.exitCode
}

// WaitReady blocks until the worker reports ready or startup-failed,
// or its channel closes. A startup failure is a *RemoteError tagged
// with the spawn id.
func (s *Supervisor) WaitReady(ctx context.Context) error {
	select {
	case <-s.ready:
		return s.readyErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Provision asks the worker for a tenant database named requestID
// and returns its front-end endpoint. The id must be valid UTF-8, and
// a request id may only have one call in flight at a time.
func (s *Supervisor) Provision(ctx context.Context, requestID string) (ipc.Endpoint, error) {
	if requestID == "" {
		return ipc.Endpoint{}, fmt.Errorf("request id is required")
	}
	if !utf8.ValidString(requestID) {
		return ipc.Endpoint{}, fmt.Errorf("request id %q is not valid UTF-8", requestID)
	}

	reply := make(chan ipc.Message, 1)
	s.mu.Lock()
	if s.disconnected {
		s.mu.Unlock()
		return ipc.Endpoint{}, exitedError(requestID)
	}
	if _, busy := s.pending[requestID]; busy {
		s.mu.Unlock()
		return ipc.Endpoint{}, fmt.Errorf("request %s is already in flight", requestID)
	}
	s.pending[requestID] = reply
	s.mu.Unlock()

	err := s.channel.Send(ipc.Message{
		Type:      ipc.TypeProvision,
		RequestID: requestID,
		Database:  requestID,
	})
	if err != nil {
		s.forget(requestID, reply)
		// A broken channel means the worker is gone or going; the
		// reader observes the same end.
		select {
		case <-s.readerDone:
			return ipc.Endpoint{}, exitedError(requestID)
		case <-ctx.Done():
			return ipc.Endpoint{}, fmt.Errorf("request %s: sending provision: %w", requestID, err)
		}
	}

	select {
	case message, ok := <-reply:
		if !ok {
			return ipc.Endpoint{}, exitedError(requestID)
		}
		if message.Type == ipc.TypeProvisioned && message.Endpoint != nil {
			return *message.Endpoint, nil
		}
		return ipc.Endpoint{}, remoteError(message)
	case <-ctx.Done():
		s.forget(requestID, reply)
		return ipc.Endpoint{}, fmt.Errorf("request %s: %w", requestID, ctx.Err())
	}
}

// forget drops a pending entry if it still belongs to reply.
func (s *Supervisor) forget(requestID string, reply chan ipc.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending[requestID] == reply {
		delete(s.pending, requestID)
	}
}

// Close asks the worker to shut down and waits for it to exit. When
// ctx expires first, the worker's process group is killed and the
// context error is returned. Later calls return the first result.
func (s *Supervisor) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		if err := s.channel.Send(ipc.Message{Type: ipc.TypeShutdown}); err != nil && !errors.Is(err, ipc.ErrClosed) {
			s.logger.Debug("sending shutdown failed", "error", err)
		}
		s.channel.Close()

		select {
		case <-s.exited:
		case <-ctx.Done():
			s.logger.Warn("worker did not exit in time, killing its process group", "pid", s.pid)
			if err := process.SignalGroup(s.pid, syscall.SIGKILL); err != nil {
				s.logger.Error("killing worker process group failed", "error", err)
			}
			<-s.exited
			s.closeErr = fmt.Errorf("waiting for worker exit: %w", ctx.Err())
		}
		<-s.readerDone
	})
	return s.closeErr
}

func (s *Supervisor) readLoop() {
	defer close(s.readerDone)
	for {
		message, err := s.channel.Receive()
		var malformed *ipc.MalformedError
		if errors.As(err, &malformed) {
			s.logger.Warn("malformed message from worker", "request_id", malformed.RequestID, "error", err)
			s.dispatch(ipc.Message{
				Type:      ipc.TypeProtocolError,
				RequestID: malformed.RequestID,
				Error:     &ipc.ErrorDetail{Kind: ipc.KindProtocol, Message: err.Error()},
			})
			continue
		}
		if err != nil {
			if !errors.Is(err, ipc.ErrClosed) {
				s.logger.Warn("control channel read failed", "error", err)
			}
			break
		}
		s.dispatch(message)
	}

	s.settleReady(exitedError(s.spawnID))

	s.mu.Lock()
	s.disconnected = true
	pending := s.pending
	s.pending = make(map[string]chan ipc.Message)
	s.mu.Unlock()
	for _, reply := range pending {
		close(reply)
	}
}

func (s *Supervisor) dispatch(message ipc.Message) {
	switch message.Type {
	case ipc.TypeLogLocation:
		s.mu.Lock()
		s.logPath = message.Path
		s.mu.Unlock()
		s.logger.Info("worker log", "path", message.Path)
		s.emit(Event{Kind: EventLogLocation, Path: message.Path})

	case ipc.TypeReady:
		if message.RequestID != s.spawnID {
			s.logger.Warn("ready for unexpected spawn id", "request_id", message.RequestID)
		}
		s.settleReady(nil)

	case ipc.TypeStartupFailed:
		failure := remoteError(message)
		failure.RequestID = s.spawnID
		s.settleReady(failure)

	case ipc.TypeProvisioned, ipc.TypeProvisionFailed:
		if !s.deliver(message) {
			s.logger.Warn("reply for unknown request", "type", string(message.Type), "request_id", message.RequestID)
		}

	case ipc.TypeProtocolError:
		if !s.deliver(message) {
			s.emit(Event{Kind: EventProtocolError, Error: remoteError(message)})
		}

	default:
		s.logger.Warn("unrecognized message from worker", "type", string(message.Type))
	}
}

// deliver hands a reply to the pending call for its request id.
func (s *Supervisor) deliver(message ipc.Message) bool {
	s.mu.Lock()
	reply, ok := s.pending[message.RequestID]
	if ok {
		delete(s.pending, message.RequestID)
	}
	s.mu.Unlock()
	if ok {
		reply <- message
	}
	return ok
}

func (s *Supervisor) settleReady(err error) {
	s.readyOnce.Do(func() {
		s.readyErr = err
		close(s.ready)
	})
}

func (s *Supervisor) emit(event Event) {
	select {
	case s.events <- event:
	default:
		s.logger.Debug("event dropped", "kind", string(event.Kind))
	}
}

func resolveWorkerBinary(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	if executable, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(executable), WorkerBinaryName)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	path, err := exec.LookPath(WorkerBinaryName)
	if err != nil {
		return "", fmt.Errorf("%s not found next to this binary or on PATH: %w", WorkerBinaryName, err)
	}
	return path, nil
}
