// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package worker serves one sandbox over the control channel.
//
// [Worker.Run] reports the log location, runs the sandbox's startup
// pipeline, answers ready or startup-failed, and then serves provision
// requests until the supervisor disconnects, sends shutdown, or ctx is
// cancelled (the binary cancels it on SIGINT and SIGTERM). Each
// provision request runs on its own goroutine and receives exactly one
// provisioned or provision-failed reply. Messages of any other type,
// and items that do not decode as a control message, get a
// protocol-error reply and the worker keeps serving.
//
// log-location is always the first message Run sends. The one stream
// without it comes from a worker binary that fails before a Worker
// exists: it sends startup-failed alone, because the sandbox directory
// that would hold the log is removed with the failure.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bureau-foundation/dbsandbox/lib/ipc"
	"github.com/bureau-foundation/dbsandbox/lib/pipeline"
	"github.com/bureau-foundation/dbsandbox/sandbox"
)

// Sandbox is the part of *sandbox.Sandbox the worker drives.
type Sandbox interface {
	Start(ctx context.Context) error
	Provision(ctx context.Context, requestID, database string) (ipc.Endpoint, error)
	Shutdown(ctx context.Context) error
}

// Config holds configuration for creating a Worker.
type Config struct {
	// Channel is the control channel to the supervisor. The worker
	// closes it when Run returns.
	Channel *ipc.Channel

	// Sandbox is the sandbox to serve.
	Sandbox Sandbox

	// SpawnID tags ready and startup-failed.
	SpawnID string

	// LogPath is reported in the log-location message.
	LogPath string

	Logger *slog.Logger
}

// Worker serves one sandbox.
type Worker struct {
	channel *ipc.Channel
	sandbox Sandbox
	spawnID string
	logPath string
	logger  *slog.Logger

	// inflight counts provision handlers still running.
	inflight sync.WaitGroup
}

// New creates a Worker.
func New(config Config) (*Worker, error) {
	if config.Channel == nil {
		return nil, fmt.Errorf("channel is required")
	}
	if config.Sandbox == nil {
		return nil, fmt.Errorf("sandbox is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		channel: config.Channel,
		sandbox: config.Sandbox,
		spawnID: config.SpawnID,
		logPath: config.LogPath,
		logger:  logger,
	}, nil
}

// Run serves until disconnect, shutdown, or ctx cancellation, then
// tears the sandbox down. It returns an error when startup failed or
// the channel broke before the worker was ready.
func (w *Worker) Run(ctx context.Context) error {
	defer w.channel.Close()

	if err := w.channel.Send(ipc.Message{Type: ipc.TypeLogLocation, Path: w.logPath}); err != nil {
		w.shutdownSandbox()
		return fmt.Errorf("reporting log location: %w", err)
	}

	if err := w.sandbox.Start(ctx); err != nil {
		w.logger.Error("sandbox startup failed", "spawn_id", w.spawnID, "error", err)
		sendError := w.channel.Send(ipc.Message{
			Type:      ipc.TypeStartupFailed,
			RequestID: w.spawnID,
			Error:     ipc.NewErrorDetail(ipc.KindStartup, err),
		})
		w.shutdownSandbox()
		if sendError != nil {
			w.logger.Warn("reporting startup failure", "error", sendError)
		}
		return err
	}

	if err := w.channel.Send(ipc.Message{Type: ipc.TypeReady, RequestID: w.spawnID}); err != nil {
		w.shutdownSandbox()
		return fmt.Errorf("reporting ready: %w", err)
	}
	w.logger.Info("sandbox ready", "spawn_id", w.spawnID)

	stopReading := make(chan struct{})
	messages, readerDone := w.readMessages(stopReading)
	requestContext, cancelRequests := context.WithCancel(context.WithoutCancel(ctx))

	reason := w.serve(ctx, requestContext, messages)
	w.logger.Info("worker stopping", "reason", reason)

	close(stopReading)
	cancelRequests()
	w.shutdownSandbox()
	w.inflight.Wait()
	w.channel.Close()
	<-readerDone
	return nil
}

func (w *Worker) serve(ctx, requestContext context.Context, messages <-chan ipc.Message) string {
	for {
		select {
		case <-ctx.Done():
			return "signal"
		case message, ok := <-messages:
			if !ok {
				return "supervisor disconnected"
			}
			switch message.Type {
			case ipc.TypeProvision:
				if message.RequestID == "" {
					w.reply(ipc.Message{
						Type:  ipc.TypeProtocolError,
						Error: &ipc.ErrorDetail{Kind: ipc.KindProtocol, Message: "provision without request_id"},
					})
					continue
				}
				w.inflight.Add(1)
				go w.handleProvision(requestContext, message)
			case ipc.TypeShutdown:
				return "shutdown requested"
			default:
				w.logger.Warn("unrecognized message", "type", string(message.Type), "request_id", message.RequestID)
				w.reply(ipc.Message{
					Type:      ipc.TypeProtocolError,
					RequestID: message.RequestID,
					Error: &ipc.ErrorDetail{
						Kind:    ipc.KindProtocol,
						Message: fmt.Sprintf("unrecognized message type %q", message.Type),
					},
				})
			}
		}
	}
}

func (w *Worker) handleProvision(ctx context.Context, message ipc.Message) {
	defer w.inflight.Done()

	endpoint, err := w.sandbox.Provision(ctx, message.RequestID, message.DatabaseName())
	if err != nil {
		w.reply(ipc.Message{
			Type:      ipc.TypeProvisionFailed,
			RequestID: message.RequestID,
			Error:     ipc.NewErrorDetail(errorKind(err), err),
		})
		return
	}
	w.reply(ipc.Message{
		Type:      ipc.TypeProvisioned,
		RequestID: message.RequestID,
		Endpoint:  &endpoint,
	})
}

// reply sends a message, logging rather than failing when the
// supervisor has gone away.
func (w *Worker) reply(message ipc.Message) {
	if err := w.channel.Send(message); err != nil {
		w.logger.Warn("sending reply failed",
			"type", string(message.Type), "request_id", message.RequestID, "error", err)
	}
}

// readMessages pumps the control channel into a Go channel, which is
// closed when the control channel ends. Malformed items are answered
// with protocol-error here and never reach the serve loop. Closing stop
// abandons any message not yet taken.
func (w *Worker) readMessages(stop <-chan struct{}) (<-chan ipc.Message, <-chan struct{}) {
	messages := make(chan ipc.Message)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer close(messages)
		for {
			message, err := w.channel.Receive()
			var malformed *ipc.MalformedError
			if errors.As(err, &malformed) {
				w.logger.Warn("malformed control message", "request_id", malformed.RequestID, "error", err)
				w.reply(ipc.Message{
					Type:      ipc.TypeProtocolError,
					RequestID: malformed.RequestID,
					Error:     &ipc.ErrorDetail{Kind: ipc.KindProtocol, Message: err.Error()},
				})
				continue
			}
			if err != nil {
				if !errors.Is(err, ipc.ErrClosed) {
					w.logger.Warn("control channel read failed", "error", err)
				}
				return
			}
			select {
			case messages <- message:
			case <-stop:
				return
			}
		}
	}()
	return messages, done
}

func (w *Worker) shutdownSandbox() {
	if err := w.sandbox.Shutdown(context.Background()); err != nil {
		w.logger.Error("sandbox shutdown reported errors", "error", err)
	}
}

// errorKind classifies a provisioning error for the supervisor.
func errorKind(err error) ipc.ErrorKind {
	if errors.Is(err, sandbox.ErrStopping) || errors.Is(err, context.Canceled) {
		return ipc.KindStopping
	}
	var stepError *pipeline.StepError
	if errors.As(err, &stepError) && stepError.Step == sandbox.StepStartFrontend {
		return ipc.KindFrontend
	}
	return ipc.KindTenant
}
