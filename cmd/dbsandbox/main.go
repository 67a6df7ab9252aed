// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// dbsandbox starts a disposable PostgreSQL sandbox, provisions the
// requested tenants, and prints one JSON line per tenant to stdout:
//
//	{"tenant":"tenant1","host":"127.0.0.1","port":4242,"url":"http://127.0.0.1:4242"}
//	{"tenant":"tenant2","error":"request tenant2: ...","kind":"tenant"}
//
// The sandbox stays up until SIGINT or SIGTERM (or immediately with
// --once), then everything is torn down. Logs go to stderr.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/dbsandbox/lib/config"
	"github.com/bureau-foundation/dbsandbox/lib/ipc"
	"github.com/bureau-foundation/dbsandbox/lib/process"
	"github.com/bureau-foundation/dbsandbox/lib/version"
	"github.com/bureau-foundation/dbsandbox/supervisor"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

// tenantResult is one line of output.
type tenantResult struct {
	Tenant string        `json:"tenant"`
	Host   string        `json:"host,omitempty"`
	Port   int           `json:"port,omitempty"`
	URL    string        `json:"url,omitempty"`
	Error  string        `json:"error,omitempty"`
	Kind   ipc.ErrorKind `json:"kind,omitempty"`
}

func run() error {
	var (
		configPath   string
		workerBinary string
		tenants      []string
		once         bool
		verbose      bool
		closeTimeout time.Duration
	)

	flagSet := pflag.NewFlagSet("dbsandbox", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "config file (default: $DBSANDBOX_CONFIG, else built-in defaults)")
	flagSet.StringVar(&workerBinary, "worker", "", "path to dbsandbox-worker (default: next to this binary, then PATH)")
	flagSet.StringArrayVarP(&tenants, "tenant", "t", nil, "tenant database to provision (repeatable)")
	flagSet.BoolVar(&once, "once", false, "tear down right after provisioning")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "log at debug level")
	flagSet.DurationVar(&closeTimeout, "close-timeout", 30*time.Second, "how long to wait for the worker to exit before killing it")

	if len(os.Args) > 1 && os.Args[1] == "--version" {
		version.Print("dbsandbox")
		return nil
	}
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.Resolve(configPath)
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	spawnID := fmt.Sprintf("dbsandbox-%d", os.Getpid())
	sup, err := supervisor.Start(ctx, supervisor.Config{
		Settings:     cfg,
		WorkerBinary: workerBinary,
		Logger:       logger,
	}, spawnID)
	if err != nil {
		return err
	}
	defer func() {
		closeContext, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := sup.Close(closeContext); err != nil {
			logger.Error("closing worker", "error", err)
		}
	}()

	go logEvents(sup.Events(), logger)

	if err := sup.WaitReady(ctx); err != nil {
		var remote *supervisor.RemoteError
		if errors.As(err, &remote) {
			return fmt.Errorf("sandbox failed to start: %s", remote.Chain())
		}
		return fmt.Errorf("sandbox failed to start: %w", err)
	}
	logger.Info("sandbox ready", "log", sup.LogPath())

	failures := provisionAll(ctx, sup, tenants, os.Stdout, logger)

	if !once {
		select {
		case <-ctx.Done():
			logger.Info("signal received, tearing down")
		case <-sup.Done():
			logger.Warn("worker exited", "exit_code", sup.ExitCode())
		}
	}

	if failures > 0 {
		return fmt.Errorf("%d of %d tenants failed", failures, len(tenants))
	}
	return nil
}

// provisionAll provisions each tenant in order, writes one JSON line
// per tenant to out, and returns the number of failures. A result that
// cannot be written is logged and does not stop the remaining tenants.
func provisionAll(ctx context.Context, provisioner interface {
	Provision(ctx context.Context, requestID string) (ipc.Endpoint, error)
}, tenants []string, out io.Writer, logger *slog.Logger) int {
	encoder := json.NewEncoder(out)
	failures := 0
	for _, tenant := range tenants {
		result := tenantResult{Tenant: tenant}
		endpoint, err := provisioner.Provision(ctx, tenant)
		if err != nil {
			failures++
			result.Error = err.Error()
			var remote *supervisor.RemoteError
			if errors.As(err, &remote) {
				result.Kind = remote.Kind
			}
		} else {
			result.Host = endpoint.Host
			result.Port = endpoint.Port
			result.URL = "http://" + endpoint.Address()
		}
		if err := encoder.Encode(result); err != nil {
			logger.Warn("writing tenant result", "tenant", tenant, "error", err)
		}
	}
	return failures
}

func logEvents(events <-chan supervisor.Event, logger *slog.Logger) {
	for event := range events {
		switch event.Kind {
		case supervisor.EventProtocolError:
			logger.Warn("worker protocol error", "error", event.Error)
		case supervisor.EventWorkerExited:
			logger.Debug("worker exit observed", "exit_code", event.ExitCode)
		default:
			logger.Debug("worker event", "kind", string(event.Kind), "path", event.Path)
		}
	}
}
