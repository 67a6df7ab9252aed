// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// dbsandbox-worker owns one PostgreSQL sandbox. It is spawned by the
// supervisor library with the control channel on fd 3 and is not
// meant to be run by hand.
//
// The worker leads its own process group so that teardown can signal
// every process it started (the cluster server and any createdb still
// running) with one kill. It handles SIGTERM itself, so that signal
// reaches the worker too without ending it early.
//
// Logs are JSON records written to worker.log inside the sandbox
// directory; the path is the first message sent to the supervisor.
// DBSANDBOX_LOG_LEVEL overrides the configured level. If the worker
// fails before its sandbox exists (bad configuration, no temp space),
// startup-failed is the only message sent and the reason also goes to
// stderr.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/dbsandbox/cluster"
	"github.com/bureau-foundation/dbsandbox/lib/config"
	"github.com/bureau-foundation/dbsandbox/lib/ipc"
	"github.com/bureau-foundation/dbsandbox/lib/process"
	"github.com/bureau-foundation/dbsandbox/lib/version"
	"github.com/bureau-foundation/dbsandbox/sandbox"
	"github.com/bureau-foundation/dbsandbox/worker"
)

// logLevelVariable overrides worker.log_level.
const logLevelVariable = "DBSANDBOX_LOG_LEVEL"

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		spawnID    string
		configPath string
	)

	flagSet := pflag.NewFlagSet("dbsandbox-worker", pflag.ContinueOnError)
	flagSet.StringVar(&spawnID, "spawn-id", "", "identifier echoed in the ready or startup-failed message (required)")
	flagSet.StringVar(&configPath, "config", "", "config file, or - to read YAML from stdin")

	if len(os.Args) > 1 && os.Args[1] == "--version" {
		version.Print("dbsandbox-worker")
		return nil
	}
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return err
	}
	if spawnID == "" {
		return fmt.Errorf("--spawn-id is required")
	}

	if err := process.BecomeGroupLeader(); err != nil {
		return err
	}
	// Installed before anything can signal the group.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, err := ipc.InheritedConn()
	if err != nil {
		return err
	}
	channel := ipc.NewChannel(conn)

	w, err := setup(channel, spawnID, configPath)
	if err != nil {
		reportSetupFailure(channel, spawnID, err, slog.New(slog.NewTextHandler(os.Stderr, nil)))
		return err
	}
	return w.Run(ctx)
}

// reportSetupFailure answers the supervisor's wait for ready with
// startup-failed and closes the channel. No log-location precedes it:
// setup removes the sandbox directory, and the log file with it, on
// every failure. logger is the stderr logger, as worker.log may not
// exist.
func reportSetupFailure(channel *ipc.Channel, spawnID string, err error, logger *slog.Logger) {
	sendError := channel.Send(ipc.Message{
		Type:      ipc.TypeStartupFailed,
		RequestID: spawnID,
		Error:     ipc.NewErrorDetail(ipc.KindStartup, err),
	})
	if sendError != nil {
		logger.Warn("reporting startup failure", "spawn_id", spawnID, "error", sendError)
	}
	channel.Close()
}

// setup loads configuration, allocates the sandbox directory, and
// builds the worker.
func setup(channel *ipc.Channel, spawnID, configPath string) (*worker.Worker, error) {
	cfg, err := loadConfig(configPath, os.Stdin)
	if err != nil {
		return nil, err
	}

	base, err := os.MkdirTemp(cfg.Sandbox.TempRoot, "dbsandbox-*")
	if err != nil {
		return nil, fmt.Errorf("allocating sandbox directory: %w", err)
	}

	logPath := filepath.Join(base, "worker.log")
	logFile, err := os.OpenFile(logPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0600)
	if err != nil {
		os.RemoveAll(base)
		return nil, fmt.Errorf("opening worker log: %w", err)
	}
	level, err := logLevel(cfg.Worker.LogLevel, os.Getenv(logLevelVariable))
	if err != nil {
		logFile.Close()
		os.RemoveAll(base)
		return nil, err
	}
	logger := slog.New(slog.NewJSONHandler(logFile, &slog.HandlerOptions{Level: level})).
		With("spawn_id", spawnID, "pid", os.Getpid())

	engine := cluster.New(cfg.Engine, logger.With("component", "cluster"))
	box, err := sandbox.New(sandbox.Config{
		BaseDirectory: base,
		Engine:        sandbox.ClusterEngine(engine),
		Settings:      cfg.Sandbox,
		Frontend:      cfg.Frontend,
		Logger:        logger.With("component", "sandbox"),
	})
	if err != nil {
		logFile.Close()
		os.RemoveAll(base)
		return nil, err
	}

	return worker.New(worker.Config{
		Channel: channel,
		Sandbox: box,
		SpawnID: spawnID,
		LogPath: logPath,
		Logger:  logger,
	})
}

// loadConfig reads YAML from stdin for "-", and otherwise resolves
// the file the usual way.
func loadConfig(path string, stdin io.Reader) (*config.Config, error) {
	if path != "-" {
		return config.Resolve(path)
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return nil, fmt.Errorf("reading config from stdin: %w", err)
	}
	return config.Parse(data)
}

// logLevel picks the environment override when set, else the
// configured level.
func logLevel(configured, override string) (slog.Level, error) {
	name := configured
	if override != "" {
		name = override
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", name, err)
	}
	return level, nil
}
