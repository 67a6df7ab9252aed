// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cluster

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/bureau-foundation/dbsandbox/lib/config"
)

// tuning is appended to postgresql.conf after initdb.
var tuning = []string{
	"listen_addresses = ''",
	"fsync = off",
	"synchronous_commit = off",
	"full_page_writes = off",
}

// Engine runs the PostgreSQL binaries named by an EngineConfig.
type Engine struct {
	config config.EngineConfig
	logger *slog.Logger
}

// New returns an Engine. Binary names without a path separator are
// resolved against config.BinDir when set, and PATH otherwise.
func New(engineConfig config.EngineConfig, logger *slog.Logger) *Engine {
	return &Engine{config: engineConfig, logger: logger}
}

// Init creates a new cluster in dataDirectory and appends the sandbox
// tuning parameters to its postgresql.conf. dataDirectory must not
// exist or must be empty.
func (e *Engine) Init(ctx context.Context, dataDirectory string) error {
	args := []string{
		"-D", dataDirectory,
		"-E", e.config.Encoding,
		"--auth=" + e.config.AuthMethod,
	}
	if e.config.Superuser != "" {
		args = append(args, "-U", e.config.Superuser)
	}
	if err := e.run(ctx, e.config.Initdb, args...); err != nil {
		return err
	}

	confPath := filepath.Join(dataDirectory, "postgresql.conf")
	file, err := os.OpenFile(confPath, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		return fmt.Errorf("opening %s: %w", confPath, err)
	}
	_, writeError := io.WriteString(file, "\n"+strings.Join(tuning, "\n")+"\n")
	closeError := file.Close()
	if writeError != nil {
		return fmt.Errorf("appending tuning to %s: %w", confPath, writeError)
	}
	if closeError != nil {
		return fmt.Errorf("closing %s: %w", confPath, closeError)
	}
	return nil
}

// Start launches the server on dataDirectory with its socket in
// socketDirectory. Server output goes to output, which may be nil to
// discard it. The process stays in the caller's process group.
func (e *Engine) Start(dataDirectory, socketDirectory string, output io.Writer) (*Process, error) {
	cmd := exec.Command(e.config.BinaryPath(e.config.Postgres),
		"-D", dataDirectory,
		"-k", socketDirectory,
		"-c", "listen_addresses=",
	)
	cmd.Stdout = output
	cmd.Stderr = output

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", e.config.Postgres, err)
	}
	e.logger.Info("cluster process started",
		"pid", cmd.Process.Pid,
		"data_directory", dataDirectory,
		"socket_directory", socketDirectory,
	)
	return reap(cmd), nil
}

// CreateDatabase creates database name on the server listening in
// socketDirectory.
func (e *Engine) CreateDatabase(ctx context.Context, socketDirectory, name string) error {
	args := []string{"-h", socketDirectory}
	if e.config.Superuser != "" {
		args = append(args, "-U", e.config.Superuser)
	}
	args = append(args, "--", name)
	return e.run(ctx, e.config.Createdb, args...)
}

// ConnectionString returns a libpq keyword/value connection string for
// database on the server listening in socketDirectory.
func (e *Engine) ConnectionString(socketDirectory, database string) string {
	parts := []string{
		"host=" + quoteValue(socketDirectory),
		"dbname=" + quoteValue(database),
	}
	if e.config.Superuser != "" {
		parts = append(parts, "user="+quoteValue(e.config.Superuser))
	}
	return strings.Join(parts, " ")
}

func (e *Engine) run(ctx context.Context, binary string, args ...string) error {
	cmd := exec.CommandContext(ctx, e.config.BinaryPath(binary), args...)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	e.logger.Debug("running engine binary", "binary", binary, "args", args)
	if err := cmd.Run(); err != nil {
		if trimmed := strings.TrimSpace(output.String()); trimmed != "" {
			return fmt.Errorf("%s: %w: %s", binary, err, trimmed)
		}
		return fmt.Errorf("%s: %w", binary, err)
	}
	return nil
}

// quoteValue quotes a libpq connection string value.
func quoteValue(value string) string {
	if value != "" && !strings.ContainsAny(value, " '\\") {
		return value
	}
	escaped := strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(value)
	return "'" + escaped + "'"
}
