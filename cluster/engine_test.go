// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cluster

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/dbsandbox/lib/config"
	"github.com/bureau-foundation/dbsandbox/lib/testutil"
)

// fakeEngine writes shell scripts standing in for the PostgreSQL
// binaries. Each script appends its arguments to args.log.
func fakeEngine(t *testing.T, initdb, postgres, createdb string) (*Engine, string) {
	t.Helper()
	binDir := t.TempDir()
	record := `echo "$0 $*" >> "` + filepath.Join(binDir, "args.log") + `"` + "\n"
	testutil.WriteScript(t, binDir, "initdb", record+initdb)
	testutil.WriteScript(t, binDir, "postgres", record+postgres)
	testutil.WriteScript(t, binDir, "createdb", record+createdb)

	engineConfig := config.Default().Engine
	engineConfig.BinDir = binDir
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(engineConfig, logger), binDir
}

func readArgs(t *testing.T, binDir string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(binDir, "args.log"))
	if err != nil {
		t.Fatalf("reading args log: %v", err)
	}
	return string(data)
}

func TestInitAppendsTuning(t *testing.T) {
	engine, binDir := fakeEngine(t,
		`mkdir -p "$2" && echo "# initdb defaults" > "$2/postgresql.conf"`,
		"exit 0",
		"exit 0",
	)
	dataDirectory := filepath.Join(t.TempDir(), "data")

	if err := engine.Init(context.Background(), dataDirectory); err != nil {
		t.Fatalf("Init: %v", err)
	}

	args := readArgs(t, binDir)
	for _, want := range []string{"-D " + dataDirectory, "-E UTF8", "--auth=trust"} {
		if !strings.Contains(args, want) {
			t.Errorf("initdb args %q missing %q", args, want)
		}
	}

	conf, err := os.ReadFile(filepath.Join(dataDirectory, "postgresql.conf"))
	if err != nil {
		t.Fatalf("reading postgresql.conf: %v", err)
	}
	if !strings.HasPrefix(string(conf), "# initdb defaults\n") {
		t.Errorf("original configuration was not preserved: %q", conf)
	}
	for _, line := range tuning {
		if !strings.Contains(string(conf), line+"\n") {
			t.Errorf("postgresql.conf missing %q", line)
		}
	}
}

func TestInitFailureCarriesOutput(t *testing.T) {
	engine, _ := fakeEngine(t,
		`echo "initdb: could not create directory: Permission denied" >&2; exit 1`,
		"exit 0",
		"exit 0",
	)

	err := engine.Init(context.Background(), filepath.Join(t.TempDir(), "data"))
	if err == nil {
		t.Fatal("expected Init to fail")
	}
	if !strings.Contains(err.Error(), "Permission denied") {
		t.Errorf("error %q does not carry initdb output", err)
	}
}

func TestInitFailsWithoutConfigFile(t *testing.T) {
	engine, _ := fakeEngine(t, `mkdir -p "$2"`, "exit 0", "exit 0")

	err := engine.Init(context.Background(), filepath.Join(t.TempDir(), "data"))
	if err == nil {
		t.Fatal("expected Init to fail when postgresql.conf is missing")
	}
	if !strings.Contains(err.Error(), "postgresql.conf") {
		t.Errorf("error %q does not name postgresql.conf", err)
	}
}

func TestStartReapsProcess(t *testing.T) {
	engine, binDir := fakeEngine(t, "exit 0", "exit 3", "exit 0")
	socketDirectory := testutil.SocketDir(t)

	process, err := engine.Start("/data", socketDirectory, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if process.Pid() <= 0 {
		t.Errorf("Pid() = %d", process.Pid())
	}

	testutil.RequireClosed(t, process.Done(), 5*time.Second, "cluster process never reaped")
	if code := process.ExitCode(); code != 3 {
		t.Errorf("ExitCode() = %d, want 3", code)
	}
	if process.Err() == nil {
		t.Error("Err() = nil for a non-zero exit")
	}

	args := readArgs(t, binDir)
	for _, want := range []string{"-D /data", "-k " + socketDirectory, "-c listen_addresses="} {
		if !strings.Contains(args, want) {
			t.Errorf("postgres args %q missing %q", args, want)
		}
	}
}

func TestStartMissingBinary(t *testing.T) {
	engineConfig := config.Default().Engine
	engineConfig.BinDir = t.TempDir()
	engine := New(engineConfig, slog.New(slog.NewTextHandler(io.Discard, nil)))

	if _, err := engine.Start("/data", "/socket", nil); err == nil {
		t.Fatal("expected Start to fail for a missing binary")
	}
}

func TestCreateDatabase(t *testing.T) {
	engine, binDir := fakeEngine(t, "exit 0", "exit 0",
		`case "$*" in *duplicate*) echo "createdb: database creation failed: ERROR:  database \"duplicate\" already exists" >&2; exit 1;; esac`,
	)

	if err := engine.CreateDatabase(context.Background(), "/sock", "tenant1"); err != nil {
		t.Fatalf("CreateDatabase(tenant1): %v", err)
	}
	if args := readArgs(t, binDir); !strings.Contains(args, "-h /sock -- tenant1") {
		t.Errorf("createdb args %q", args)
	}

	err := engine.CreateDatabase(context.Background(), "/sock", "duplicate")
	if err == nil {
		t.Fatal("expected duplicate database to fail")
	}
	if !strings.Contains(err.Error(), "already exists") {
		t.Errorf("error %q does not carry createdb output", err)
	}
}

func TestCreateDatabaseHonoursContext(t *testing.T) {
	engine, _ := fakeEngine(t, "exit 0", "exit 0", "sleep 30")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	if err := engine.CreateDatabase(ctx, "/sock", "slow"); err == nil {
		t.Fatal("expected CreateDatabase to fail after the context expired")
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("CreateDatabase took %v after cancellation", elapsed)
	}
}

func TestConnectionString(t *testing.T) {
	tests := []struct {
		name      string
		superuser string
		socket    string
		database  string
		want      string
	}{
		{"plain", "", "/tmp/sb/socket", "tenant1", "host=/tmp/sb/socket dbname=tenant1"},
		{"superuser", "postgres", "/tmp/sb/socket", "tenant1", "host=/tmp/sb/socket dbname=tenant1 user=postgres"},
		{"spaces", "", "/tmp/my dir/socket", "it's", `host='/tmp/my dir/socket' dbname='it\'s'`},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			engineConfig := config.Default().Engine
			engineConfig.Superuser = test.superuser
			engine := New(engineConfig, slog.New(slog.NewTextHandler(io.Discard, nil)))
			if got := engine.ConnectionString(test.socket, test.database); got != test.want {
				t.Errorf("ConnectionString = %q, want %q", got, test.want)
			}
		})
	}
}
