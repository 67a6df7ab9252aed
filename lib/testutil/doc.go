// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for dbsandbox packages.
//
// [RequireReceive] and [RequireClosed] wrap the select-with-timeout
// pattern so a test never blocks forever on a channel.
//
// [SocketDir] creates a short directory under /tmp for Unix domain
// sockets; the PostgreSQL socket path (<dir>/.s.PGSQL.5432) must fit in
// sun_path, which t.TempDir() paths frequently do not.
//
// [WriteScript] writes an executable shell script, used to stand in for
// initdb, postgres, and createdb in tests that exercise the real
// os/exec plumbing.
//
// All helpers call t.Fatalf on failure.
package testutil
