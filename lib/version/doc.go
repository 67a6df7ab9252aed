// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version provides build version information for dbsandbox
// binaries.
//
// [GitCommit], [GitDirty], [BuildTime] and [Version] are injected at
// build time with -ldflags -X and keep their placeholder values in
// development builds and tests. [Print] writes the
// standard --version line for a named binary to stdout.
package version
