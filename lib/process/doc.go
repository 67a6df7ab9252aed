// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process collects the small process-level helpers shared by
// the dbsandbox binaries: fatal error reporting before a structured
// logger exists, exit-code extraction from os/exec wait errors, and
// process-group signalling.
//
// The worker runs as the leader of its own process group (the
// supervisor spawns it with Setpgid). Everything it starts, the
// cluster server and any createdb helpers still in flight, inherits
// that group, so signalling the group reaps the whole tree.
package process
