// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cluster drives the PostgreSQL command-line binaries that
// back a sandbox: initdb to lay out a data directory, postgres to run
// the server, and createdb to add tenant databases.
//
// The server never listens on TCP. [Engine.Init] writes
// listen_addresses = '' into postgresql.conf and [Engine.Start] passes
// the same setting on the command line, so the only way in is the Unix
// socket in the directory given to Start. Durability settings (fsync,
// synchronous_commit, full_page_writes) are turned off because a
// sandbox's data is discarded on teardown.
//
// Exit status and combined output are the only feedback from each
// binary; nothing engine-specific is parsed. Errors carry the trimmed
// output so that a caller can see initdb's or createdb's own message.
//
// [Engine.Start] returns as soon as the operating system has accepted
// the launch. It does not wait for the server to accept connections;
// the first createdb attempts race the server's startup and are
// expected to be retried by the caller.
package cluster
