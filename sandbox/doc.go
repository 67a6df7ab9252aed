// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sandbox owns one disposable PostgreSQL cluster and the
// front-end services provisioned against it.
//
// A [Sandbox] lives in a private base directory:
//
//	<base>/data         cluster data directory (initdb)
//	<base>/socket       the server's Unix socket directory (0700)
//	<base>/cluster.log  server output
//
// [Sandbox.Start] runs the startup pipeline once: init-cluster, then
// start-cluster. The cluster handle is set only when start-cluster
// succeeds and is never cleared, so [Sandbox.ClusterRunning] reports
// whether the server was ever launched. Start does not wait for the
// server to accept connections.
//
// [Sandbox.Provision] runs the per-request pipeline: create-tenant
// (createdb, retried per the configured attempts and delay, because
// early attempts race the server's startup) and start-frontend (one
// attempt on a random port; a bind conflict is a permanent failure).
// Requests run independently and may overlap.
//
// [Sandbox.Shutdown] is the teardown path. The first call closes every
// front-end concurrently, signals the caller's whole process group,
// waits a fixed grace period, and removes the base directory. Later
// calls return nil immediately. The grace period is not an exit
// acknowledgement: the directory may be removed while the server is
// still exiting. When the cluster process exits on its own, the base
// directory is removed at that point; the cleanup runs at most once
// whichever path reaches it first.
package sandbox
