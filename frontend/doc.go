// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package frontend serves one tenant database over HTTP.
//
// A [Server] owns a pgx connection pool to its tenant database and an
// HTTP listener on a loopback address. [Start] returns immediately;
// the caller watches [Server.Ready] and [Server.Failed] to learn the
// outcome. Startup binds the listener first, so a port conflict is
// reported without touching the database, then opens the pool and
// pings it.
//
// Endpoints:
//
//   - GET /healthz pings the pool. 200 with "ok" when the database
//     answers, 503 otherwise.
//   - GET /v1/instance returns the instance name, the tenant database
//     name, and the tables in its public schema as JSON.
//
// The backing store is "standalone": one pool per server, sized by
// [StoreConfig.MaxConnections], with every session's statement_timeout
// set from [StoreConfig.QueryTimeout].
package frontend
