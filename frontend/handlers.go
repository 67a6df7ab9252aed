// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package frontend

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
)

// store is the part of the pool the handlers use.
type store interface {
	Ping(ctx context.Context) error
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// InstanceInfo is the body of GET /v1/instance.
type InstanceInfo struct {
	Name     string   `json:"name"`
	Database string   `json:"database"`
	Tables   []string `json:"tables"`
}

const instanceQuery = `SELECT current_database(),
	coalesce(array_agg(tablename::text ORDER BY tablename), '{}')
	FROM pg_catalog.pg_tables WHERE schemaname = 'public'`

func (s *Server) routes() http.Handler {
	return newHandler(s.config.Name, s.pool, s.config.Store.QueryTimeout, s.config.AuditLog, s.logger)
}

func newHandler(name string, backing store, queryTimeout time.Duration, audit bool, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), queryTimeout)
		defer cancel()
		if err := backing.Ping(ctx); err != nil {
			http.Error(w, "backing store unavailable: "+err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("GET /v1/instance", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), queryTimeout)
		defer cancel()
		info := InstanceInfo{Name: name}
		if err := backing.QueryRow(ctx, instanceQuery).Scan(&info.Database, &info.Tables); err != nil {
			http.Error(w, "querying instance: "+err.Error(), http.StatusServiceUnavailable)
			return
		}
		if info.Tables == nil {
			info.Tables = []string{}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(info)
	})

	if !audit {
		return mux
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		mux.ServeHTTP(recorder, r)
		logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", recorder.status,
			"duration", time.Since(start),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
