// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"fmt"

	"github.com/bureau-foundation/dbsandbox/frontend"
	"github.com/bureau-foundation/dbsandbox/lib/ipc"
	"github.com/bureau-foundation/dbsandbox/lib/pipeline"
	"github.com/bureau-foundation/dbsandbox/lib/retry"
)

// Provisioning step names, as reported in pipeline.StepError.
const (
	StepCreateTenant  = "create-tenant"
	StepStartFrontend = "start-frontend"
)

// BookkeepingTable is created in every tenant database before its
// endpoint is reported.
const BookkeepingTable = "_dbsandbox_meta"

const bookkeepingDDL = `CREATE TABLE IF NOT EXISTS ` + BookkeepingTable + ` (
	key text PRIMARY KEY,
	value text NOT NULL,
	updated_at timestamptz NOT NULL DEFAULT now()
)`

// ConnectionDescriptor locates a tenant database.
type ConnectionDescriptor struct {
	SocketDirectory  string
	Database         string
	ConnectionString string
}

// provisioning is the state threaded through the per-request pipeline.
type provisioning struct {
	requestID  string
	database   string
	connection ConnectionDescriptor
	endpoint   ipc.Endpoint
}

// Provision creates a tenant database and starts a front-end service for
// it. requestID only labels logs; database names the tenant.
func (s *Sandbox) Provision(ctx context.Context, requestID, database string) (ipc.Endpoint, error) {
	if s.stopping.Load() {
		return ipc.Endpoint{}, ErrStopping
	}
	logger := s.logger.With("request_id", requestID, "database", database)
	logger.Info("provisioning tenant")

	result, err := pipeline.Run(ctx, provisioning{requestID: requestID, database: database},
		pipeline.Step[provisioning]{Name: StepCreateTenant, Run: s.createTenant},
		pipeline.Step[provisioning]{Name: StepStartFrontend, Run: s.startTenantFrontend},
	)
	if err != nil {
		logger.Warn("provisioning failed", "error", err)
		return ipc.Endpoint{}, fmt.Errorf("provisioning %s: %w", database, err)
	}
	logger.Info("tenant provisioned", "host", result.endpoint.Host, "port", result.endpoint.Port)
	return result.endpoint, nil
}

func (s *Sandbox) createTenant(ctx context.Context, state provisioning) (provisioning, error) {
	policy := retry.Policy{
		Attempts: s.settings.TenantAttempts,
		Delay:    s.settings.TenantDelay,
		Clock:    s.clock,
		Notify: func(attempt int, err error) {
			s.logger.Debug("tenant creation attempt failed",
				"request_id", state.requestID, "attempt", attempt, "error", err)
		},
	}
	err := retry.Do(ctx, policy, func(ctx context.Context, attempt int) error {
		return s.engine.CreateDatabase(ctx, s.socketDirectory, state.database)
	})
	if err != nil {
		return state, fmt.Errorf("creating database %s: %w", state.database, err)
	}

	state.connection = ConnectionDescriptor{
		SocketDirectory:  s.socketDirectory,
		Database:         state.database,
		ConnectionString: s.engine.ConnectionString(s.socketDirectory, state.database),
	}
	return state, nil
}

func (s *Sandbox) startTenantFrontend(ctx context.Context, state provisioning) (provisioning, error) {
	port := s.pickPort(s.settings.PortMin, s.settings.PortMax)
	service := s.startFrontend(ctx, frontend.Config{
		Logger:      s.logger.With("request_id", state.requestID, "component", "frontend"),
		Name:        state.database,
		Port:        port,
		BindAddress: s.settings.BindAddress,
		AuditLog:    s.frontend.AuditLog,
		Store: frontend.StoreConfig{
			MaxConnections:   s.frontend.MaxConnections,
			QueryTimeout:     s.frontend.QueryTimeout,
			ConnectionString: state.connection.ConnectionString,
		},
	})

	select {
	case <-service.Ready():
	case <-service.Failed():
		return state, fmt.Errorf("front-end on port %d: %w", port, service.Err())
	case <-ctx.Done():
		service.Close(context.WithoutCancel(ctx))
		return state, ctx.Err()
	}

	if err := service.Exec(ctx, bookkeepingDDL); err != nil {
		service.Close(context.WithoutCancel(ctx))
		return state, fmt.Errorf("creating %s: %w", BookkeepingTable, err)
	}

	if err := s.register(service); err != nil {
		service.Close(context.WithoutCancel(ctx))
		return state, err
	}

	state.endpoint = ipc.Endpoint{Host: s.settings.BindAddress, Port: port}
	return state, nil
}

// register adds a service to the teardown set. It fails once Shutdown
// has begun, so a late service is never missed by the teardown.
func (s *Sandbox) register(service Frontend) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping.Load() {
		return ErrStopping
	}
	s.services = append(s.services, service)
	return nil
}
