// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"io"

	"github.com/bureau-foundation/dbsandbox/cluster"
	"github.com/bureau-foundation/dbsandbox/frontend"
)

// Engine is the cluster engine a Sandbox drives.
type Engine interface {
	Init(ctx context.Context, dataDirectory string) error
	Start(dataDirectory, socketDirectory string, output io.Writer) (ClusterProcess, error)
	CreateDatabase(ctx context.Context, socketDirectory, name string) error
	ConnectionString(socketDirectory, database string) string
}

// ClusterProcess is a handle on the running cluster server.
type ClusterProcess interface {
	Pid() int
	Done() <-chan struct{}
	ExitCode() int
}

// ClusterEngine adapts a cluster.Engine to Engine.
func ClusterEngine(engine *cluster.Engine) Engine {
	return clusterEngine{engine}
}

type clusterEngine struct {
	*cluster.Engine
}

func (c clusterEngine) Start(dataDirectory, socketDirectory string, output io.Writer) (ClusterProcess, error) {
	process, err := c.Engine.Start(dataDirectory, socketDirectory, output)
	if err != nil {
		return nil, err
	}
	return process, nil
}

// Frontend is a front-end service instance bound to one tenant.
type Frontend interface {
	Ready() <-chan struct{}
	Failed() <-chan struct{}
	Err() error

	// Exec runs a statement against the tenant database through the
	// service's pool. Only valid after Ready.
	Exec(ctx context.Context, sql string) error

	Close(ctx context.Context) error
}

// FrontendStarter starts a front-end service. It must return
// immediately; the outcome is signalled through Ready and Failed.
type FrontendStarter func(ctx context.Context, config frontend.Config) Frontend

// StartFrontend is the FrontendStarter backed by package frontend.
func StartFrontend(ctx context.Context, config frontend.Config) Frontend {
	return frontendService{frontend.Start(ctx, config)}
}

type frontendService struct {
	*frontend.Server
}

func (f frontendService) Exec(ctx context.Context, sql string) error {
	pool := f.Pool()
	if pool == nil {
		return errNotReady
	}
	_, err := pool.Exec(ctx, sql)
	return err
}
