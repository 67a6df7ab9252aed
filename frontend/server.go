// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package frontend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Server is one running front-end instance.
type Server struct {
	config Config
	logger *slog.Logger

	ready   chan struct{}
	failed  chan struct{}
	settled chan struct{}

	// Written by start before it closes settled, which it closes
	// before ready or failed.
	pool       *pgxpool.Pool
	listener   net.Listener
	httpServer *http.Server
	err        error

	serveDone chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// Start begins bringing up a server and returns immediately. Exactly
// one of Ready and Failed is closed once startup settles. ctx bounds
// startup only; the running server lives until Close.
func Start(ctx context.Context, config Config) *Server {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Server{
		config:    config,
		logger:    logger.With("instance", config.Name),
		ready:     make(chan struct{}),
		failed:    make(chan struct{}),
		settled:   make(chan struct{}),
		serveDone: make(chan struct{}),
	}
	go s.start(ctx)
	return s
}

// Ready is closed when the server is listening and its pool answered a
// ping.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Failed is closed when startup failed. Err returns the cause.
func (s *Server) Failed() <-chan struct{} { return s.failed }

// Err returns the startup error, or nil while starting and after a
// successful start. It is non-nil as soon as Failed is closed.
func (s *Server) Err() error {
	select {
	case <-s.failed:
		return s.err
	default:
		return nil
	}
}

// Pool returns the tenant connection pool. Nil until Ready.
func (s *Server) Pool() *pgxpool.Pool {
	select {
	case <-s.ready:
		return s.pool
	default:
		return nil
	}
}

// Addr returns the bound listen address. Nil until Ready.
func (s *Server) Addr() net.Addr {
	select {
	case <-s.ready:
		return s.listener.Addr()
	default:
		return nil
	}
}

func (s *Server) start(ctx context.Context) {
	if err := s.config.validate(); err != nil {
		s.fail(fmt.Errorf("invalid front-end configuration: %w", err))
		return
	}

	listener, err := net.Listen("tcp", s.config.Address())
	if err != nil {
		s.fail(fmt.Errorf("binding %s: %w", s.config.Address(), err))
		return
	}

	poolConfig, err := poolConfig(s.config.Store, s.config.Name)
	if err != nil {
		listener.Close()
		s.fail(err)
		return
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		listener.Close()
		s.fail(fmt.Errorf("creating connection pool: %w", err))
		return
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		listener.Close()
		s.fail(fmt.Errorf("connecting to backing store: %w", err))
		return
	}

	s.pool = pool
	s.listener = listener
	s.httpServer = &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		defer close(s.serveDone)
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("front-end serve loop ended", "error", err)
		}
	}()

	s.logger.Info("front-end ready", "address", listener.Addr().String())
	close(s.settled)
	close(s.ready)
}

// fail records err and signals Failed. settled closes first so that
// anyone woken by Failed sees a settled server.
func (s *Server) fail(err error) {
	s.err = err
	s.logger.Warn("front-end failed to start", "error", err)
	close(s.serveDone)
	close(s.settled)
	close(s.failed)
}

// Close stops the HTTP server and closes the pool. It waits for
// startup to settle first. Calling Close more than once returns the
// first result.
func (s *Server) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		select {
		case <-s.settled:
		case <-ctx.Done():
			s.closeErr = fmt.Errorf("waiting for front-end startup: %w", ctx.Err())
			return
		}
		if s.err != nil {
			return
		}

		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.closeErr = fmt.Errorf("shutting down front-end: %w", err)
			s.httpServer.Close()
		}
		<-s.serveDone
		s.pool.Close()
		s.logger.Info("front-end closed")
	})
	return s.closeErr
}
