// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package frontend

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Config configures a Server.
type Config struct {
	// Logger receives the server's records. Nil discards them.
	Logger *slog.Logger

	// Name identifies the instance in logs and in /v1/instance.
	Name string

	// Port and BindAddress form the listen address.
	Port        int
	BindAddress string

	// AuditLog logs every HTTP request at info level.
	AuditLog bool

	Store StoreConfig
}

// StoreConfig describes the standalone backing store.
type StoreConfig struct {
	MaxConnections   int
	QueryTimeout     time.Duration
	ConnectionString string
}

// Address returns the listen address.
func (c Config) Address() string {
	return net.JoinHostPort(c.BindAddress, strconv.Itoa(c.Port))
}

func (c Config) validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.BindAddress == "" {
		return errors.New("bind address is required")
	}
	if c.Store.MaxConnections < 1 {
		return fmt.Errorf("max connections must be at least 1 (got %d)", c.Store.MaxConnections)
	}
	if c.Store.QueryTimeout <= 0 {
		return fmt.Errorf("query timeout must be positive (got %v)", c.Store.QueryTimeout)
	}
	if c.Store.ConnectionString == "" {
		return errors.New("connection string is required")
	}
	return nil
}

// poolConfig builds the pgxpool configuration for a store.
func poolConfig(store StoreConfig, applicationName string) (*pgxpool.Config, error) {
	parsed, err := pgxpool.ParseConfig(store.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}
	parsed.MaxConns = int32(store.MaxConnections)
	parsed.MinConns = 0
	runtime := parsed.ConnConfig.RuntimeParams
	runtime["statement_timeout"] = strconv.FormatInt(store.QueryTimeout.Milliseconds(), 10)
	if applicationName != "" {
		runtime["application_name"] = applicationName
	}
	return parsed, nil
}
