// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// EnvironmentVariable names the config file when --config is not given.
const EnvironmentVariable = "DBSANDBOX_CONFIG"

// Config is the complete dbsandbox configuration.
type Config struct {
	Engine   EngineConfig   `yaml:"engine"`
	Sandbox  SandboxConfig  `yaml:"sandbox"`
	Frontend FrontendConfig `yaml:"frontend"`
	Worker   WorkerConfig   `yaml:"worker"`
}

// EngineConfig locates the PostgreSQL binaries and sets cluster
// initialization options.
type EngineConfig struct {
	// BinDir holds initdb, postgres, and createdb. Empty means look
	// each binary up on PATH.
	BinDir string `yaml:"bin_dir"`

	Initdb   string `yaml:"initdb"`
	Postgres string `yaml:"postgres"`
	Createdb string `yaml:"createdb"`

	// Encoding is passed to initdb -E.
	Encoding string `yaml:"encoding"`

	// AuthMethod is passed to initdb --auth. Sandboxes are reachable
	// only through a private socket directory, so "trust" is the
	// default.
	AuthMethod string `yaml:"auth_method"`

	// Superuser is the bootstrap role name. Empty means initdb's
	// default (the invoking OS user).
	Superuser string `yaml:"superuser"`
}

// SandboxConfig controls provisioning and teardown.
type SandboxConfig struct {
	// TempRoot is the parent of each sandbox's private directory.
	// Empty means os.TempDir() (which honours TMPDIR).
	TempRoot string `yaml:"temp_root"`

	// GracePeriod is the fixed delay between signalling the process
	// group and removing the sandbox directory.
	GracePeriod time.Duration `yaml:"grace_period"`

	// TenantAttempts is the total number of createdb attempts per
	// provisioning request.
	TenantAttempts int `yaml:"tenant_attempts"`

	// TenantDelay is the pause between createdb attempts.
	TenantDelay time.Duration `yaml:"tenant_delay"`

	// PortMin and PortMax bound the front-end port range [PortMin, PortMax).
	PortMin int `yaml:"port_min"`
	PortMax int `yaml:"port_max"`

	// BindAddress is the front-end listen address.
	BindAddress string `yaml:"bind_address"`
}

// FrontendConfig configures each front-end service's backing pool.
type FrontendConfig struct {
	MaxConnections int           `yaml:"max_connections"`
	QueryTimeout   time.Duration `yaml:"query_timeout"`
	AuditLog       bool          `yaml:"audit_log"`
}

// WorkerConfig configures the worker process.
type WorkerConfig struct {
	// Binary is the dbsandbox-worker executable. Empty means look next
	// to the running binary, then on PATH.
	Binary string `yaml:"binary"`

	// LogLevel is debug, info, warn, or error. DBSANDBOX_LOG_LEVEL
	// overrides it.
	LogLevel string `yaml:"log_level"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			Initdb:     "initdb",
			Postgres:   "postgres",
			Createdb:   "createdb",
			Encoding:   "UTF8",
			AuthMethod: "trust",
		},
		Sandbox: SandboxConfig{
			GracePeriod:    time.Second,
			TenantAttempts: 5,
			TenantDelay:    0,
			PortMin:        2000,
			PortMax:        10000,
			BindAddress:    "127.0.0.1",
		},
		Frontend: FrontendConfig{
			MaxConnections: 5,
			QueryTimeout:   30 * time.Second,
			AuditLog:       false,
		},
		Worker: WorkerConfig{
			LogLevel: "info",
		},
	}
}

// Resolve loads the file named by flagPath, or by DBSANDBOX_CONFIG
// when flagPath is empty. With neither set it returns Default().
func Resolve(flagPath string) (*Config, error) {
	path := flagPath
	if path == "" {
		path = os.Getenv(EnvironmentVariable)
	}
	if path == "" {
		return Default(), nil
	}
	return LoadFile(path)
}

// LoadFile reads, parses, and validates a config file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		data = jsonc.ToJSON(data)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML (or plain JSON) over Default(), expands path
// variables, and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.expandVariables()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Marshal encodes the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// BinaryPath returns the path to use for an engine binary name.
func (e EngineConfig) BinaryPath(name string) string {
	if e.BinDir == "" || strings.ContainsRune(name, filepath.Separator) {
		return name
	}
	return filepath.Join(e.BinDir, name)
}

func (c *Config) expandVariables() {
	c.Engine.BinDir = expandVars(c.Engine.BinDir)
	c.Sandbox.TempRoot = expandVars(c.Sandbox.TempRoot)
	c.Worker.Binary = expandVars(c.Worker.Binary)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} from the environment.
func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		return parts[2]
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Engine.Initdb == "" {
		errs = append(errs, errors.New("engine.initdb is required"))
	}
	if c.Engine.Postgres == "" {
		errs = append(errs, errors.New("engine.postgres is required"))
	}
	if c.Engine.Createdb == "" {
		errs = append(errs, errors.New("engine.createdb is required"))
	}
	if c.Sandbox.GracePeriod < 0 {
		errs = append(errs, fmt.Errorf("sandbox.grace_period must not be negative (got %v)", c.Sandbox.GracePeriod))
	}
	if c.Sandbox.TenantAttempts < 1 {
		errs = append(errs, fmt.Errorf("sandbox.tenant_attempts must be at least 1 (got %d)", c.Sandbox.TenantAttempts))
	}
	if c.Sandbox.TenantDelay < 0 {
		errs = append(errs, fmt.Errorf("sandbox.tenant_delay must not be negative (got %v)", c.Sandbox.TenantDelay))
	}
	if c.Sandbox.PortMin < 1 || c.Sandbox.PortMax > 65536 || c.Sandbox.PortMin >= c.Sandbox.PortMax {
		errs = append(errs, fmt.Errorf("sandbox port range [%d, %d) is invalid", c.Sandbox.PortMin, c.Sandbox.PortMax))
	}
	if c.Sandbox.BindAddress == "" {
		errs = append(errs, errors.New("sandbox.bind_address is required"))
	}
	if c.Frontend.MaxConnections < 1 {
		errs = append(errs, fmt.Errorf("frontend.max_connections must be at least 1 (got %d)", c.Frontend.MaxConnections))
	}
	if c.Frontend.QueryTimeout <= 0 {
		errs = append(errs, fmt.Errorf("frontend.query_timeout must be positive (got %v)", c.Frontend.QueryTimeout))
	}
	switch c.Worker.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("worker.log_level %q is not one of debug, info, warn, error", c.Worker.LogLevel))
	}

	return errors.Join(errs...)
}
