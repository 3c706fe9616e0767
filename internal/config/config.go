// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package config loads sessionauth settings from defaults, a YAML file, the
// environment and command-line flags, in that order of precedence.
package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/samber/oops"

	"github.com/holomush/sessionauth/internal/gate"
	"github.com/holomush/sessionauth/internal/logging"
	"github.com/holomush/sessionauth/internal/xdg"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverRedis    = "redis"
)

// Config is the complete service configuration.
type Config struct {
	Server  ServerConfig  `koanf:"server" json:"server,omitempty"`
	Auth    AuthConfig    `koanf:"auth" json:"auth,omitempty"`
	Session SessionConfig `koanf:"session" json:"session,omitempty"`
	Storage StorageConfig `koanf:"storage" json:"storage,omitempty"`
	Redis   RedisConfig   `koanf:"redis" json:"redis,omitempty"`
}

// ServerConfig controls the listeners and logging.
type ServerConfig struct {
	Addr        string `koanf:"addr" json:"addr,omitempty" jsonschema:"description=HTTP listen address"`
	MetricsAddr string `koanf:"metrics_addr" json:"metrics_addr,omitempty" jsonschema:"description=Metrics and health listen address; empty disables"`
	LogFormat   string `koanf:"log_format" json:"log_format,omitempty" jsonschema:"enum=json,enum=text"`
	LogLevel    string `koanf:"log_level" json:"log_level,omitempty" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
}

// AuthConfig selects the authentication scheme and the guarded paths.
type AuthConfig struct {
	Scheme          string   `koanf:"scheme" json:"scheme,omitempty" jsonschema:"enum=none,enum=basic,enum=session,enum=session_exp,enum=session_db"`
	ProtectedPrefix string   `koanf:"protected_prefix" json:"protected_prefix,omitempty"`
	ExcludedPaths   []string `koanf:"excluded_paths" json:"excluded_paths,omitempty" jsonschema:"description=Paths that skip authentication; a trailing * matches by prefix"`
	CookieName      string   `koanf:"cookie_name" json:"cookie_name,omitempty"`
}

// SessionConfig controls session lifetime and the durable session backend.
type SessionConfig struct {
	Duration int    `koanf:"duration" json:"duration,omitempty" jsonschema:"minimum=0,description=Session lifetime in seconds; 0 never expires"`
	Store    string `koanf:"store" json:"store,omitempty" jsonschema:"enum=postgres,enum=sqlite,enum=redis,description=Durable session store for session_db"`
}

// StorageConfig selects the user store.
type StorageConfig struct {
	Driver      string `koanf:"driver" json:"driver,omitempty" jsonschema:"enum=memory,enum=postgres,enum=sqlite"`
	DatabaseURL string `koanf:"database_url" json:"database_url,omitempty"`
	SQLitePath  string `koanf:"sqlite_path" json:"sqlite_path,omitempty"`
}

// RedisConfig locates the Redis session store.
type RedisConfig struct {
	Addr      string `koanf:"addr" json:"addr,omitempty"`
	Password  string `koanf:"password" json:"password,omitempty"`
	DB        int    `koanf:"db" json:"db,omitempty" jsonschema:"minimum=0"`
	KeyPrefix string `koanf:"key_prefix" json:"key_prefix,omitempty"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:        ":5000",
			MetricsAddr: "127.0.0.1:9100",
			LogFormat:   "json",
			LogLevel:    "info",
		},
		Auth: AuthConfig{
			Scheme:          string(gate.SchemeNone),
			ProtectedPrefix: gate.DefaultProtectedPrefix,
			ExcludedPaths: []string{
				"/api/v1/status/",
				"/api/v1/unauthorized/",
				"/api/v1/forbidden/",
				"/api/v1/auth_session/login/",
			},
			CookieName: gate.DefaultCookieName,
		},
		Session: SessionConfig{
			Store: DriverPostgres,
		},
		Storage: StorageConfig{
			Driver:     DriverMemory,
			SQLitePath: filepath.Join(xdg.DataDir(), "sessionauth.db"),
		},
		Redis: RedisConfig{
			Addr:      "127.0.0.1:6379",
			KeyPrefix: "session:",
		},
	}
}

// SessionTTL returns the session duration. Zero never expires.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.Session.Duration) * time.Second
}

// Scheme returns the parsed authentication scheme.
func (c *Config) Scheme() (gate.Scheme, error) {
	return gate.ParseScheme(c.Auth.Scheme)
}

func invalid(field string, format string, args ...any) error {
	return oops.Code("CONFIG_INVALID").With("field", field).Errorf(format, args...)
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return invalid("server.addr", "listen address is required")
	}
	if !lo.Contains([]string{"json", "text"}, c.Server.LogFormat) {
		return invalid("server.log_format", "log format must be json or text, got %q", c.Server.LogFormat)
	}
	if _, err := logging.ParseLevel(c.Server.LogLevel); err != nil {
		return invalid("server.log_level", "unknown log level %q", c.Server.LogLevel)
	}

	scheme, err := c.Scheme()
	if err != nil {
		return invalid("auth.scheme", "unknown auth scheme %q", c.Auth.Scheme)
	}
	if !validCookieName(c.Auth.CookieName) {
		return invalid("auth.cookie_name", "invalid cookie name %q", c.Auth.CookieName)
	}
	if !strings.HasPrefix(c.Auth.ProtectedPrefix, "/") {
		return invalid("auth.protected_prefix", "protected prefix must start with /")
	}
	if c.Session.Duration < 0 {
		return invalid("session.duration", "session duration cannot be negative")
	}

	switch c.Storage.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Storage.DatabaseURL == "" {
			return invalid("storage.database_url", "database url is required for the postgres driver")
		}
	case DriverSQLite:
		if c.Storage.SQLitePath == "" {
			return invalid("storage.sqlite_path", "sqlite path is required for the sqlite driver")
		}
	default:
		return invalid("storage.driver", "unknown storage driver %q", c.Storage.Driver)
	}

	if scheme != gate.SchemeSessionDB {
		return nil
	}
	switch c.Session.Store {
	case DriverPostgres:
		if c.Storage.DatabaseURL == "" {
			return invalid("storage.database_url", "database url is required for postgres sessions")
		}
	case DriverSQLite:
		if c.Storage.SQLitePath == "" {
			return invalid("storage.sqlite_path", "sqlite path is required for sqlite sessions")
		}
	case DriverRedis:
		if c.Redis.Addr == "" {
			return invalid("redis.addr", "redis address is required for redis sessions")
		}
	default:
		return invalid("session.store", "unknown session store %q", c.Session.Store)
	}
	return nil
}

// validCookieName accepts a non-empty RFC 6265 token.
func validCookieName(name string) bool {
	if name == "" {
		return false
	}
	return !strings.ContainsFunc(name, func(r rune) bool {
		return r <= ' ' || r >= 0x7f || strings.ContainsRune(`()<>@,;:\"/[]?={}`, r)
	})
}
