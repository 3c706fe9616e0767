// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// EnvPrefix prefixes every environment override. A double underscore
// separates nesting levels: SESSIONAUTH_SERVER__ADDR sets server.addr.
const EnvPrefix = "SESSIONAUTH_"

const delim = "."

// legacyVar maps an unprefixed variable onto a config key. value, when set,
// translates the raw variable.
type legacyVar struct {
	key   string
	value func(string) any
}

// legacyEnv lists the unprefixed variables still honoured.
var legacyEnv = map[string]legacyVar{
	"AUTH_TYPE":        {key: "auth.scheme", value: legacyScheme},
	"SESSION_NAME":     {key: "auth.cookie_name"},
	"SESSION_DURATION": {key: "session.duration", value: legacyDuration},
	"DATABASE_URL":     {key: "storage.database_url"},
}

// legacySchemes renames the old AUTH_TYPE values. Current scheme names pass
// through unchanged.
var legacySchemes = map[string]string{
	"basic_auth":       "basic",
	"session_auth":     "session",
	"session_exp_auth": "session_exp",
	"session_db_auth":  "session_db",
}

func legacyScheme(v string) any {
	if scheme, ok := legacySchemes[v]; ok {
		return scheme
	}
	return v
}

// legacyDuration reads SESSION_DURATION as seconds. Anything that is not a
// non-negative integer means the session never expires.
func legacyDuration(v string) any {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// listKeys are split on commas when read from the environment.
var listKeys = map[string]bool{
	"auth.excluded_paths": true,
}

// RegisterFlags adds the overridable settings to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("server.addr", d.Server.Addr, "HTTP listen address")
	fs.String("server.metrics_addr", d.Server.MetricsAddr, "metrics listen address (empty disables)")
	fs.String("server.log_format", d.Server.LogFormat, "log format (json, text)")
	fs.String("server.log_level", d.Server.LogLevel, "log level (debug, info, warn, error)")
	fs.String("auth.scheme", d.Auth.Scheme, "auth scheme (none, basic, session, session_exp, session_db)")
	fs.String("auth.cookie_name", d.Auth.CookieName, "session cookie name")
	fs.Int("session.duration", d.Session.Duration, "session lifetime in seconds (0 never expires)")
	fs.String("session.store", d.Session.Store, "durable session store (postgres, sqlite, redis)")
	fs.String("storage.driver", d.Storage.Driver, "user store driver (memory, postgres, sqlite)")
	fs.String("storage.database_url", d.Storage.DatabaseURL, "PostgreSQL connection URL")
	fs.String("storage.sqlite_path", d.Storage.SQLitePath, "SQLite database file")
	fs.String("redis.addr", d.Redis.Addr, "Redis address")
}

// Load layers defaults, the YAML file at path (skipped when empty), the
// environment and the changed flags in fs (may be nil), then validates.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	k := koanf.New(delim)

	if path != "" {
		if err := ValidateFile(path); err != nil {
			return nil, err
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
		}
	}

	for name, legacy := range legacyEnv {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			var value any = v
			if legacy.value != nil {
				value = legacy.value(v)
			}
			if err := k.Set(legacy.key, value); err != nil {
				return nil, oops.Code("CONFIG_LOAD_FAILED").With("env", name).Wrap(err)
			}
		}
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, delim, envKey), nil); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("operation", "load environment").Wrap(err)
	}

	if fs != nil {
		if err := k.Load(posflag.ProviderWithFlag(fs, delim, k, changedFlag(fs)), nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("operation", "load flags").Wrap(err)
		}
	}

	// Decoding merges into existing slices, so the default list is only
	// restored when no layer set one.
	cfg := Default()
	defaultExcluded := cfg.Auth.ExcludedPaths
	cfg.Auth.ExcludedPaths = nil
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("operation", "decode").Wrap(err)
	}
	if !k.Exists("auth.excluded_paths") {
		cfg.Auth.ExcludedPaths = defaultExcluded
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps SESSIONAUTH_AUTH__EXCLUDED_PATHS=a,b to auth.excluded_paths=[a b].
func envKey(name, value string) (string, any) {
	key := strings.ToLower(strings.ReplaceAll(strings.TrimPrefix(name, EnvPrefix), "__", delim))
	if listKeys[key] {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return key, out
	}
	return key, value
}

// changedFlag keeps only flags set on the command line so flag defaults
// never mask file or environment values.
func changedFlag(fs *pflag.FlagSet) func(f *pflag.Flag) (string, any) {
	return func(f *pflag.Flag) (string, any) {
		if !f.Changed {
			return "", nil
		}
		return f.Name, posflag.FlagVal(fs, f)
	}
}
