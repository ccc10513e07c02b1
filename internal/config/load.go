// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package config

import (
	"errors"
	"io/fs"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// flagKeys maps command-line flags to configuration keys.
var flagKeys = map[string]string{
	"http-addr":    "http_addr",
	"metrics-addr": "metrics_addr",
	"log-format":   "log.format",
	"log-level":    "log.level",
}

// LoadOptions selects the sources Load reads.
type LoadOptions struct {
	File   string         // YAML file; empty skips it
	Flags  *pflag.FlagSet // only flags the user changed are applied
	DotEnv string         // .env file; a missing file is ignored
}

// RegisterFlags adds the flags Load understands to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	def := Default()
	fs.String("http-addr", def.HTTPAddr, "auth API listen address")
	fs.String("metrics-addr", def.MetricsAddr, "metrics/health HTTP address (empty = disabled)")
	fs.String("log-format", def.Log.Format, "log format (json or text)")
	fs.String("log-level", def.Log.Level, "log level (debug, info, warn, error)")
}

// Load builds the configuration. Sources apply in order, later ones
// winning: defaults, the YAML file, changed flags. Secrets are read from
// the environment after the optional .env file is loaded; variables
// already set in the environment win over .env.
func Load(opts LoadOptions) (*Config, error) {
	k := koanf.New(".")

	if opts.File != "" {
		if err := k.Load(file.Provider(opts.File), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("file", opts.File).Wrap(err)
		}
	}

	if opts.Flags != nil {
		provider := posflag.ProviderWithFlag(opts.Flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(opts.Flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("operation", "unmarshal").Wrap(err)
	}

	if opts.DotEnv != "" {
		if err := godotenv.Load(opts.DotEnv); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("file", opts.DotEnv).Wrap(err)
		}
	}
	if err := env.Parse(&cfg.Secrets); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "env").Wrap(err)
	}

	return &cfg, nil
}
