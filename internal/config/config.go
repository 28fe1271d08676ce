// Package config loads the engine configuration from, in order of
// precedence: command-line flags, STUDYENGINE_* environment variables, and
// a YAML file. The merged result is validated before use.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

const envPrefix = "STUDYENGINE_"

// Source configures one deck source to import at startup.
type Source struct {
	Name     string `koanf:"name" validate:"required"`
	Subject  string `koanf:"subject" validate:"required"`
	Location string `koanf:"location" validate:"required"`
}

// Config is the full engine configuration.
type Config struct {
	Listen    string   `koanf:"listen" validate:"required,hostname_port"`
	DBPath    string   `koanf:"db_path" validate:"required"`
	ReposDir  string   `koanf:"repos_dir" validate:"required"`
	BatchSize int      `koanf:"batch_size" validate:"gte=1,lte=100"`
	Sources   []Source `koanf:"sources" validate:"dive"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Listen:    "localhost:8080",
		DBPath:    "studyengine.db",
		ReposDir:  "repos",
		BatchSize: 20,
	}
}

// Load merges the YAML file at path (skipped when empty or missing), the
// environment, and the given flag set over the defaults, then validates.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return Config{}, fmt.Errorf("failed to load config file %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	// STUDYENGINE_DB_PATH becomes db_path, and so on.
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, envPrefix))
	}), nil); err != nil {
		return Config{}, fmt.Errorf("failed to load environment: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return Config{}, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
