package config

// loader.go - configuration loading from a YAML file and the environment.
//
// Precedence order (highest wins):
//   1. CLI flags  (handled by cmd/root.go)
//   2. Environment variables  (LoadFromEnv)
//   3. Config file  (LoadFile)
//   4. Defaults   (defaults.go)

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// LoadFile overlays the YAML document at path onto cfg.  Keys absent from
// the file keep their current value; unknown keys are an error.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	return decodeYAML(data, cfg, path)
}

func decodeYAML(data []byte, cfg *Config, name string) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil // empty document
		}
		return fmt.Errorf("parsing config file %s: %w", name, err)
	}
	return nil
}

// LoadFromEnv overlays LIFOD_* environment variables onto cfg.  Only set
// variables override the existing value.  Call it after LoadFile and
// before CLI flag parsing so that flags take precedence.
func LoadFromEnv(cfg *Config) error {
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return fmt.Errorf("loading environment: %w", err)
	}
	return nil
}

// Usage writes the table of recognised environment variables.
func Usage(w io.Writer) error {
	return envconfig.Usagef(EnvPrefix, &Config{}, w, envconfig.DefaultTableFormat)
}
