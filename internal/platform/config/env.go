// Package config loads engine configuration from the environment.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix namespaces every engine environment variable.
const EnvPrefix = "CODE2027_"

// ParseEnv loads configuration from environment variables.
//
// Struct tags are written without the shared prefix; ParseEnv applies
// EnvPrefix so `env:"SEED"` reads CODE2027_SEED.
func ParseEnv(target any) error {
	if err := env.ParseWithOptions(target, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}
