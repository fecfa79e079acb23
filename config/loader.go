package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables that override file-backed secrets, so credentials
// never have to live in the YAML.
const (
	EnvDBPassword          = "BRICKWELL_DB_PASSWORD"
	EnvZeroBusClientID     = "BRICKWELL_ZEROBUS_CLIENT_ID"
	EnvZeroBusClientSecret = "BRICKWELL_ZEROBUS_CLIENT_SECRET"
)

// Load reads the YAML file at path over the defaults, applies secret
// overrides from the environment, and validates the result. A `.env` file in
// the working directory is honored when present.
func Load(path string) (Config, error) {
	// Missing .env is the normal case outside development.
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
			}
			return Config{}, err
		}

		if err = yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if password, set := os.LookupEnv(EnvDBPassword); set {
		cfg.Database.Password = password
	}
	if clientID, set := os.LookupEnv(EnvZeroBusClientID); set {
		cfg.Streaming.ZeroBus.ClientID = clientID
	}
	if clientSecret, set := os.LookupEnv(EnvZeroBusClientSecret); set {
		cfg.Streaming.ZeroBus.ClientSecret = clientSecret
	}
}
