package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Load reads configuration in three layers: an optional .env file, an
// optional YAML config file (with ${VAR} expansion), and finally
// environment variable overrides. Later layers win.
func Load(path string) (*Config, error) {
	// Best-effort .env load; absence is normal in production.
	_ = godotenv.Load()

	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		// Expand ${VAR} environment variables
		expanded := os.ExpandEnv(string(data))

		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse config yaml: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variables on top of file values.
func (c *Config) applyEnvOverrides() {
	setString(&c.Live.APIKey, "KALSHI_LIVE_API_KEY")
	setString(&c.Live.PrivateKeyPath, "KALSHI_LIVE_PRIVATE_KEY_PATH")
	setString(&c.Demo.APIKey, "KALSHI_DEMO_API_KEY")
	setString(&c.Demo.PrivateKeyPath, "KALSHI_DEMO_PRIVATE_KEY_PATH")

	setString(&c.DatabaseURL, "DATABASE_URL")
	setString(&c.ActiveEnvironment, "ACTIVE_ENVIRONMENT")
	setString(&c.ControlAPI.Host, "CONTROL_API_HOST")

	if v := os.Getenv("CONTROL_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.ControlAPI.Port = port
		}
	}
	if v := os.Getenv("GLOBAL_TRADING_ENABLED"); v != "" {
		c.GlobalTradingEnabled = strings.EqualFold(v, "true")
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
