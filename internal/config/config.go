// Package config loads trader configuration from an optional YAML file
// and environment variables. Credentials always come from the environment
// (or a .env file) and are never written back to disk.
package config

// Environment names. Live and demo run as isolated pipelines sharing only
// the in-process market cache.
const (
	EnvLive = "live"
	EnvDemo = "demo"
)

// Environments lists all supported environment names.
var Environments = []string{EnvLive, EnvDemo}

// Config is the top-level trader configuration.
type Config struct {
	// ActiveEnvironment selects which environment the permission layer
	// routes approved intents to ("live" or "demo").
	ActiveEnvironment string `yaml:"active_environment"`

	// GlobalTradingEnabled is the startup value of the global kill switch.
	GlobalTradingEnabled bool `yaml:"global_trading_enabled"`

	// DatabaseURL is the Postgres DSN. Empty means run without persistence.
	DatabaseURL string `yaml:"database_url"`

	ControlAPI ControlAPIConfig `yaml:"control_api"`

	Live CredentialsConfig `yaml:"live"`
	Demo CredentialsConfig `yaml:"demo"`
}

// ControlAPIConfig configures the loopback control server.
type ControlAPIConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// CredentialsConfig holds per-environment API credentials.
type CredentialsConfig struct {
	APIKey         string `yaml:"api_key"`
	PrivateKeyPath string `yaml:"private_key_path"`
}

// Credentials returns the credential config for the named environment.
func (c *Config) Credentials(env string) CredentialsConfig {
	if env == EnvLive {
		return c.Live
	}
	return c.Demo
}

// Exchange endpoints. The demo environment is a fully separate exchange
// deployment with its own credentials.
const (
	liveBaseURL = "https://api.elections.kalshi.com"
	demoBaseURL = "https://demo-api.kalshi.co"

	liveWSURL = "wss://api.elections.kalshi.com/trade-api/ws/v2"
	demoWSURL = "wss://demo-api.kalshi.co/trade-api/ws/v2"
)

// BaseURL returns the REST origin for an environment. The API client
// appends the trade API path prefix itself.
func BaseURL(env string) string {
	if env == EnvLive {
		return liveBaseURL
	}
	return demoBaseURL
}

// WSURL returns the WebSocket URL for an environment.
func WSURL(env string) string {
	if env == EnvLive {
		return liveWSURL
	}
	return demoWSURL
}
