package config

import "fmt"

// Validate checks the configuration for inconsistencies. Missing
// credentials and a missing database are not errors: the system degrades
// gracefully without them.
func (c *Config) Validate() error {
	if c.ActiveEnvironment != EnvLive && c.ActiveEnvironment != EnvDemo {
		return fmt.Errorf("active_environment must be %q or %q, got %q", EnvLive, EnvDemo, c.ActiveEnvironment)
	}
	if c.ControlAPI.Port < 1 || c.ControlAPI.Port > 65535 {
		return fmt.Errorf("control_api.port out of range: %d", c.ControlAPI.Port)
	}
	for _, env := range Environments {
		creds := c.Credentials(env)
		if creds.APIKey != "" && creds.PrivateKeyPath == "" {
			return fmt.Errorf("%s: api_key set but private_key_path missing", env)
		}
	}
	return nil
}
