package config

// Default values for optional configuration fields.
const (
	DefaultActiveEnvironment = EnvDemo
	DefaultControlHost       = "127.0.0.1"
	DefaultControlPort       = 8100
)

func (c *Config) applyDefaults() {
	if c.ActiveEnvironment == "" {
		c.ActiveEnvironment = DefaultActiveEnvironment
	}
	if c.ControlAPI.Host == "" {
		c.ControlAPI.Host = DefaultControlHost
	}
	if c.ControlAPI.Port == 0 {
		c.ControlAPI.Port = DefaultControlPort
	}
}
