// Package config provides daemon configuration from the environment.
package config

import (
	"github.com/kelseyhightower/envconfig"
)

// Config holds riverchaind settings. Every field can be set via a
// RIVERCHAIN_* environment variable; command-line flags take precedence.
type Config struct {
	// envconfig falls back to the unprefixed variable name, so the tag must
	// not collide with the system HOME.
	Home       string `envconfig:"app_home" default:".riverchain"`
	ListenAddr string `envconfig:"listen_addr" default:"tcp://127.0.0.1:26658"`
	Transport  string `envconfig:"transport" default:"socket"`
	LogLevel   string `envconfig:"log_level" default:"info"`
	LogJSON    bool   `envconfig:"log_json"`
}

// Load reads the configuration from the environment.
func Load() (Config, error) {
	var c Config
	if err := envconfig.Process("riverchain", &c); err != nil {
		return Config{}, err
	}
	return c, nil
}
