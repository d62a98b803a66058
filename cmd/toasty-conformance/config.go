package main

import (
	"os"

	"github.com/BurntSushi/toml"
)

// Config is toasty-conformance's on-disk configuration, loaded with
// BurntSushi/toml when --config points at a file; CLI flags (bound
// through viper in main.go) take precedence over whatever a config file
// sets, matching the override order spf13/viper's own docs describe.
type Config struct {
	Backend  string `toml:"backend"`
	DSN      string `toml:"dsn"`
	LogLevel string `toml:"log_level"`

	Dynamo struct {
		Region       string `toml:"region"`
		Endpoint     string `toml:"endpoint"`
		StaticKey    string `toml:"static_key"`
		StaticSecret string `toml:"static_secret"`
	} `toml:"dynamo"`
}

func loadConfig(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); err != nil {
		return cfg, err
	}
	_, err := toml.DecodeFile(path, &cfg)
	return cfg, err
}
