// Package config loads the omt command's YAML configuration with strict
// decoding and explicit defaults.
package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the complete CLI configuration.
type Config struct {
	Send SendConfig `yaml:"send"`
	Recv RecvConfig `yaml:"recv"`
}

// SendConfig configures the sender subcommand.
type SendConfig struct {
	Port       int    `yaml:"port"`        // TCP listen port
	SourceName string `yaml:"source_name"` // DNS-SD instance source name
	Advertise  bool   `yaml:"advertise"`   // register _omt._tcp. via DNS-SD
	StatusAddr string `yaml:"status_addr"` // optional HTTP status/metrics listener
	Audio      bool   `yaml:"audio"`       // enable the audio path
}

// RecvConfig configures the receiver subcommand.
type RecvConfig struct {
	Host string `yaml:"host"` // source host; empty means discover
	Port int    `yaml:"port"`
}

// Load reads configuration from a YAML file, rejecting unknown fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

func (c *Config) setDefaults() {
	if c.Send.Port == 0 {
		c.Send.Port = 6500
	}
	if c.Send.SourceName == "" {
		c.Send.SourceName = "OMT Source"
	}
	if c.Recv.Port == 0 {
		c.Recv.Port = 6500
	}
}
