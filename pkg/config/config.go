package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// NewConfig returns a config object with default structures
// initialized.  The config can be loaded from other sources to
// override the defaults.
func NewConfig() *Config {
	return &Config{
		Bind:             ":8080",
		Store:            "bitcask",
		Transport:        "http",
		RetryBudget:      3,
		DispatchInterval: time.Second,
		HeartbeatTimeout: 90 * time.Second,
		SweepInterval:    15 * time.Second,
		IngestShards:     8,
	}
}

// LoadFromFile does as the name suggests, and loads the config from a
// file
func (c *Config) LoadFromFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	return dec.Decode(c)
}
