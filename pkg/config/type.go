package config

import (
	"time"
)

// Config represents the complete application configuration that
// foundry supports.
type Config struct {
	Bind string `yaml:"bind"`

	Store     string `yaml:"store"`
	Transport string `yaml:"transport"`

	RetryBudget      int           `yaml:"retry_budget"`
	DispatchInterval time.Duration `yaml:"dispatch_interval"`
	HeartbeatTimeout time.Duration `yaml:"heartbeat_timeout"`
	SweepInterval    time.Duration `yaml:"sweep_interval"`
	IngestShards     int           `yaml:"ingest_shards"`
}
