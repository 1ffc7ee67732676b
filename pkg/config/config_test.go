package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/voidforge/foundry/pkg/config"
)

func TestDefaults(t *testing.T) {
	c := config.NewConfig()
	if c.Bind != ":8080" {
		t.Errorf("default bind: %q", c.Bind)
	}
	if c.Store != "bitcask" || c.Transport != "http" {
		t.Errorf("default backends: store=%q transport=%q", c.Store, c.Transport)
	}
	if c.RetryBudget != 3 {
		t.Errorf("default retry budget: %d", c.RetryBudget)
	}
}

func TestLoadFromFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "foundry.yml")
	doc := []byte("store: sqlite\nretry_budget: 5\nheartbeat_timeout: 2m\n")
	if err := os.WriteFile(p, doc, 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	c := config.NewConfig()
	if err := c.LoadFromFile(p); err != nil {
		t.Fatalf("load: %v", err)
	}

	if c.Store != "sqlite" {
		t.Errorf("store not overridden: %q", c.Store)
	}
	if c.RetryBudget != 5 {
		t.Errorf("retry budget not overridden: %d", c.RetryBudget)
	}
	if c.HeartbeatTimeout != 2*time.Minute {
		t.Errorf("heartbeat timeout not parsed: %v", c.HeartbeatTimeout)
	}
	// Keys absent from the file keep their defaults.
	if c.Bind != ":8080" {
		t.Errorf("bind lost its default: %q", c.Bind)
	}
}
