// Package config loads engine.yaml: rate limits, sync batching, payload
// budgets and persistence cadence.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	ProtocolVersion string `yaml:"protocol_version"`

	Publish PublishLimits `yaml:"publish"`
	Sync    SyncConfig    `yaml:"sync"`

	// TriggerTimeoutMs bounds one trigger invocation end to end.
	TriggerTimeoutMs int `yaml:"trigger_timeout_ms"`

	// SnapshotEverySec: cadence of full-state backup snapshots (0 disables).
	SnapshotEverySec int `yaml:"snapshot_every_sec"`
}

// PublishLimits throttle calls to the external render gateway.
type PublishLimits struct {
	RatePerSec float64 `yaml:"rate_per_sec"`
	Burst      int     `yaml:"burst"`
}

// SyncConfig shapes anchor refresh batches.
type SyncConfig struct {
	BatchSize         int `yaml:"batch_size"`
	BatchDelayMs      int `yaml:"batch_delay_ms"`
	MaxConcurrent     int `yaml:"max_concurrent"`
	LocationTimeoutMs int `yaml:"location_timeout_ms"`
}

func Defaults() Config {
	return Config{
		ProtocolVersion: "1.0",
		Publish: PublishLimits{
			RatePerSec: 5,
			Burst:      5,
		},
		Sync: SyncConfig{
			BatchSize:         10,
			BatchDelayMs:      1500,
			MaxConcurrent:     4,
			LocationTimeoutMs: 10000,
		},
		TriggerTimeoutMs: 5000,
		SnapshotEverySec: 300,
	}
}

func Load(path string) (Config, error) {
	c := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return c, fmt.Errorf("engine.yaml: %w", err)
	}
	return c, nil
}

func (s SyncConfig) BatchDelay() time.Duration { return time.Duration(s.BatchDelayMs) * time.Millisecond }

func (s SyncConfig) LocationTimeout() time.Duration {
	return time.Duration(s.LocationTimeoutMs) * time.Millisecond
}

func (c Config) TriggerTimeout() time.Duration {
	return time.Duration(c.TriggerTimeoutMs) * time.Millisecond
}
