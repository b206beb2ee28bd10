// Package config loads the YAML configuration files cmd/conductor binds its
// client run and sequencer run subcommands to: read a YAML file over a
// defaulted struct, let command-line flags override individual fields.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/cuemby/conductor/pkg/conductor"
	"github.com/cuemby/conductor/pkg/rafttransport"
	"github.com/cuemby/conductor/pkg/sequencer"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Client holds the tunables for a client conductor process.
type Client struct {
	KeepAliveIntervalMs     int64  `yaml:"keepAliveIntervalMs"`
	DriverTimeoutMs         int64  `yaml:"driverTimeoutMs"`
	InterServiceTimeoutMs   int64  `yaml:"interServiceTimeoutMs"`
	ResourceLingerMs        int64  `yaml:"resourceLingerMs"`
	ResourceCheckIntervalMs int64  `yaml:"resourceCheckIntervalMs"`
	PendingTimeoutMs        int64  `yaml:"pendingTimeoutMs"`
	DriverEventPollLimit    int    `yaml:"driverEventPollLimit"`
	MaxKeyLength            int    `yaml:"maxKeyLength"`
	MaxLabelLength          int    `yaml:"maxLabelLength"`
	MetricsAddr             string `yaml:"metricsAddr"`
}

// DefaultClient mirrors conductor.DefaultConfig's values so a missing
// config file and an empty one behave identically.
func DefaultClient() Client {
	return Client{
		KeepAliveIntervalMs:     500,
		DriverTimeoutMs:         10_000,
		InterServiceTimeoutMs:   10_000,
		ResourceLingerMs:        3_000,
		ResourceCheckIntervalMs: 1_000,
		PendingTimeoutMs:        5_000,
		DriverEventPollLimit:    10,
		MaxKeyLength:            408,
		MaxLabelLength:          380,
		MetricsAddr:             "127.0.0.1:9090",
	}
}

// Sequencer holds the tunables for a cluster sequencer process.
type Sequencer struct {
	NodeID                  string `yaml:"nodeId"`
	RaftBindAddr            string `yaml:"raftBindAddr"`
	DataDir                 string `yaml:"dataDir"`
	IngressAddr             string `yaml:"ingressAddr"`
	IngressPollLimit        int    `yaml:"ingressPollLimit"`
	TimerPollLimit          int    `yaml:"timerPollLimit"`
	PendingSessionTimeoutMs int64  `yaml:"pendingSessionTimeoutMs"`
	RaftApplyTimeoutMs      int64  `yaml:"raftApplyTimeoutMs"`
	MetricsAddr             string `yaml:"metricsAddr"`
}

// DefaultSequencer mirrors sequencer.DefaultConfig's values.
func DefaultSequencer() Sequencer {
	return Sequencer{
		NodeID:                  "sequencer-1",
		RaftBindAddr:            "127.0.0.1:7946",
		DataDir:                 "./conductor-data",
		IngressAddr:             "127.0.0.1:7000",
		IngressPollLimit:        10,
		TimerPollLimit:          10,
		PendingSessionTimeoutMs: 5000,
		RaftApplyTimeoutMs:      2000,
		MetricsAddr:             "127.0.0.1:9091",
	}
}

// LoadClient reads and merges a YAML file over DefaultClient. A missing
// path is not an error — the caller gets pure defaults, the same tolerance
// cmd/conductor's flag-only invocation relies on.
func LoadClient(path string) (Client, error) {
	cfg := DefaultClient()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("config: read client config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse client config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadSequencer reads and merges a YAML file over DefaultSequencer.
func LoadSequencer(path string) (Sequencer, error) {
	cfg := DefaultSequencer()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("config: read sequencer config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse sequencer config %s: %w", path, err)
	}
	if cfg.NodeID == "" {
		cfg.NodeID = uuid.NewString()
	}
	return cfg, nil
}

func millis(ms int64) time.Duration { return time.Duration(ms) * time.Millisecond }

// ToConductorConfig maps the YAML-friendly Client onto conductor.Config.
func (c Client) ToConductorConfig() conductor.Config {
	return conductor.Config{
		KeepAliveInterval:     millis(c.KeepAliveIntervalMs),
		DriverTimeout:         millis(c.DriverTimeoutMs),
		InterServiceTimeout:   millis(c.InterServiceTimeoutMs),
		ResourceLinger:        millis(c.ResourceLingerMs),
		ResourceCheckInterval: millis(c.ResourceCheckIntervalMs),
		PendingTimeout:        millis(c.PendingTimeoutMs),
		DriverEventPollLimit:  c.DriverEventPollLimit,
		MaxKeyLength:          c.MaxKeyLength,
		MaxLabelLength:        c.MaxLabelLength,
	}
}

// ToSequencerConfig maps the YAML-friendly Sequencer onto sequencer.Config.
func (s Sequencer) ToSequencerConfig() sequencer.Config {
	return sequencer.Config{
		IngressPollLimit:        s.IngressPollLimit,
		TimerPollLimit:          s.TimerPollLimit,
		PendingSessionTimeoutMs: s.PendingSessionTimeoutMs,
	}
}

// ToRaftConfig maps the YAML-friendly Sequencer onto rafttransport.Config.
func (s Sequencer) ToRaftConfig() rafttransport.Config {
	return rafttransport.Config{
		NodeID:   s.NodeID,
		BindAddr: s.RaftBindAddr,
		DataDir:  s.DataDir,
	}
}

// RaftApplyTimeout returns the configured raft apply timeout as a Duration.
func (s Sequencer) RaftApplyTimeout() time.Duration { return millis(s.RaftApplyTimeoutMs) }
