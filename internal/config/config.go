// =============================================================================
// CONFIGURATION - YAML FILE + ENVIRONMENT OVERRIDES
// =============================================================================
//
// WHAT IS THIS?
// The broker's startup configuration: one YAML file, a handful of
// environment overrides for containerized deployments, and fail-fast
// validation (see validate.go) before anything binds a port.
//
// PRECEDENCE (last wins):
//   defaults  <  config file  <  environment
//
// ENVIRONMENT OVERRIDES:
//   TOPICBUS_NODE_NAME      node name (pod name in Kubernetes)
//   TOPICBUS_API_ADDR       HTTP listen address
//
// DURATIONS:
// Durations are configured in milliseconds as plain integers
// (ack_timeout_ms, not "30s"): integer fields survive YAML round-trips in
// every tool, and the conversion happens exactly once, in Broker().
//
// EXAMPLE:
//
//   node:
//     name: topicbus-0
//   api:
//     addr: ":8080"
//   dispatch:
//     ack_timeout_ms: 30000
//     redelivery_sweep_interval_ms: 1000
//     default_receiver_queue_size: 1000
//   metrics:
//     enabled: true
//     namespace: topicbus
//
// =============================================================================

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"topicbus/internal/broker"
	"topicbus/internal/metrics"
)

// Config is the full broker configuration.
type Config struct {
	Node     NodeConfig     `yaml:"node"`
	API      APIConfig      `yaml:"api"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Metrics  metrics.Config `yaml:"metrics"`
}

// NodeConfig identifies the broker node.
type NodeConfig struct {
	Name string `yaml:"name"`
}

// APIConfig holds the HTTP API server settings.
type APIConfig struct {
	Addr           string `yaml:"addr"`
	ReadTimeoutMs  int    `yaml:"read_timeout_ms"`
	WriteTimeoutMs int    `yaml:"write_timeout_ms"`
	IdleTimeoutMs  int    `yaml:"idle_timeout_ms"`
}

// DispatchConfig holds the dispatch-path settings.
type DispatchConfig struct {
	AckTimeoutMs              int `yaml:"ack_timeout_ms"`
	RedeliverySweepIntervalMs int `yaml:"redelivery_sweep_interval_ms"`
	DefaultReceiverQueueSize  int `yaml:"default_receiver_queue_size"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		Node: NodeConfig{Name: "topicbus-0"},
		API: APIConfig{
			Addr:           ":8080",
			ReadTimeoutMs:  30000,
			WriteTimeoutMs: 30000,
			IdleTimeoutMs:  60000,
		},
		Dispatch: DispatchConfig{
			AckTimeoutMs:              30000,
			RedeliverySweepIntervalMs: 1000,
			DefaultReceiverQueueSize:  1000,
		},
		Metrics: metrics.DefaultConfig(),
	}
}

// Load reads the config file (if path is non-empty), applies environment
// overrides, and validates. The returned error is a *ValidationError when
// the content is the problem.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TOPICBUS_NODE_NAME"); v != "" {
		cfg.Node.Name = v
	}
	if v := os.Getenv("TOPICBUS_API_ADDR"); v != "" {
		cfg.API.Addr = v
	}
}

// Broker converts the dispatch section into the broker package's config.
func (c Config) Broker() broker.Config {
	return broker.Config{
		Name:                     c.Node.Name,
		AckTimeout:               time.Duration(c.Dispatch.AckTimeoutMs) * time.Millisecond,
		RedeliverySweepInterval:  time.Duration(c.Dispatch.RedeliverySweepIntervalMs) * time.Millisecond,
		DefaultReceiverQueueSize: c.Dispatch.DefaultReceiverQueueSize,
	}
}
