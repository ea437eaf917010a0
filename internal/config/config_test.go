package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "topicbus.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Node.Name != "topicbus-0" {
		t.Errorf("node name: expected topicbus-0, got %s", cfg.Node.Name)
	}
	if cfg.API.Addr != ":8080" {
		t.Errorf("api addr: expected :8080, got %s", cfg.API.Addr)
	}
	if !cfg.Metrics.Enabled {
		t.Error("metrics should be enabled by default")
	}
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfigFile(t, `
node:
  name: broker-7
api:
  addr: ":9090"
dispatch:
  ack_timeout_ms: 5000
  redelivery_sweep_interval_ms: 500
  default_receiver_queue_size: 250
metrics:
  enabled: true
  namespace: custombus
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Node.Name != "broker-7" {
		t.Errorf("node name: got %s", cfg.Node.Name)
	}
	if cfg.API.Addr != ":9090" {
		t.Errorf("api addr: got %s", cfg.API.Addr)
	}
	if cfg.Dispatch.DefaultReceiverQueueSize != 250 {
		t.Errorf("default queue size: got %d", cfg.Dispatch.DefaultReceiverQueueSize)
	}
	if cfg.Metrics.Namespace != "custombus" {
		t.Errorf("metrics namespace: got %s", cfg.Metrics.Namespace)
	}

	// Values absent from the file keep their defaults.
	if cfg.API.ReadTimeoutMs != 30000 {
		t.Errorf("read timeout: expected default 30000, got %d", cfg.API.ReadTimeoutMs)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadMalformedYAML(t *testing.T) {
	path := writeConfigFile(t, "node: [broken")
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TOPICBUS_NODE_NAME", "env-node")
	t.Setenv("TOPICBUS_API_ADDR", ":7070")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Node.Name != "env-node" {
		t.Errorf("node name: expected env-node, got %s", cfg.Node.Name)
	}
	if cfg.API.Addr != ":7070" {
		t.Errorf("api addr: expected :7070, got %s", cfg.API.Addr)
	}
}

func TestEnvOverridesBeatFile(t *testing.T) {
	path := writeConfigFile(t, `
node:
  name: from-file
`)
	t.Setenv("TOPICBUS_NODE_NAME", "from-env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Node.Name != "from-env" {
		t.Errorf("environment must win over file, got %s", cfg.Node.Name)
	}
}

func TestValidateAccumulatesAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Node.Name = ""
	cfg.API.Addr = "no-port"
	cfg.Dispatch.AckTimeoutMs = 0
	cfg.Dispatch.DefaultReceiverQueueSize = -1

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}

	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if len(verr.Errors) != 4 {
		t.Errorf("expected 4 accumulated errors, got %d: %v", len(verr.Errors), verr.Errors)
	}
}

func TestValidateSweepMustNotExceedAckTimeout(t *testing.T) {
	cfg := Default()
	cfg.Dispatch.AckTimeoutMs = 1000
	cfg.Dispatch.RedeliverySweepIntervalMs = 5000

	if err := cfg.Validate(); err == nil {
		t.Error("expected error when sweep interval exceeds ack timeout")
	}
}

func TestValidateMetricsNamespace(t *testing.T) {
	cfg := Default()
	cfg.Metrics.Namespace = ""

	if err := cfg.Validate(); err == nil {
		t.Error("expected error for empty namespace with metrics enabled")
	}

	cfg.Metrics.Enabled = false
	if err := cfg.Validate(); err != nil {
		t.Errorf("disabled metrics need no namespace: %v", err)
	}
}

func TestBrokerConversion(t *testing.T) {
	cfg := Default()
	cfg.Node.Name = "broker-3"
	cfg.Dispatch.AckTimeoutMs = 5000
	cfg.Dispatch.RedeliverySweepIntervalMs = 250

	bc := cfg.Broker()
	if bc.Name != "broker-3" {
		t.Errorf("name: got %s", bc.Name)
	}
	if bc.AckTimeout != 5*time.Second {
		t.Errorf("ack timeout: got %v", bc.AckTimeout)
	}
	if bc.RedeliverySweepInterval != 250*time.Millisecond {
		t.Errorf("sweep interval: got %v", bc.RedeliverySweepInterval)
	}
	if bc.DefaultReceiverQueueSize != 1000 {
		t.Errorf("queue size: got %d", bc.DefaultReceiverQueueSize)
	}
}
