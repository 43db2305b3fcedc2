package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadCreatesDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPCAddress != "127.0.0.1:8645" {
		t.Fatalf("default rpc address: %s", cfg.RPCAddress)
	}
	if cfg.Backend != BackendLevelDB {
		t.Fatalf("default backend: %s", cfg.Backend)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config not written: %v", err)
	}

	// Reloading the written file yields the same settings.
	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.RPCAddress != cfg.RPCAddress || reloaded.Backend != cfg.Backend {
		t.Fatalf("reload mismatch: %+v vs %+v", reloaded, cfg)
	}
}

func TestLoadParsesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	contents := `
RPCAddress = "0.0.0.0:9000"
DataDir = "/var/lib/stakereg"
Backend = "bolt"
LogFile = "/var/log/stakereg.log"

[Telemetry]
Enabled = true
Endpoint = "otel:4318"
Insecure = true
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPCAddress != "0.0.0.0:9000" || cfg.Backend != BackendBolt {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if !cfg.Telemetry.Enabled || cfg.Telemetry.Endpoint != "otel:4318" {
		t.Fatalf("telemetry not parsed: %+v", cfg.Telemetry)
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	if err := Validate(&Config{Backend: "cassandra"}); err == nil {
		t.Fatalf("expected unsupported backend rejection")
	}
	if err := Validate(&Config{Backend: BackendMemory, Telemetry: Telemetry{Enabled: true}}); err == nil {
		t.Fatalf("expected endpointless telemetry rejection")
	}
	if err := Validate(&Config{Backend: BackendMemory}); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}
