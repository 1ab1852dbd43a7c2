package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "agentcp.yaml")
	if err := os.WriteFile(path, []byte(strings.TrimSpace(contents)), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestLoadEmptyPathReturnsDefault(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !reflect.DeepEqual(cfg, Default()) {
		t.Fatalf("expected Default(), got %+v", cfg)
	}
}

func TestLoadOverlaysOntoDefaults(t *testing.T) {
	path := writeConfig(t, `
model:
  endpoint: http://localhost:9000/v1
  name: qwen
context:
  size: 64000
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Model.Endpoint != "http://localhost:9000/v1" || cfg.Model.Name != "qwen" {
		t.Fatalf("unexpected model config: %+v", cfg.Model)
	}
	if cfg.Context.Size != 64000 {
		t.Fatalf("context size = %d, want 64000", cfg.Context.Size)
	}
	// Options absent from the file keep their default.
	if cfg.Server.ListenPort != Default().Server.ListenPort {
		t.Fatalf("expected default listen port to survive, got %d", cfg.Server.ListenPort)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `
model:
  endpoint: http://localhost:9000/v1
  bogus_field: true
`)

	if _, err := Load(path); err == nil {
		t.Fatalf("expected an error for an unknown field")
	}
}

func TestLoadExpandsEnvironmentVariables(t *testing.T) {
	t.Setenv("AGENTCP_TEST_API_KEY", "sk-test-123")
	path := writeConfig(t, `
model:
  api_key: ${AGENTCP_TEST_API_KEY}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Model.APIKey != "sk-test-123" {
		t.Fatalf("api key = %q, want expanded env value", cfg.Model.APIKey)
	}
}

func TestLoadMissingFileErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected an error for a missing file")
	}
}
