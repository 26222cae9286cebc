package config

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadRequiresFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoadParsesSections(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := `
repeater:
  node_name: test-node
  mode: forward
  cache_ttl: 60
duty_cycle:
  max_airtime_per_minute: 1000
  enforcement_enabled: true
storage_dir: /tmp/repeater
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Repeater.NodeName != "test-node" {
		t.Errorf("NodeName = %q, want test-node", cfg.Repeater.NodeName)
	}
	if cfg.DutyCycle.MaxAirtimePerMinute != 1000 {
		t.Errorf("MaxAirtimePerMinute = %v, want 1000", cfg.DutyCycle.MaxAirtimePerMinute)
	}
	if cfg.StorageDir != "/tmp/repeater" {
		t.Errorf("StorageDir = %q", cfg.StorageDir)
	}
}

func TestLoadOrCreateIdentityFromConfig(t *testing.T) {
	seed := make([]byte, 32)
	for i := range seed {
		seed[i] = byte(i)
	}
	cfg := &Config{Mesh: Mesh{IdentityKey: base64.StdEncoding.EncodeToString(seed)}}

	pub, priv, err := LoadOrCreateIdentity(cfg)
	if err != nil {
		t.Fatalf("LoadOrCreateIdentity: %v", err)
	}
	if len(pub) != 32 {
		t.Errorf("pub len = %d, want 32", len(pub))
	}
	if len(priv) != 64 {
		t.Errorf("priv len = %d, want 64", len(priv))
	}
}

func TestLoadOrCreateIdentityFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	cfg := &Config{}
	pub1, _, err := LoadOrCreateIdentity(cfg)
	if err != nil {
		t.Fatalf("first LoadOrCreateIdentity: %v", err)
	}

	pub2, _, err := LoadOrCreateIdentity(cfg)
	if err != nil {
		t.Fatalf("second LoadOrCreateIdentity: %v", err)
	}

	if string(pub1) != string(pub2) {
		t.Error("identity changed across successive loads")
	}

	path := filepath.Join(dir, "meshcore-repeater", "identity.key")
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat identity file: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("identity file mode = %v, want 0600", info.Mode().Perm())
	}
}
