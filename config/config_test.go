package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfigValidates(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config should validate, got %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty database", func(c *Config) { c.General.Database = "" }},
		{"bad network", func(c *Config) { c.General.Network = "devnet" }},
		{"zero stake", func(c *Config) { c.General.TotalStake = 0 }},
		{"port clash", func(c *Config) { c.API.ListenPort = c.Network.ListenPort }},
		{"bad zlib level", func(c *Config) { c.Network.ZlibLevel = 12 }},
		{"zero timeout", func(c *Config) { c.Network.Timeout = 0 }},
		{"bad bootstrap entry", func(c *Config) { c.Bootstrap.BootstrapNodes = []string{"nohost"} }},
	}
	for _, c := range cases {
		cfg := DefaultConfig()
		c.mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", c.name)
		}
	}
}

func TestLoadRoundTripsThroughSave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	cfg := DefaultConfig()
	cfg.Bootstrap.BootstrapNodes = []string{"10.0.0.1:9000"}
	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Network.ListenPort != cfg.Network.ListenPort {
		t.Fatalf("listen_port = %d, want %d", loaded.Network.ListenPort, cfg.Network.ListenPort)
	}
	if len(loaded.Bootstrap.BootstrapNodes) != 1 || loaded.Bootstrap.BootstrapNodes[0] != "10.0.0.1:9000" {
		t.Fatalf("bootstrap nodes = %v", loaded.Bootstrap.BootstrapNodes)
	}
}

func TestLoadGenesis(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "genesis.json")
	doc := `{
		"state": {"balance": {"3918807197700602162PR": 100000, "7306589250910697267PR": 300000}},
		"round": -1,
		"hash": "",
		"signed": true
	}`
	if err := os.WriteFile(path, []byte(doc), 0600); err != nil {
		t.Fatalf("write genesis: %v", err)
	}
	g, err := LoadGenesis(path)
	if err != nil {
		t.Fatalf("LoadGenesis: %v", err)
	}
	if g.State.Balance["7306589250910697267PR"] != 300000 {
		t.Fatalf("balance = %d, want 300000", g.State.Balance["7306589250910697267PR"])
	}
}

func TestLoadGenesisRejectsWrongRound(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "genesis.json")
	doc := `{"state": {"balance": {"1PR": 1}}, "round": 0, "signed": true}`
	if err := os.WriteFile(path, []byte(doc), 0600); err != nil {
		t.Fatalf("write genesis: %v", err)
	}
	if _, err := LoadGenesis(path); err == nil {
		t.Fatal("expected rejection of round != -1")
	}
}
