package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"kestrel/crypto"
)

func TestLoadCreatesDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress == "" || cfg.DataDir == "" {
		t.Fatal("expected defaults to be applied")
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected config file to be written: %v", err)
	}
	if _, err := os.Stat(cfg.OwnerKeyPath); err != nil {
		t.Fatalf("expected owner key to be written: %v", err)
	}
	key, err := cfg.OwnerKey()
	if err != nil {
		t.Fatalf("owner key: %v", err)
	}
	if key.PubKey().Address().String() != cfg.Genesis.Treasury {
		t.Fatal("default treasury should match the generated owner address")
	}
	if _, err := cfg.GenesisSupply(); err != nil {
		t.Fatalf("genesis supply: %v", err)
	}
}

func TestLoadExistingRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if _, err := Load(path); err != nil {
		t.Fatalf("seed default: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if cfg.NetworkName != "kestrel-local" {
		t.Fatalf("unexpected network name %q", cfg.NetworkName)
	}
	if cfg.Guards.CooldownSeconds != 45 {
		t.Fatalf("unexpected cooldown %d", cfg.Guards.CooldownSeconds)
	}
}

func TestValidateRejectsBadAddress(t *testing.T) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	owner := key.PubKey().Address().String()
	cfg := &Config{
		Genesis: Genesis{
			Supply:        "1000",
			Treasury:      "not-an-address",
			FeeSink:       owner,
			EscrowAddress: owner,
		},
	}
	err = cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "genesis.Treasury") {
		t.Fatalf("expected treasury validation failure, got %v", err)
	}
}

func TestValidateVestingGrants(t *testing.T) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	owner := key.PubKey().Address().String()
	base := func() *Config {
		return &Config{
			Genesis: Genesis{Supply: "1000", Treasury: owner, FeeSink: owner, EscrowAddress: owner},
			Vesting: []VestingGrant{{
				Beneficiary: owner,
				Amount:      "500",
				Start:       100,
				Cliff:       200,
				Duration:    300,
				Role:        "team",
			}},
		}
	}

	if err := base().Validate(); err != nil {
		t.Fatalf("valid grant rejected: %v", err)
	}

	cfg := base()
	cfg.Vesting[0].Cliff = 50
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "Cliff") {
		t.Fatalf("expected cliff validation failure, got %v", err)
	}

	cfg = base()
	cfg.Vesting[0].Duration = 0
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "Duration") {
		t.Fatalf("expected duration validation failure, got %v", err)
	}

	cfg = base()
	cfg.Vesting[0].Role = "janitor"
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "Role") {
		t.Fatalf("expected role validation failure, got %v", err)
	}

	cfg = base()
	cfg.Vesting[0].Amount = "-1"
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "Amount") {
		t.Fatalf("expected amount validation failure, got %v", err)
	}
}

func TestValidateRejectsSaleWindow(t *testing.T) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	owner := key.PubKey().Address().String()
	cfg := &Config{
		Genesis: Genesis{Supply: "1000", Treasury: owner, FeeSink: owner, EscrowAddress: owner},
		Sale:    &Sale{StartAt: 100, EndAt: 100, SaleAddress: owner, MinContribution: "1", MaxContribution: "10", Cap: "100", TokensPerUnit: "5"},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected sale window validation failure")
	}
}
