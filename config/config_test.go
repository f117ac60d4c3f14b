package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"swapsettle/ledger"
)

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settle.toml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load default: %v", err)
	}
	if cfg.RPCAddress != ":8080" {
		t.Fatalf("default RPCAddress = %q", cfg.RPCAddress)
	}
	if !cfg.Policy.FoldPartnerShare {
		t.Fatal("default policy should fold the partner share")
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default file not written: %v", err)
	}

	// The written file must load back cleanly.
	if _, err := Load(path); err != nil {
		t.Fatalf("reload default: %v", err)
	}
}

func TestLoadParsesFullConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settle.toml")
	body := `
RPCAddress = ":9090"
DataDir = "/var/lib/swapsettle"
Env = "prod"
OwnerAddress = "0x0100000000000000000000000000000000000000"
CustodyAddress = "0x0300000000000000000000000000000000000000"
JWTSecretEnv = "SETTLE_SECRET"

[Policy]
MaxFeeBps = 100
PartnerSurplusShareLimitBps = 2000
PartnerSlippageShareLimitBps = 2000
RawCallGasStipend = 2300
Treasury = "0x0200000000000000000000000000000000000000"
FoldPartnerShare = true

[[Genesis]]
Asset = "native"
Address = "0x0400000000000000000000000000000000000000"
Amount = "1000000"

[[Genesis]]
Asset = "0xAA00000000000000000000000000000000000000"
Address = "0x0400000000000000000000000000000000000000"
Amount = "500"
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Owner() != (common.Address{0x01}) {
		t.Fatalf("owner = %s", cfg.Owner().Hex())
	}
	policy := cfg.SettlementPolicy()
	if policy.Treasury != (common.Address{0x02}) || policy.MaxFeeBps != 100 {
		t.Fatalf("policy = %+v", policy)
	}
	seeds := cfg.SeedBalances()
	if len(seeds) != 2 {
		t.Fatalf("seeds = %d, want 2", len(seeds))
	}
	if !seeds[0].Asset.IsNative() || seeds[0].Amount.Int64() != 1_000_000 {
		t.Fatalf("native seed = %+v", seeds[0])
	}
	if seeds[1].Asset != (ledger.Asset{0xAA}) {
		t.Fatalf("token seed asset = %s", seeds[1].Asset)
	}
}

func TestLoadRejectsUnknownField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settle.toml")
	if err := os.WriteFile(path, []byte("Bogus = true\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected unknown field error")
	}
}

func TestLoadRejectsBadAddress(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settle.toml")
	if err := os.WriteFile(path, []byte("OwnerAddress = \"not-an-address\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected address parse error")
	}
}

func TestJWTSecretFromEnvironment(t *testing.T) {
	cfg := &Config{JWTSecretEnv: "SWAPSETTLE_TEST_SECRET"}
	t.Setenv("SWAPSETTLE_TEST_SECRET", "hunter2")
	if got := string(cfg.JWTSecret()); got != "hunter2" {
		t.Fatalf("secret = %q", got)
	}
	cfg.JWTSecretEnv = ""
	if cfg.JWTSecret() != nil {
		t.Fatal("empty env name should disable the secret")
	}
}
