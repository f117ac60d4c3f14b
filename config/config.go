package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"

	"swapsettle/ledger"
	"swapsettle/settle"
)

type Config struct {
	RPCAddress     string `toml:"RPCAddress"`
	DataDir        string `toml:"DataDir"`
	Env            string `toml:"Env"`
	OwnerAddress   string `toml:"OwnerAddress"`
	CustodyAddress string `toml:"CustodyAddress"`
	// JWTSecretEnv names the environment variable holding the HS256 secret
	// for privileged RPC methods. Empty disables those methods.
	JWTSecretEnv string `toml:"JWTSecretEnv"`

	Policy  PolicyConfig   `toml:"Policy"`
	Genesis []GenesisEntry `toml:"Genesis"`
}

// PolicyConfig mirrors settle.Policy in file form, with the treasury as a
// hex address string.
type PolicyConfig struct {
	MaxFeeBps                     uint32 `toml:"MaxFeeBps"`
	MinFeeBps                     uint32 `toml:"MinFeeBps"`
	PartnerSurplusShareLimitBps   uint32 `toml:"PartnerSurplusShareLimitBps"`
	ProtocolSurplusShareFloorBps  uint32 `toml:"ProtocolSurplusShareFloorBps"`
	PartnerSlippageShareLimitBps  uint32 `toml:"PartnerSlippageShareLimitBps"`
	ProtocolSlippageShareFloorBps uint32 `toml:"ProtocolSlippageShareFloorBps"`
	RawCallGasStipend             uint64 `toml:"RawCallGasStipend"`
	Treasury                      string `toml:"Treasury"`
	FoldPartnerShare              bool   `toml:"FoldPartnerShare"`
}

// GenesisEntry seeds a ledger balance at startup. Asset "native" funds the
// native asset; any other value is parsed as a token address.
type GenesisEntry struct {
	Asset   string `toml:"Asset"`
	Address string `toml:"Address"`
	Amount  string `toml:"Amount"`
}

// Load loads the configuration from the given path, writing a default file
// when none exists.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := &Config{}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	for _, undecoded := range meta.Undecoded() {
		return nil, fmt.Errorf("config file %s has unknown field %s", path, undecoded.String())
	}

	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = ":8080"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./swapsettle-data"
	}
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if _, err := parseAddress(c.OwnerAddress, "OwnerAddress"); err != nil {
		return err
	}
	if _, err := parseAddress(c.CustodyAddress, "CustodyAddress"); err != nil {
		return err
	}
	if _, err := parseAddress(c.Policy.Treasury, "Policy.Treasury"); err != nil {
		return err
	}
	for i, entry := range c.Genesis {
		if _, err := parseAsset(entry.Asset); err != nil {
			return fmt.Errorf("config: Genesis[%d]: %w", i, err)
		}
		if _, err := parseAddress(entry.Address, fmt.Sprintf("Genesis[%d].Address", i)); err != nil {
			return err
		}
		if _, err := parseAmount(entry.Amount); err != nil {
			return fmt.Errorf("config: Genesis[%d]: %w", i, err)
		}
	}
	return nil
}

// Owner returns the parsed owner address.
func (c *Config) Owner() common.Address {
	addr, _ := parseAddress(c.OwnerAddress, "OwnerAddress")
	return addr
}

// Custody returns the parsed custody address.
func (c *Config) Custody() common.Address {
	addr, _ := parseAddress(c.CustodyAddress, "CustodyAddress")
	return addr
}

// SettlementPolicy converts the file policy into the engine form.
func (c *Config) SettlementPolicy() settle.Policy {
	treasury, _ := parseAddress(c.Policy.Treasury, "Policy.Treasury")
	return settle.Policy{
		MaxFeeBps:                     c.Policy.MaxFeeBps,
		MinFeeBps:                     c.Policy.MinFeeBps,
		PartnerSurplusShareLimitBps:   c.Policy.PartnerSurplusShareLimitBps,
		ProtocolSurplusShareFloorBps:  c.Policy.ProtocolSurplusShareFloorBps,
		PartnerSlippageShareLimitBps:  c.Policy.PartnerSlippageShareLimitBps,
		ProtocolSlippageShareFloorBps: c.Policy.ProtocolSlippageShareFloorBps,
		RawCallGasStipend:             c.Policy.RawCallGasStipend,
		Treasury:                      treasury,
		FoldPartnerShare:              c.Policy.FoldPartnerShare,
	}
}

// SeedBalance is a genesis entry in parsed form.
type SeedBalance struct {
	Asset   ledger.Asset
	Address common.Address
	Amount  *big.Int
}

// SeedBalances returns the parsed genesis entries.
func (c *Config) SeedBalances() []SeedBalance {
	seeds := make([]SeedBalance, 0, len(c.Genesis))
	for i, entry := range c.Genesis {
		asset, _ := parseAsset(entry.Asset)
		addr, _ := parseAddress(entry.Address, fmt.Sprintf("Genesis[%d].Address", i))
		amount, _ := parseAmount(entry.Amount)
		seeds = append(seeds, SeedBalance{Asset: asset, Address: addr, Amount: amount})
	}
	return seeds
}

// JWTSecret resolves the privileged-RPC secret from the environment. An empty
// return means privileged methods stay disabled.
func (c *Config) JWTSecret() []byte {
	if strings.TrimSpace(c.JWTSecretEnv) == "" {
		return nil
	}
	secret := os.Getenv(c.JWTSecretEnv)
	if secret == "" {
		return nil
	}
	return []byte(secret)
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		RPCAddress:     ":8080",
		DataDir:        "./swapsettle-data",
		Env:            "dev",
		OwnerAddress:   common.Address{}.Hex(),
		CustodyAddress: common.Address{}.Hex(),
		JWTSecretEnv:   "SWAPSETTLE_JWT_SECRET",
		Policy: PolicyConfig{
			MaxFeeBps:                    100,
			PartnerSurplusShareLimitBps:  5000,
			PartnerSlippageShareLimitBps: 5000,
			RawCallGasStipend:            2300,
			Treasury:                     common.Address{}.Hex(),
			FoldPartnerShare:             true,
		},
		Genesis: []GenesisEntry{},
	}
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func parseAddress(value, field string) (common.Address, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("config: %s is not a hex address: %q", field, value)
	}
	return common.HexToAddress(trimmed), nil
}

func parseAsset(value string) (ledger.Asset, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" || strings.EqualFold(trimmed, "native") {
		return ledger.NativeAsset, nil
	}
	if !common.IsHexAddress(trimmed) {
		return ledger.Asset{}, fmt.Errorf("asset is neither \"native\" nor a hex address: %q", value)
	}
	return ledger.Asset(common.HexToAddress(trimmed)), nil
}

func parseAmount(value string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(value), 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("amount must be a non-negative decimal string, got %q", value)
	}
	return amount, nil
}
