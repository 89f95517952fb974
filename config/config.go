package config

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"kestrel/crypto"
	"kestrel/native/vesting"
)

// Config is the daemon configuration. Genesis and guard defaults live in the
// same file so a deployment is described in one place.
type Config struct {
	ListenAddress string         `toml:"ListenAddress"`
	DataDir       string         `toml:"DataDir"`
	NetworkName   string         `toml:"NetworkName"`
	OwnerKeyPath  string         `toml:"OwnerKeyPath"`
	AdminToken    string         `toml:"AdminToken"`
	Genesis       Genesis        `toml:"genesis"`
	Guards        Guards         `toml:"guards"`
	Sale          *Sale          `toml:"sale,omitempty"`
	Vesting       []VestingGrant `toml:"vesting,omitempty"`
}

// Genesis fixes the mint and the module addresses.
type Genesis struct {
	Supply        string `toml:"Supply"`
	Treasury      string `toml:"Treasury"`
	FeeSink       string `toml:"FeeSink"`
	EscrowAddress string `toml:"EscrowAddress"`
}

// Guards carries the launch-guard defaults applied at first boot. Later
// changes go through the admin surface.
type Guards struct {
	MaxTxBps           uint32 `toml:"MaxTxBps"`
	MaxWalletBps       uint32 `toml:"MaxWalletBps"`
	CooldownSeconds    uint64 `toml:"CooldownSeconds"`
	SniperWindowLength uint64 `toml:"SniperWindowLength"`
	BuyFeeBps          uint32 `toml:"BuyFeeBps"`
	SellFeeBps         uint32 `toml:"SellFeeBps"`
	KYCEnabled         bool   `toml:"KYCEnabled"`
}

// VestingGrant seeds a vesting stream at first boot. Later grants go through
// the admin surface.
type VestingGrant struct {
	Beneficiary string `toml:"Beneficiary"`
	Amount      string `toml:"Amount"`
	Start       uint64 `toml:"Start"`
	Cliff       uint64 `toml:"Cliff"`
	Duration    uint64 `toml:"Duration"`
	Revocable   bool   `toml:"Revocable"`
	Role        string `toml:"Role"`
}

// Sale configures the optional capped public sale.
type Sale struct {
	StartAt         int64  `toml:"StartAt"`
	EndAt           int64  `toml:"EndAt"`
	MinContribution string `toml:"MinContribution"`
	MaxContribution string `toml:"MaxContribution"`
	Cap             string `toml:"Cap"`
	TokensPerUnit   string `toml:"TokensPerUnit"`
	SaleAddress     string `toml:"SaleAddress"`
}

// Load reads the configuration from the given path, creating a default file
// with a freshly generated owner key when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if cfg.OwnerKeyPath == "" {
		cfg.OwnerKeyPath = defaultOwnerKeyPath(path)
	}
	if err := ensureOwnerKey(cfg.OwnerKeyPath); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = ":8645"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./kestrel-data"
	}
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "kestrel-local"
	}
}

// Validate checks that every configured value parses and stays in range.
func (c *Config) Validate() error {
	if _, err := c.GenesisSupply(); err != nil {
		return err
	}
	for field, value := range map[string]string{
		"genesis.Treasury":      c.Genesis.Treasury,
		"genesis.FeeSink":       c.Genesis.FeeSink,
		"genesis.EscrowAddress": c.Genesis.EscrowAddress,
	} {
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("config: %s required", field)
		}
		if _, err := crypto.DecodeAddress(value); err != nil {
			return fmt.Errorf("config: %s: %w", field, err)
		}
	}
	for field, bps := range map[string]uint32{
		"guards.MaxTxBps":     c.Guards.MaxTxBps,
		"guards.MaxWalletBps": c.Guards.MaxWalletBps,
	} {
		if bps > 10_000 {
			return fmt.Errorf("config: %s out of range: %d", field, bps)
		}
	}
	for i, grant := range c.Vesting {
		if _, err := crypto.DecodeAddress(grant.Beneficiary); err != nil {
			return fmt.Errorf("config: vesting[%d].Beneficiary: %w", i, err)
		}
		if _, err := parseAmount(grant.Amount, fmt.Sprintf("vesting[%d].Amount", i)); err != nil {
			return err
		}
		if grant.Duration == 0 {
			return fmt.Errorf("config: vesting[%d].Duration must be positive", i)
		}
		if grant.Cliff < grant.Start {
			return fmt.Errorf("config: vesting[%d].Cliff before Start", i)
		}
		if _, err := vesting.ParseRole(grant.Role); err != nil {
			return fmt.Errorf("config: vesting[%d].Role: %w", i, err)
		}
	}
	if c.Sale != nil {
		if c.Sale.EndAt <= c.Sale.StartAt {
			return fmt.Errorf("config: sale window must end after it starts")
		}
		if strings.TrimSpace(c.Sale.SaleAddress) == "" {
			return fmt.Errorf("config: sale.SaleAddress required")
		}
		if _, err := crypto.DecodeAddress(c.Sale.SaleAddress); err != nil {
			return fmt.Errorf("config: sale.SaleAddress: %w", err)
		}
		for field, value := range map[string]string{
			"sale.MinContribution": c.Sale.MinContribution,
			"sale.MaxContribution": c.Sale.MaxContribution,
			"sale.Cap":             c.Sale.Cap,
			"sale.TokensPerUnit":   c.Sale.TokensPerUnit,
		} {
			if _, err := parseAmount(value, field); err != nil {
				return err
			}
		}
	}
	return nil
}

// GenesisSupply parses the configured supply.
func (c *Config) GenesisSupply() (*big.Int, error) {
	return parseAmount(c.Genesis.Supply, "genesis.Supply")
}

func parseAmount(value, field string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("config: %s required", field)
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || amount.Sign() <= 0 {
		return nil, fmt.Errorf("config: %s must be a positive integer, got %q", field, value)
	}
	return amount, nil
}

// OwnerKey loads the owner's signing key from the configured path.
func (c *Config) OwnerKey() (*crypto.PrivateKey, error) {
	raw, err := os.ReadFile(c.OwnerKeyPath)
	if err != nil {
		return nil, fmt.Errorf("config: read owner key: %w", err)
	}
	decoded, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("config: decode owner key: %w", err)
	}
	return crypto.PrivateKeyFromBytes(decoded)
}

func ensureOwnerKey(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(hex.EncodeToString(key.Bytes())), 0o600)
}

func defaultOwnerKeyPath(configPath string) string {
	return filepath.Join(filepath.Dir(configPath), "owner.key")
}

// createDefault creates and saves a default configuration file alongside a
// freshly generated owner key. The generated owner address doubles as the
// treasury, fee sink and escrow until the operator edits the file.
func createDefault(path string) (*Config, error) {
	keyPath := defaultOwnerKeyPath(path)
	if err := ensureOwnerKey(keyPath); err != nil {
		return nil, err
	}
	cfg := &Config{OwnerKeyPath: keyPath}
	applyDefaults(cfg)
	key, err := cfg.OwnerKey()
	if err != nil {
		return nil, err
	}
	owner := key.PubKey().Address().String()
	cfg.Genesis = Genesis{
		Supply:        "1000000000000000000000000000",
		Treasury:      owner,
		FeeSink:       owner,
		EscrowAddress: owner,
	}
	cfg.Guards = Guards{
		MaxTxBps:           200,
		MaxWalletBps:       300,
		CooldownSeconds:    45,
		SniperWindowLength: 3,
		BuyFeeBps:          300,
		SellFeeBps:         300,
	}
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return toml.NewEncoder(file).Encode(cfg)
}
