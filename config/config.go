package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/holiman/uint256"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/tolelom/tolmarket/core"
	"github.com/tolelom/tolmarket/vm"
)

// EnvPrefix namespaces environment overrides, e.g. TOLMARKET_RPC_PORT or
// TOLMARKET_GENESIS_ADMINISTRATOR.
const EnvPrefix = "TOLMARKET"

// GenesisConfig describes the market's initial state. Amounts are decimal
// strings so 256-bit values survive every config format.
type GenesisConfig struct {
	Administrator  string   `json:"administrator" mapstructure:"administrator"`
	ProtocolWallet string   `json:"protocol_wallet" mapstructure:"protocol_wallet"` // empty → administrator
	FeeNumerator   string   `json:"fee_numerator" mapstructure:"fee_numerator"`
	FeeDenominator string   `json:"fee_denominator" mapstructure:"fee_denominator"`
	PaymentUnits   []string `json:"payment_units" mapstructure:"payment_units"`
	Reservers      []string `json:"reservers" mapstructure:"reservers"`
	Implementation string   `json:"implementation" mapstructure:"implementation"`
}

// Config holds all node configuration.
type Config struct {
	DataDir       string        `json:"data_dir" mapstructure:"data_dir"`
	RPCPort       int           `json:"rpc_port" mapstructure:"rpc_port"`
	RPCAuthToken  string        `json:"rpc_auth_token" mapstructure:"rpc_auth_token"` // empty → no auth
	RPCRateLimit  float64       `json:"rpc_rate_limit" mapstructure:"rpc_rate_limit"` // requests/second per client; 0 → unlimited
	RPCRateBurst  int           `json:"rpc_rate_burst" mapstructure:"rpc_rate_burst"`
	LogLevel      string        `json:"log_level" mapstructure:"log_level"`
	MarketAddress string        `json:"market_address" mapstructure:"market_address"` // escrow vault and asset operator
	DevMode       bool          `json:"dev_mode" mapstructure:"dev_mode"`
	Genesis       GenesisConfig `json:"genesis" mapstructure:"genesis"`
}

// DefaultConfig returns a single-node development configuration.
func DefaultConfig() *Config {
	return &Config{
		DataDir:       "./data",
		RPCPort:       8545,
		RPCRateLimit:  50,
		RPCRateBurst:  100,
		LogLevel:      "info",
		MarketAddress: "0x000000000000000000000000000000000000a000",
		DevMode:       true,
		Genesis: GenesisConfig{
			Administrator:  "0x000000000000000000000000000000000000a001",
			FeeNumerator:   "2500000000000",
			FeeDenominator: "100000000000000",
			PaymentUnits:   []string{"0x000000000000000000000000000000000000d001"},
			Reservers:      []string{},
			Implementation: "market/v1",
		},
	}
}

// settings flattens cfg into viper keys.
func (c *Config) settings() map[string]any {
	return map[string]any{
		"data_dir":                c.DataDir,
		"rpc_port":                c.RPCPort,
		"rpc_auth_token":          c.RPCAuthToken,
		"rpc_rate_limit":          c.RPCRateLimit,
		"rpc_rate_burst":          c.RPCRateBurst,
		"log_level":               c.LogLevel,
		"market_address":          c.MarketAddress,
		"dev_mode":                c.DevMode,
		"genesis.administrator":   c.Genesis.Administrator,
		"genesis.protocol_wallet": c.Genesis.ProtocolWallet,
		"genesis.fee_numerator":   c.Genesis.FeeNumerator,
		"genesis.fee_denominator": c.Genesis.FeeDenominator,
		"genesis.payment_units":   c.Genesis.PaymentUnits,
		"genesis.reservers":       c.Genesis.Reservers,
		"genesis.implementation":  c.Genesis.Implementation,
	}
}

func newViper() *viper.Viper {
	v := viper.New()
	for k, val := range DefaultConfig().settings() {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads a config file from path; the format follows the extension
// (json, yaml, toml). An empty path loads defaults. Environment variables
// override both.
func Load(path string) (*Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// Save writes the config to path in the format named by its extension.
func Save(cfg *Config, path string) error {
	v := viper.New()
	for k, val := range cfg.settings() {
		v.Set(k, val)
	}
	return v.WriteConfigAs(path)
}

// Validate checks the config for values the node cannot start with.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("data_dir must not be empty")
	}
	if c.RPCPort <= 0 || c.RPCPort > 65535 {
		return fmt.Errorf("rpc_port %d out of range", c.RPCPort)
	}
	// market_sendCall trusts the caller field, so only the token guards it.
	if !c.DevMode && c.RPCAuthToken == "" {
		return errors.New("rpc_auth_token is required when dev_mode is off")
	}
	if c.RPCRateLimit < 0 {
		return errors.New("rpc_rate_limit must not be negative")
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if _, err := parseAddress("market_address", c.MarketAddress); err != nil {
		return err
	}
	if _, err := c.Genesis.Params(); err != nil {
		return err
	}
	if _, err := parseAddresses("genesis.payment_units", c.Genesis.PaymentUnits); err != nil {
		return err
	}
	if _, err := parseAddresses("genesis.reservers", c.Genesis.Reservers); err != nil {
		return err
	}
	if _, ok := vm.Lookup(c.Genesis.Implementation); !ok {
		return fmt.Errorf("genesis.implementation %q not registered (have %v)",
			c.Genesis.Implementation, vm.Implementations())
	}
	return nil
}

// Market returns the parsed market address.
func (c *Config) Market() (core.Address, error) {
	return parseAddress("market_address", c.MarketAddress)
}

// Params builds the initial protocol parameters.
func (g GenesisConfig) Params() (*core.Params, error) {
	admin, err := parseAddress("genesis.administrator", g.Administrator)
	if err != nil {
		return nil, err
	}
	wallet := admin
	if g.ProtocolWallet != "" {
		if wallet, err = parseAddress("genesis.protocol_wallet", g.ProtocolWallet); err != nil {
			return nil, err
		}
	}
	num, err := parseAmount("genesis.fee_numerator", g.FeeNumerator)
	if err != nil {
		return nil, err
	}
	den, err := parseAmount("genesis.fee_denominator", g.FeeDenominator)
	if err != nil {
		return nil, err
	}
	if den.IsZero() {
		return nil, fmt.Errorf("genesis.fee_denominator: %w", core.ErrZeroDenominator)
	}
	if num.Gt(den) {
		return nil, fmt.Errorf("genesis.fee_numerator: %w", core.ErrFeeTooHigh)
	}
	return &core.Params{
		Administrator:  admin,
		ProtocolWallet: wallet,
		FeeNumerator:   num,
		FeeDenominator: den,
	}, nil
}

func parseAddress(field, s string) (core.Address, error) {
	if !core.IsHexAddress(s) {
		return core.ZeroAddress, fmt.Errorf("%s: %q is not a hex address", field, s)
	}
	a := core.HexToAddress(s)
	if a == core.ZeroAddress {
		return core.ZeroAddress, fmt.Errorf("%s: %w", field, core.ErrZeroAddress)
	}
	return a, nil
}

func parseAddresses(field string, ss []string) ([]core.Address, error) {
	out := make([]core.Address, 0, len(ss))
	for _, s := range ss {
		a, err := parseAddress(field, s)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func parseAmount(field, s string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}
	return v, nil
}
