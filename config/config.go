// Package config loads bundler configuration from an optional TOML file
// overlaid by CLI flags: flags win over file, file wins over the
// defaults below. Grounded on the teacher's own config conventions
// (preconf.DefaultConfig/DefaultTxPoolConfig var-block style) and its use
// of naoina/toml for file decoding and urfave/cli/v2 for flag parsing.
package config

import (
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/naoina/toml"
	"github.com/urfave/cli/v2"
)

// UopoolMode selects how strictly stage S3 of the validator runs.
type UopoolMode string

const (
	ModeStandard UopoolMode = "standard"
	ModeUnsafe   UopoolMode = "unsafe"
)

// Storage selects the KVStore backing (spec §4.1).
type Storage string

const (
	StorageMemory   Storage = "memory"
	StorageDatabase Storage = "database"
)

// SendBundleMode selects how the bundler submits its handleOps
// transaction (spec §4.6 step 7).
type SendBundleMode string

const (
	SendBundleEthClient SendBundleMode = "eth-client"
	SendBundleFlashbots SendBundleMode = "flashbots"
)

// P2PConfig configures the optional gossip adapter.
type P2PConfig struct {
	Enabled    bool     `toml:"enabled"`
	ListenAddr string   `toml:"listen_addr"`
	Peers      []string `toml:"peers"`
}

// MetricsConfig configures the metrics exporter (spec AMBIENT STACK).
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Listen  string `toml:"listen"`
}

// Config is the full set of operator-tunable settings named in spec §6.
type Config struct {
	EntryPoints   []common.Address `toml:"entry_points"`
	ChainName     string           `toml:"chain_name"`
	EthClientURL  string           `toml:"eth_client_url"`
	MnemonicPath  string           `toml:"mnemonic_path"`
	MnemonicPass  string           `toml:"-"` // never persisted to file; CLI/env only
	Beneficiary   common.Address   `toml:"beneficiary"`
	MinBalance    *big.Int         `toml:"min_balance"`
	BundleInterval time.Duration   `toml:"bundle_interval"`
	ObserveBlocks  uint64          `toml:"observe_blocks"`
	SendBundleMode SendBundleMode  `toml:"send_bundle_mode"`
	FlashbotsRelays []string       `toml:"flashbots_relays"`
	Storage        Storage         `toml:"storage"`
	DatabasePath   string          `toml:"database_path"`

	MaxVerificationGas *big.Int `toml:"max_verification_gas"`
	MinStake           *big.Int `toml:"min_stake"`
	Whitelist          []common.Address `toml:"whitelist"`
	UopoolMode         UopoolMode       `toml:"uopool_mode"`

	RPCHTTPAddr    string   `toml:"rpc_http_addr"`
	RPCWSAddr      string   `toml:"rpc_ws_addr"`
	RPCHTTPModules []string `toml:"rpc_http_modules"`
	RPCWSModules   []string `toml:"rpc_ws_modules"`
	RPCHTTPCORS    []string `toml:"rpc_http_cors"`
	RPCWSOrigins   []string `toml:"rpc_ws_origins"`

	P2P     P2PConfig     `toml:"p2p"`
	Metrics MetricsConfig `toml:"metrics"`
}

// Defaults returns the built-in configuration every flag and file value
// is layered on top of, matching SPEC_FULL.md's named defaults.
func Defaults() Config {
	return Config{
		ChainName:          "mainnet",
		BundleInterval:     10 * time.Second,
		ObserveBlocks:      10,
		SendBundleMode:     SendBundleEthClient,
		Storage:            StorageMemory,
		MaxVerificationGas: big.NewInt(5_000_000),
		MinStake:           big.NewInt(0),
		UopoolMode:         ModeStandard,
		RPCHTTPAddr:        "127.0.0.1:3000",
		RPCWSAddr:          "127.0.0.1:3001",
		RPCHTTPModules:     []string{"eth", "web3"},
		RPCWSModules:       []string{"eth", "web3"},
		RPCWSOrigins:       []string{"*"},
		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  "127.0.0.1:9090",
		},
	}
}

// LoadFile decodes a TOML file at path on top of Defaults(), returning
// Defaults() unchanged if path is empty.
func LoadFile(path string) (Config, error) {
	cfg := Defaults()
	if path == "" {
		return cfg, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("config: opening %s: %w", path, err)
	}
	defer f.Close()

	if err := toml.NewDecoder(f).Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports a configuration error (mapped by the CLI to exit code
// 1) for anything that would make every subsequent operation meaningless.
func (c Config) Validate() error {
	if len(c.EntryPoints) == 0 {
		return fmt.Errorf("config: at least one --entry-point is required")
	}
	if c.EthClientURL == "" {
		return fmt.Errorf("config: --eth-client-url is required")
	}
	switch c.SendBundleMode {
	case SendBundleEthClient:
	case SendBundleFlashbots:
		if len(c.FlashbotsRelays) == 0 {
			return fmt.Errorf("config: at least one --flashbots-relay is required when --send-bundle-mode=flashbots")
		}
	default:
		return fmt.Errorf("config: unknown send-bundle-mode %q", c.SendBundleMode)
	}
	switch c.Storage {
	case StorageMemory, StorageDatabase:
	default:
		return fmt.Errorf("config: unknown storage %q", c.Storage)
	}
	switch c.UopoolMode {
	case ModeStandard, ModeUnsafe:
	default:
		return fmt.Errorf("config: unknown uopool-mode %q", c.UopoolMode)
	}
	if c.Storage == StorageDatabase && c.DatabasePath == "" {
		return fmt.Errorf("config: --database-path is required when --storage=database")
	}
	return nil
}

// ApplyFlags overlays values explicitly set on ctx, so that flags win
// over whatever LoadFile produced. Flags never set on ctx leave the
// file/default value untouched.
func ApplyFlags(ctx *cli.Context, cfg Config) Config {
	if ctx.IsSet(EntryPointFlag.Name) {
		cfg.EntryPoints = parseAddresses(ctx.StringSlice(EntryPointFlag.Name))
	}
	if ctx.IsSet(ChainNameFlag.Name) {
		cfg.ChainName = ctx.String(ChainNameFlag.Name)
	}
	if ctx.IsSet(EthClientURLFlag.Name) {
		cfg.EthClientURL = ctx.String(EthClientURLFlag.Name)
	}
	if ctx.IsSet(MnemonicPathFlag.Name) {
		cfg.MnemonicPath = ctx.String(MnemonicPathFlag.Name)
	}
	if ctx.IsSet(MnemonicPassFlag.Name) {
		cfg.MnemonicPass = ctx.String(MnemonicPassFlag.Name)
	}
	if ctx.IsSet(BeneficiaryFlag.Name) {
		cfg.Beneficiary = common.HexToAddress(ctx.String(BeneficiaryFlag.Name))
	}
	if ctx.IsSet(MinBalanceFlag.Name) {
		cfg.MinBalance = big.NewInt(ctx.Int64(MinBalanceFlag.Name))
	}
	if ctx.IsSet(BundleIntervalFlag.Name) {
		cfg.BundleInterval = ctx.Duration(BundleIntervalFlag.Name)
	}
	if ctx.IsSet(SendBundleModeFlag.Name) {
		cfg.SendBundleMode = SendBundleMode(ctx.String(SendBundleModeFlag.Name))
	}
	if ctx.IsSet(FlashbotsRelaysFlag.Name) {
		cfg.FlashbotsRelays = ctx.StringSlice(FlashbotsRelaysFlag.Name)
	}
	if ctx.IsSet(StorageFlag.Name) {
		cfg.Storage = Storage(ctx.String(StorageFlag.Name))
	}
	if ctx.IsSet(DatabasePathFlag.Name) {
		cfg.DatabasePath = ctx.String(DatabasePathFlag.Name)
	}
	if ctx.IsSet(MaxVerificationGasFlag.Name) {
		cfg.MaxVerificationGas = big.NewInt(ctx.Int64(MaxVerificationGasFlag.Name))
	}
	if ctx.IsSet(MinStakeFlag.Name) {
		cfg.MinStake = big.NewInt(ctx.Int64(MinStakeFlag.Name))
	}
	if ctx.IsSet(WhitelistFlag.Name) {
		cfg.Whitelist = parseAddresses(ctx.StringSlice(WhitelistFlag.Name))
	}
	if ctx.IsSet(UopoolModeFlag.Name) {
		cfg.UopoolMode = UopoolMode(ctx.String(UopoolModeFlag.Name))
	}
	if ctx.IsSet(P2PEnabledFlag.Name) {
		cfg.P2P.Enabled = ctx.Bool(P2PEnabledFlag.Name)
	}
	if ctx.IsSet(P2PListenFlag.Name) {
		cfg.P2P.ListenAddr = ctx.String(P2PListenFlag.Name)
	}
	if ctx.IsSet(P2PPeersFlag.Name) {
		cfg.P2P.Peers = ctx.StringSlice(P2PPeersFlag.Name)
	}
	if ctx.IsSet(MetricsEnabledFlag.Name) {
		cfg.Metrics.Enabled = ctx.Bool(MetricsEnabledFlag.Name)
	}
	if ctx.IsSet(MetricsListenFlag.Name) {
		cfg.Metrics.Listen = ctx.String(MetricsListenFlag.Name)
	}
	if ctx.IsSet(RPCHTTPAddrFlag.Name) {
		cfg.RPCHTTPAddr = ctx.String(RPCHTTPAddrFlag.Name)
	}
	if ctx.IsSet(RPCWSAddrFlag.Name) {
		cfg.RPCWSAddr = ctx.String(RPCWSAddrFlag.Name)
	}
	if ctx.IsSet(RPCHTTPModulesFlag.Name) {
		cfg.RPCHTTPModules = ctx.StringSlice(RPCHTTPModulesFlag.Name)
	}
	if ctx.IsSet(RPCWSModulesFlag.Name) {
		cfg.RPCWSModules = ctx.StringSlice(RPCWSModulesFlag.Name)
	}
	if ctx.IsSet(RPCHTTPCORSFlag.Name) {
		cfg.RPCHTTPCORS = ctx.StringSlice(RPCHTTPCORSFlag.Name)
	}
	if ctx.IsSet(RPCWSOriginsFlag.Name) {
		cfg.RPCWSOrigins = ctx.StringSlice(RPCWSOriginsFlag.Name)
	}
	return cfg
}

func parseAddresses(raw []string) []common.Address {
	out := make([]common.Address, 0, len(raw))
	for _, s := range raw {
		out = append(out, common.HexToAddress(s))
	}
	return out
}
