package config

import "github.com/urfave/cli/v2"

// Flags used across the bundler/uopool/bundling/rpc subcommands (spec
// §6), grouped below by concern. cmd/bundler registers every group on each
// of those four subcommands.
var (
	ConfigFileFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "path to a TOML configuration file",
	}
	EntryPointFlag = &cli.StringSliceFlag{
		Name:  "entry-point",
		Usage: "EntryPoint contract address (repeatable)",
	}
	ChainNameFlag = &cli.StringFlag{
		Name:  "chain-name",
		Usage: "execution chain name (kept in the configuration only; logs and metrics do not carry it)",
	}
	EthClientURLFlag = &cli.StringFlag{
		Name:  "eth-client-url",
		Usage: "execution client JSON-RPC URL",
	}
	MnemonicPathFlag = &cli.StringFlag{
		Name:  "mnemonic-path",
		Usage: "path to the encrypted wallet keystore file",
	}
	MnemonicPassFlag = &cli.StringFlag{
		Name:  "mnemonic-passphrase",
		Usage: "passphrase for the wallet keystore file",
	}
	BeneficiaryFlag = &cli.StringFlag{
		Name:  "beneficiary",
		Usage: "address credited by handleOps; defaults to the wallet's signing address",
	}
	MinBalanceFlag = &cli.Int64Flag{
		Name:  "min-balance",
		Usage: "minimum beneficiary balance (wei); below it the bundle credits the signing wallet instead",
	}
	BundleIntervalFlag = &cli.DurationFlag{
		Name:  "bundle-interval",
		Usage: "interval between bundling loop ticks",
	}
	SendBundleModeFlag = &cli.StringFlag{
		Name:  "send-bundle-mode",
		Usage: "bundle submission mode: eth-client|flashbots",
	}
	FlashbotsRelaysFlag = &cli.StringSliceFlag{
		Name:  "flashbots-relay",
		Usage: "Flashbots relay URL to submit bundles to when --send-bundle-mode=flashbots (repeatable)",
	}
	StorageFlag = &cli.StringFlag{
		Name:  "storage",
		Usage: "KVStore backing: memory|database",
	}
	DatabasePathFlag = &cli.StringFlag{
		Name:  "database-path",
		Usage: "on-disk path for the database storage backing",
	}
	MaxVerificationGasFlag = &cli.Int64Flag{
		Name:  "max-verification-gas",
		Usage: "stage S1 cap on verificationGasLimit",
	}
	MinStakeFlag = &cli.Int64Flag{
		Name:  "min-stake",
		Usage: "minimum stake (wei) for an entity to be treated as staked",
	}
	WhitelistFlag = &cli.StringSliceFlag{
		Name:  "whitelist",
		Usage: "address exempted from stage S4's reputation gate (repeatable)",
	}
	UopoolModeFlag = &cli.StringFlag{
		Name:  "uopool-mode",
		Usage: "validator mode: standard|unsafe (unsafe skips stage S3)",
	}
	P2PEnabledFlag = &cli.BoolFlag{
		Name:  "p2p",
		Usage: "enable the P2P gossip adapter",
	}
	P2PListenFlag = &cli.StringFlag{
		Name:  "p2p-listen-addr",
		Usage: "address the P2P gossip mesh listens on",
	}
	P2PPeersFlag = &cli.StringSliceFlag{
		Name:  "p2p-peer",
		Usage: "P2P peer URL to dial at startup (repeatable)",
	}
	MetricsEnabledFlag = &cli.BoolFlag{
		Name:  "metrics",
		Usage: "enable the metrics exporter",
	}
	MetricsListenFlag = &cli.StringFlag{
		Name:  "metrics-addr",
		Usage: "address the metrics exporter listens on",
	}
	RPCHTTPAddrFlag = &cli.StringFlag{
		Name:  "rpc-http-addr",
		Usage: "address the JSON-RPC HTTP transport listens on",
	}
	RPCWSAddrFlag = &cli.StringFlag{
		Name:  "rpc-ws-addr",
		Usage: "address the JSON-RPC WebSocket transport listens on",
	}
	RPCHTTPModulesFlag = &cli.StringSliceFlag{
		Name:  "rpc-http-modules",
		Usage: "JSON-RPC namespaces enabled over HTTP (repeatable)",
	}
	RPCWSModulesFlag = &cli.StringSliceFlag{
		Name:  "rpc-ws-modules",
		Usage: "JSON-RPC namespaces enabled over WebSocket (repeatable)",
	}
	RPCHTTPCORSFlag = &cli.StringSliceFlag{
		Name:  "rpc-http-cors",
		Usage: "allowed CORS origins for the HTTP transport (repeatable)",
	}
	RPCWSOriginsFlag = &cli.StringSliceFlag{
		Name:  "rpc-ws-origins",
		Usage: "allowed origins for the WebSocket transport (repeatable)",
	}
)

// RPCFlags lists the JSON-RPC transport flags.
var RPCFlags = []cli.Flag{
	RPCHTTPAddrFlag,
	RPCWSAddrFlag,
	RPCHTTPModulesFlag,
	RPCWSModulesFlag,
	RPCHTTPCORSFlag,
	RPCWSOriginsFlag,
}

// WalletFlags lists the flags that load the bundler's signing identity and
// set its beneficiary. Only subcommands that run the bundling loop
// (`bundler`, `bundling`) load a wallet; `create-wallet` registers
// MnemonicPathFlag and MnemonicPassFlag on their own.
var WalletFlags = []cli.Flag{
	MnemonicPathFlag,
	MnemonicPassFlag,
	BeneficiaryFlag,
	MinBalanceFlag,
}

// BundlingFlags lists the flags specific to the bundling loop.
var BundlingFlags = []cli.Flag{
	BundleIntervalFlag,
}

// CommonFlags lists the flags that belong to none of the RPC, wallet or
// bundling groups above.
var CommonFlags = []cli.Flag{
	ConfigFileFlag,
	EntryPointFlag,
	ChainNameFlag,
	EthClientURLFlag,
	SendBundleModeFlag,
	FlashbotsRelaysFlag,
	StorageFlag,
	DatabasePathFlag,
	MaxVerificationGasFlag,
	MinStakeFlag,
	WhitelistFlag,
	UopoolModeFlag,
	P2PEnabledFlag,
	P2PListenFlag,
	P2PPeersFlag,
	MetricsEnabledFlag,
	MetricsListenFlag,
}
