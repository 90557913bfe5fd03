package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/zsluedem/aa-bundler/config"
	"github.com/zsluedem/aa-bundler/wallet"
)

var bundlerCommand = &cli.Command{
	Name:   "bundler",
	Usage:  "run mempool admission, the bundling loop and JSON-RPC in one process",
	Flags:  allFlags(),
	Action: runCombined,
}

var uopoolCommand = &cli.Command{
	Name:   "uopool",
	Usage:  "run mempool admission and JSON-RPC without the bundling loop",
	Flags:  allFlags(),
	Action: runAdmissionOnly,
}

var bundlingCommand = &cli.Command{
	Name:   "bundling",
	Usage:  "run only the bundling loop against a mempool another process populates",
	Flags:  allFlags(),
	Action: runBundlingOnly,
}

var rpcCommand = &cli.Command{
	Name:   "rpc",
	Usage:  "serve JSON-RPC over a mempool another process populates, without joining P2P",
	Flags:  allFlags(),
	Action: runRPCOnly,
}

func allFlags() []cli.Flag {
	flags := make([]cli.Flag, 0, len(config.CommonFlags)+len(config.RPCFlags)+len(config.WalletFlags)+len(config.BundlingFlags))
	flags = append(flags, config.CommonFlags...)
	flags = append(flags, config.RPCFlags...)
	flags = append(flags, config.WalletFlags...)
	flags = append(flags, config.BundlingFlags...)
	return flags
}

// runCombined is the `bundler` subcommand: every loop, in one process.
func runCombined(ctx *cli.Context) error {
	return runSubcommand(ctx, runOptions{RunBundling: true, ServeRPC: true, AllowP2P: true})
}

// runAdmissionOnly is the `uopool` subcommand: admits and gossips
// UserOperations, but never itself builds or submits a bundle.
func runAdmissionOnly(ctx *cli.Context) error {
	return runSubcommand(ctx, runOptions{RunBundling: false, ServeRPC: true, AllowP2P: true})
}

// runBundlingOnly is the `bundling` subcommand: reads the shared mempool
// and submits bundles, serving no RPC surface of its own.
func runBundlingOnly(ctx *cli.Context) error {
	return runSubcommand(ctx, runOptions{RunBundling: true, ServeRPC: false, AllowP2P: true})
}

// runRPCOnly is the `rpc` subcommand: a JSON-RPC front end over the shared
// mempool that never joins gossip, for a process whose only job is
// answering requests (spec §6's process-split seam, DESIGN.md).
func runRPCOnly(ctx *cli.Context) error {
	return runSubcommand(ctx, runOptions{RunBundling: false, ServeRPC: true, AllowP2P: false})
}

func runSubcommand(cliCtx *cli.Context, opts runOptions) error {
	cfg, err := loadConfig(cliCtx)
	if err != nil {
		return err
	}

	var w *wallet.Wallet
	if opts.RunBundling {
		w, err = loadWallet(cfg)
		if err != nil {
			return err
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	s, err := buildStack(ctx, cfg, w)
	if err != nil {
		return err
	}
	defer s.Close()

	return run(ctx, s, opts)
}
