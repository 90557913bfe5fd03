// Command bundler runs an ERC-4337 alt-mempool bundler: it admits
// UserOperations submitted over JSON-RPC, validates them against the
// EntryPoint contract, and periodically submits a bundle transaction.
package main

import (
	"errors"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "bundler",
		Usage: "an ERC-4337 alt-mempool bundler",
		Commands: []*cli.Command{
			bundlerCommand,
			uopoolCommand,
			bundlingCommand,
			rpcCommand,
			createWalletCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		os.Exit(exitCode(err))
	}
}

// exitCode maps a returned error to the process exit code named in
// SPEC_FULL.md: 1 for a configuration error caught before any loop starts,
// 2 for anything that failed once the bundler was already running.
func exitCode(err error) int {
	var cfgErr *configError
	if errors.As(err, &cfgErr) {
		log.Error("cmd/bundler: configuration error", "err", err)
		return 1
	}
	log.Error("cmd/bundler: fatal error", "err", err)
	return 2
}
