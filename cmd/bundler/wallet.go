package main

import (
	"fmt"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	"github.com/zsluedem/aa-bundler/config"
	"github.com/zsluedem/aa-bundler/wallet"
)

var createWalletCommand = &cli.Command{
	Name:   "create-wallet",
	Usage:  "generate a fresh signing wallet and write its encrypted keystore file",
	Flags:  []cli.Flag{config.MnemonicPathFlag, config.MnemonicPassFlag},
	Action: runCreateWallet,
}

// runCreateWallet generates a fresh mnemonic, derives both the beneficiary
// and Flashbots keys from it, writes the encrypted keystore to
// --mnemonic-path, and prints the mnemonic once so the operator can back it
// up. The mnemonic itself is never written to disk (wallet.Save persists
// only the two derived keys).
func runCreateWallet(ctx *cli.Context) error {
	path := ctx.String(config.MnemonicPathFlag.Name)
	if path == "" {
		return wrapConfigErr(fmt.Errorf("config: --mnemonic-path is required"))
	}
	passphrase := ctx.String(config.MnemonicPassFlag.Name)

	w, err := wallet.Generate()
	if err != nil {
		return err
	}
	if err := wallet.Save(w, path, passphrase); err != nil {
		return err
	}

	log.Info("cmd/bundler: wallet created", "path", path,
		"beneficiary", w.Address(), "flashbots", w.FlashbotsAddress())
	fmt.Printf("mnemonic (write this down, it is never stored): %s\n", w.Mnemonic)
	return nil
}
