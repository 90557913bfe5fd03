package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/zsluedem/aa-bundler/config"
	"github.com/zsluedem/aa-bundler/wallet"
)

// configError marks a failure in loading or validating configuration,
// mapped to CLI exit code 1 (spec §6) rather than the exit code 2 a
// runtime failure after startup gets.
type configError struct{ err error }

func (e *configError) Error() string { return e.err.Error() }
func (e *configError) Unwrap() error { return e.err }

func wrapConfigErr(err error) error {
	if err == nil {
		return nil
	}
	return &configError{err}
}

// loadConfig layers ctx's flags over an optional TOML file over the
// built-in defaults, then validates the result (config.ApplyFlags/
// LoadFile/Validate, spec §6's flags > file > defaults precedence).
func loadConfig(ctx *cli.Context) (config.Config, error) {
	cfg, err := config.LoadFile(ctx.String(config.ConfigFileFlag.Name))
	if err != nil {
		return config.Config{}, wrapConfigErr(err)
	}
	cfg = config.ApplyFlags(ctx, cfg)
	if err := cfg.Validate(); err != nil {
		return config.Config{}, wrapConfigErr(err)
	}
	return cfg, nil
}

// loadWallet decrypts cfg's configured keystore file, required by every
// subcommand that can submit handleOps transactions.
func loadWallet(cfg config.Config) (*wallet.Wallet, error) {
	if cfg.MnemonicPath == "" {
		return nil, wrapConfigErr(fmt.Errorf("config: --mnemonic-path is required"))
	}
	w, err := wallet.Load(cfg.MnemonicPath, cfg.MnemonicPass)
	if err != nil {
		return nil, wrapConfigErr(err)
	}
	return w, nil
}
