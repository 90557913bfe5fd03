package wallet

import (
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
)

// file is the on-disk shape: two independently encrypted web3
// secret-storage blobs, one per key, so either can be decrypted (or
// rotated) without touching the other.
type file struct {
	Beneficiary json.RawMessage `json:"beneficiary"`
	Flashbots   json.RawMessage `json:"flashbots"`
}

// Save encrypts w's keys under passphrase and writes them to path using
// go-ethereum's own keystore encryption (scrypt + AES-128-CTR + HMAC, the
// same V3 format geth's `account new` produces), so a wallet file can be
// inspected or migrated with standard Ethereum tooling.
func Save(w *Wallet, path, passphrase string) error {
	beneficiaryJSON, err := encryptKey(w.Beneficiary, passphrase)
	if err != nil {
		return fmt.Errorf("wallet: encrypting beneficiary key: %w", err)
	}
	flashbotsJSON, err := encryptKey(w.Flashbots, passphrase)
	if err != nil {
		return fmt.Errorf("wallet: encrypting flashbots key: %w", err)
	}

	f := file{Beneficiary: beneficiaryJSON, Flashbots: flashbotsJSON}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("wallet: marshaling keystore file: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("wallet: writing keystore file %s: %w", path, err)
	}
	return nil
}

// Load reads and decrypts a wallet file written by Save. The mnemonic
// itself is never persisted in the keystore file, only the two derived
// keys: Load returns a Wallet with an empty Mnemonic field.
func Load(path, passphrase string) (*Wallet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("wallet: reading keystore file %s: %w", path, err)
	}

	var f file
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("wallet: parsing keystore file: %w", err)
	}

	beneficiary, err := decryptKey(f.Beneficiary, passphrase)
	if err != nil {
		return nil, fmt.Errorf("wallet: decrypting beneficiary key: %w", err)
	}
	flashbots, err := decryptKey(f.Flashbots, passphrase)
	if err != nil {
		return nil, fmt.Errorf("wallet: decrypting flashbots key: %w", err)
	}

	return &Wallet{Beneficiary: beneficiary.PrivateKey, Flashbots: flashbots.PrivateKey}, nil
}

func encryptKey(key *ecdsa.PrivateKey, passphrase string) (json.RawMessage, error) {
	k := &keystore.Key{
		Id:         uuid.New(),
		Address:    crypto.PubkeyToAddress(key.PublicKey),
		PrivateKey: key,
	}
	return keystore.EncryptKey(k, passphrase, keystore.StandardScryptN, keystore.StandardScryptP)
}

func decryptKey(blob json.RawMessage, passphrase string) (*keystore.Key, error) {
	return keystore.DecryptKey(blob, passphrase)
}
