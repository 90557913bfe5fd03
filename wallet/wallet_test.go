package wallet

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateProducesDistinctBeneficiaryAndFlashbotsKeys(t *testing.T) {
	w, err := Generate()
	require.NoError(t, err)
	require.NotEmpty(t, w.Mnemonic)
	require.NotEqual(t, w.Address(), w.FlashbotsAddress())
}

func TestFromMnemonicIsDeterministic(t *testing.T) {
	a, err := Generate()
	require.NoError(t, err)

	b, err := FromMnemonic(a.Mnemonic)
	require.NoError(t, err)

	require.Equal(t, a.Address(), b.Address())
	require.Equal(t, a.FlashbotsAddress(), b.FlashbotsAddress())
}

func TestFromMnemonicRejectsInvalidMnemonic(t *testing.T) {
	_, err := FromMnemonic("not a real mnemonic phrase at all")
	require.Error(t, err)
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	w, err := Generate()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "wallet.json")
	require.NoError(t, Save(w, path, "correct horse battery staple"))

	loaded, err := Load(path, "correct horse battery staple")
	require.NoError(t, err)
	require.Equal(t, w.Address(), loaded.Address())
	require.Equal(t, w.FlashbotsAddress(), loaded.FlashbotsAddress())
	require.Empty(t, loaded.Mnemonic, "keystore file never persists the mnemonic")
}

func TestLoadRejectsWrongPassphrase(t *testing.T) {
	w, err := Generate()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "wallet.json")
	require.NoError(t, Save(w, path, "correct horse battery staple"))

	_, err = Load(path, "wrong passphrase")
	require.Error(t, err)
}
