package crypto

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Well-known development key (hardhat account #0).
const (
	devKey     = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	devAddress = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
)

func TestEncryptDecryptKey(t *testing.T) {
	blob, err := EncryptKey(devKey, "hunter2")
	require.NoError(t, err)
	assert.Contains(t, string(blob), devAddress)

	pk, err := DecryptKey(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, devAddress, ethcrypto.PubkeyToAddress(pk.PublicKey).Hex())

	_, err = DecryptKey(blob, "wrong")
	require.Error(t, err)

	_, err = EncryptKey(devKey, "")
	require.Error(t, err)
	_, err = EncryptKey("zz", "pw")
	require.Error(t, err)
}

func TestLoadKey(t *testing.T) {
	pk, err := LoadKey(KeyConfig{RawPrivateKey: devKey})
	require.NoError(t, err)
	assert.Equal(t, devAddress, ethcrypto.PubkeyToAddress(pk.PublicKey).Hex())

	blob, err := EncryptKey(devKey, "pw")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "wallet.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	pk, err = LoadKey(KeyConfig{EncryptedKeyPath: path, KeyPassword: "pw"})
	require.NoError(t, err)
	assert.Equal(t, devAddress, ethcrypto.PubkeyToAddress(pk.PublicKey).Hex())

	_, err = LoadKey(KeyConfig{})
	require.Error(t, err)
}

func TestSigner_SignTx(t *testing.T) {
	pk, err := LoadKey(KeyConfig{RawPrivateKey: devKey})
	require.NoError(t, err)
	s, err := NewSigner(pk, big.NewInt(51))
	require.NoError(t, err)

	to := common.HexToAddress("0x5555555555555555555555555555555555555555")
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   big.NewInt(51),
		Nonce:     7,
		GasTipCap: big.NewInt(1),
		GasFeeCap: big.NewInt(2),
		Gas:       21_000,
		To:        &to,
		Value:     big.NewInt(1),
	})
	signed, err := s.SignTx(tx)
	require.NoError(t, err)

	from, err := s.Sender(signed)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), from)
	assert.Equal(t, devAddress, from.Hex())

	_, err = NewSigner(pk, big.NewInt(0))
	require.Error(t, err)
}

func TestWebhookSecret(t *testing.T) {
	body := []byte(`{"comment_id":"1"}`)
	w := NewWebhookSecret("s3cret")

	sig := w.Sign(body)
	require.NoError(t, w.Verify(body, sig))
	require.ErrorIs(t, w.Verify([]byte(`{"comment_id":"2"}`), sig), ErrBadSignature)
	require.ErrorIs(t, w.Verify(body, "sha1=abc"), ErrBadSignature)
	require.ErrorIs(t, w.Verify(body, "sha256=zz"), ErrBadSignature)
	assert.NotContains(t, w.String(), "s3cret")

	require.NoError(t, NewWebhookSecret("").Verify(body, ""))
}
