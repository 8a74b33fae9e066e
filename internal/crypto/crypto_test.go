package crypto

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Hardhat account #0.
const testKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func TestSignAndRecoverRequest(t *testing.T) {
	s, err := NewSigner(testKey)
	require.NoError(t, err)
	assert.Equal(t, "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", s.Address().Hex())

	body := []byte(`{"op":"vote","args":{"proposal_id":1,"support":true}}`)
	sig, err := s.SignRequest(1_700_000_000, body)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(sig, "0x"))
	assert.Len(t, sig, 2+2*ethcrypto.SignatureLength)

	addr, err := RecoverRequest(1_700_000_000, body, sig)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), addr)

	// Any change to the signed material recovers a different address.
	other, err := RecoverRequest(1_700_000_001, body, sig)
	require.NoError(t, err)
	assert.NotEqual(t, s.Address(), other)
	other, err = RecoverRequest(1_700_000_000, append(body, ' '), sig)
	require.NoError(t, err)
	assert.NotEqual(t, s.Address(), other)
}

func TestRecoverRequestRejectsMalformed(t *testing.T) {
	s, err := NewSigner(testKey)
	require.NoError(t, err)
	sig, err := s.SignRequest(1, nil)
	require.NoError(t, err)

	tests := map[string]string{
		"not hex":   "0xzz",
		"too short": sig[:len(sig)-2],
		"bad v":     sig[:len(sig)-2] + "05",
	}
	for name, bad := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := RecoverRequest(1, nil, bad)
			require.ErrorIs(t, err, ErrBadSignature)
		})
	}

	// v in {0,1} is accepted as well.
	raw := sig[:len(sig)-2] + map[string]string{"1b": "00", "1c": "01"}[sig[len(sig)-2:]]
	addr, err := RecoverRequest(1, nil, raw)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), addr)
}

func TestSignatureIDIgnoresCaseAndPrefix(t *testing.T) {
	assert.Equal(t, SignatureID("0xABCD"), SignatureID("abcd"))
	assert.NotEqual(t, SignatureID("abcd"), SignatureID("abce"))
}

func TestEncryptDecryptKey(t *testing.T) {
	blob, err := EncryptKey(testKey, "hunter2")
	require.NoError(t, err)

	key, err := DecryptKey(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, strings.TrimPrefix(testKey, "0x"), key)

	_, err = DecryptKey(blob, "wrong")
	require.Error(t, err)

	addr, err := KeyFileAddress(blob)
	require.NoError(t, err)
	assert.Equal(t, "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", addr.Hex())

	// The address is authenticated with the ciphertext.
	var kf map[string]any
	require.NoError(t, json.Unmarshal(blob, &kf))
	kf["address"] = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
	tampered, err := json.Marshal(kf)
	require.NoError(t, err)
	_, err = DecryptKey(tampered, "hunter2")
	require.Error(t, err)

	_, err = EncryptKey("0x1234", "pw")
	require.Error(t, err)
	_, err = EncryptKey(testKey, "")
	require.Error(t, err)
}

func TestLoadSigner(t *testing.T) {
	s, err := LoadSigner(KeyConfig{RawPrivateKey: testKey})
	require.NoError(t, err)
	assert.Equal(t, "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", s.Address().Hex())

	blob, err := EncryptKey(testKey, "pw")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "key.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	s, err = LoadSigner(KeyConfig{EncryptedKeyPath: path, KeyPassword: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", s.Address().Hex())

	_, err = LoadSigner(KeyConfig{})
	require.Error(t, err)
}
