// Package crypto provides operator key storage and the request signatures
// that identify API callers.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/pbkdf2"
)

const (
	pbkdf2Iterations = 480_000
	// saltLen is the random salt length in bytes.
	saltLen = 16
	// aesKeyLen is the derived AES-256 key length.
	aesKeyLen = 32
	// keyFileVersion is the encrypted-key JSON schema version.
	keyFileVersion = 2
)

// keyFile is the on-disk format for an encrypted operator key. The address is
// stored in clear so tooling can identify the key without the password, and
// is bound to the ciphertext as GCM additional data.
type keyFile struct {
	Version    int            `json:"version"`
	Address    common.Address `json:"address"`
	Iterations int            `json:"iterations"`
	Salt       string         `json:"salt"`       // base64 standard encoding
	Nonce      string         `json:"nonce"`      // base64 standard encoding
	Ciphertext string         `json:"ciphertext"` // base64 standard encoding
}

// KeyConfig carries the information LoadKey needs to resolve a private key.
type KeyConfig struct {
	// RawPrivateKey is the hex-encoded private key (with or without 0x prefix).
	// If non-empty, LoadKey returns it directly.
	RawPrivateKey string

	// EncryptedKeyPath is the path to a JSON file produced by EncryptKey.
	EncryptedKeyPath string

	// KeyPassword is the password used to decrypt the file at EncryptedKeyPath.
	KeyPassword string
}

// parseKey validates a hex secp256k1 private key and returns its bytes and
// address.
func parseKey(privateKeyHex string) ([]byte, common.Address, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("crypto: invalid private key: %w", err)
	}
	return ethcrypto.FromECDSA(pk), ethcrypto.PubkeyToAddress(pk.PublicKey), nil
}

func newGCM(password string, salt []byte, iterations int) (cipher.AEAD, error) {
	derived := pbkdf2.Key([]byte(password), salt, iterations, aesKeyLen, sha256.New)
	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating GCM: %w", err)
	}
	return gcm, nil
}

// EncryptKey encrypts a hex-encoded private key with a password using
// PBKDF2-HMAC-SHA256 key derivation and AES-256-GCM authenticated encryption.
// It returns the JSON blob suitable for writing to disk.
func EncryptKey(privateKeyHex string, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}
	keyBytes, addr, err := parseKey(privateKeyHex)
	if err != nil {
		return nil, err
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: generating salt: %w", err)
	}
	gcm, err := newGCM(password, salt, pbkdf2Iterations)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: generating nonce: %w", err)
	}

	return json.MarshalIndent(keyFile{
		Version:    keyFileVersion,
		Address:    addr,
		Iterations: pbkdf2Iterations,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, keyBytes, addr.Bytes())),
	}, "", "  ")
}

func readKeyFile(data []byte) (keyFile, error) {
	var kf keyFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return kf, fmt.Errorf("crypto: parsing encrypted key JSON: %w", err)
	}
	if kf.Version != keyFileVersion {
		return kf, fmt.Errorf("crypto: unsupported key file version %d", kf.Version)
	}
	if kf.Iterations <= 0 {
		return kf, errors.New("crypto: key file has no iteration count")
	}
	return kf, nil
}

// KeyFileAddress returns the address recorded in an encrypted key file
// without decrypting it.
func KeyFileAddress(encryptedJSON []byte) (common.Address, error) {
	kf, err := readKeyFile(encryptedJSON)
	if err != nil {
		return common.Address{}, err
	}
	return kf.Address, nil
}

// DecryptKey decrypts a JSON blob produced by EncryptKey, returning the
// hex-encoded private key (without 0x prefix). The decrypted key must match
// the recorded address.
func DecryptKey(encryptedJSON []byte, password string) (string, error) {
	if password == "" {
		return "", errors.New("crypto: password must not be empty")
	}
	kf, err := readKeyFile(encryptedJSON)
	if err != nil {
		return "", err
	}

	var raw [3][]byte
	for i, field := range []string{kf.Salt, kf.Nonce, kf.Ciphertext} {
		if raw[i], err = base64.StdEncoding.DecodeString(field); err != nil {
			return "", fmt.Errorf("crypto: decoding key file: %w", err)
		}
	}
	salt, nonce, ciphertext := raw[0], raw[1], raw[2]

	gcm, err := newGCM(password, salt, kf.Iterations)
	if err != nil {
		return "", err
	}
	if len(nonce) != gcm.NonceSize() {
		return "", errors.New("crypto: key file nonce has the wrong length")
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, kf.Address.Bytes())
	if err != nil {
		return "", fmt.Errorf("crypto: decryption failed (wrong password?): %w", err)
	}

	keyHex := hex.EncodeToString(plaintext)
	if _, addr, err := parseKey(keyHex); err != nil || addr != kf.Address {
		return "", errors.New("crypto: decrypted key does not match recorded address")
	}
	return keyHex, nil
}

// LoadKey resolves a private key from the provided configuration.
//
// Resolution order:
//  1. If RawPrivateKey is set, return it (stripping 0x prefix).
//  2. If EncryptedKeyPath is set, read the file and decrypt with KeyPassword.
//  3. Otherwise, return an error.
func LoadKey(cfg KeyConfig) (string, error) {
	if cfg.RawPrivateKey != "" {
		k := strings.TrimPrefix(cfg.RawPrivateKey, "0x")
		if _, err := hex.DecodeString(k); err != nil {
			return "", fmt.Errorf("crypto: RawPrivateKey is not valid hex: %w", err)
		}
		return k, nil
	}

	if cfg.EncryptedKeyPath != "" {
		data, err := os.ReadFile(cfg.EncryptedKeyPath)
		if err != nil {
			return "", fmt.Errorf("crypto: reading encrypted key file: %w", err)
		}
		return DecryptKey(data, cfg.KeyPassword)
	}

	return "", errors.New("crypto: no private key source configured (set RawPrivateKey or EncryptedKeyPath)")
}

// LoadSigner resolves a key with LoadKey and wraps it in a Signer.
func LoadSigner(cfg KeyConfig) (*Signer, error) {
	key, err := LoadKey(cfg)
	if err != nil {
		return nil, err
	}
	return NewSigner(key)
}
