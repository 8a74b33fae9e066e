package crypto

import (
	"crypto/ecdsa"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// RequestDomain separates request signatures from any other message the
// same key might sign.
const RequestDomain = "bondescrow-tx"

// ErrBadSignature is returned for signatures that are malformed or do not
// recover to a public key.
var ErrBadSignature = errors.New("crypto: bad signature")

// RequestDigest is keccak256(RequestDomain || uint64be(timestamp) || body).
func RequestDigest(timestamp int64, body []byte) []byte {
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(timestamp))
	return ethcrypto.Keccak256([]byte(RequestDomain), ts[:], body)
}

// Signer signs API requests with a secp256k1 key using EIP-191 personal_sign
// over RequestDigest.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner creates a Signer from a hex-encoded private key.
func NewSigner(privateKeyHex string) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return &Signer{privateKey: pk, address: ethcrypto.PubkeyToAddress(pk.PublicKey)}, nil
}

// Address returns the address derived from the signer's key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignRequest returns the 0x-prefixed 65-byte signature (r || s || v, v in
// {27,28}) for a request body sent at timestamp.
func (s *Signer) SignRequest(timestamp int64, body []byte) (string, error) {
	sig, err := ethcrypto.Sign(accounts.TextHash(RequestDigest(timestamp, body)), s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}
	sig[64] += 27
	return "0x" + hex.EncodeToString(sig), nil
}

// RecoverRequest returns the address that produced sigHex over the request.
func RecoverRequest(timestamp int64, body []byte, sigHex string) (common.Address, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil || len(sig) != ethcrypto.SignatureLength {
		return common.Address{}, ErrBadSignature
	}
	switch sig[64] {
	case 27, 28:
		sig[64] -= 27
	case 0, 1:
	default:
		return common.Address{}, ErrBadSignature
	}

	pub, err := ethcrypto.SigToPub(accounts.TextHash(RequestDigest(timestamp, body)), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// SignatureID is a stable identifier for a signature, used to reject reuse.
func SignatureID(sigHex string) string {
	return ethcrypto.Keccak256Hash([]byte(strings.ToLower(strings.TrimPrefix(sigHex, "0x")))).Hex()
}
