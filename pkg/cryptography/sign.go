package cryptography

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const SignatureLength = crypto.SignatureLength

var ErrInvalidSignatureLength = errors.New("invalid signature length")

// ParsePrivateKey decodes a hex secp256k1 key, with or without 0x prefix.
func ParsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return key, nil
}

// PersonalHash returns keccak256("\x19Ethereum Signed Message:\n" + len(data) + data).
func PersonalHash(data []byte) []byte {
	prefix := fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(data))
	return crypto.Keccak256([]byte(prefix), data)
}

// SignPersonal produces a 65 byte EIP-191 signature over data with v in {27,28}.
// secp256k1 signing is deterministic, so the same key and data always yield the same bytes.
func SignPersonal(data []byte, key *ecdsa.PrivateKey) ([]byte, error) {
	return SignDigest(PersonalHash(data), key)
}

// SignDigest signs a precomputed 32 byte digest with v in {27,28}.
func SignDigest(digest []byte, key *ecdsa.PrivateKey) ([]byte, error) {
	if key == nil {
		return nil, errors.New("nil private key")
	}
	signature, err := crypto.Sign(digest, key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign message: %w", err)
	}
	signature[64] += 27
	return signature, nil
}

// RecoverPersonal returns the address that produced an EIP-191 signature over data.
func RecoverPersonal(data, signature []byte) (common.Address, error) {
	if len(signature) != SignatureLength {
		return common.Address{}, ErrInvalidSignatureLength
	}
	sig := make([]byte, SignatureLength)
	copy(sig, signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	pubKey, err := crypto.SigToPub(PersonalHash(data), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pubKey), nil
}

// VerifyPersonal reports whether signature over data was made by signer.
func VerifyPersonal(data, signature []byte, signer common.Address) (bool, error) {
	recovered, err := RecoverPersonal(data, signature)
	if err != nil {
		return false, err
	}
	return recovered == signer, nil
}
