// Package crypto holds the broker's secp256k1 identity key.
package crypto

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer manages the broker's identity key pair
// Uses secp256k1 curve (Ethereum-compatible)
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// GenerateKey creates a new random secp256k1 identity
func GenerateKey() (*Signer, error) {
	privateKey, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return newSigner(privateKey), nil
}

// FromPrivateKeyHex loads an identity from a hex-encoded private key
// Format: "0x1234..." or "1234..." (64 hex chars)
func FromPrivateKeyHex(hexKey string) (*Signer, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return newSigner(privateKey), nil
}

func newSigner(privateKey *ecdsa.PrivateKey) *Signer {
	return &Signer{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
	}
}

func (s *Signer) Address() common.Address {
	return s.address
}

// PrivateKeyHex returns the private key as hex string (WITHOUT 0x prefix)
func (s *Signer) PrivateKeyHex() string {
	return fmt.Sprintf("%x", crypto.FromECDSA(s.privateKey))
}

// PublicKeyHex returns the compressed public key, 0x-prefixed
func (s *Signer) PublicKeyHex() string {
	return hexutil.Encode(crypto.CompressPubkey(&s.privateKey.PublicKey))
}

// SignMessage hashes message with Keccak256 and signs the digest
// Returns signature in [R || S || V] format (65 bytes)
func (s *Signer) SignMessage(message []byte) ([]byte, error) {
	hash := crypto.Keccak256(message)
	signature, err := crypto.Sign(hash, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}
	return signature, nil
}

// VerifyMessage reports whether signature over message was produced by the
// holder of the compressed public key pubKeyHex.
func VerifyMessage(pubKeyHex string, message, signature []byte) bool {
	if len(signature) != 65 {
		return false
	}
	pub, err := hexutil.Decode(pubKeyHex)
	if err != nil {
		return false
	}
	return crypto.VerifySignature(pub, crypto.Keccak256(message), signature[:64])
}
