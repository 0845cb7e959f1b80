package crypto

import (
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestGenerateKey(t *testing.T) {
	signer, err := GenerateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	if signer.Address() == (common.Address{}) {
		t.Error("generated zero address")
	}

	// 32 bytes
	if got := len(signer.PrivateKeyHex()); got != 64 {
		t.Errorf("private key hex length = %d, want 64", got)
	}

	// 0x + 33 byte compressed key
	pub := signer.PublicKeyHex()
	if len(pub) != 68 || !strings.HasPrefix(pub, "0x") {
		t.Errorf("public key hex = %q, want 0x-prefixed 33 bytes", pub)
	}
}

func TestFromPrivateKeyHex(t *testing.T) {
	signer1, _ := GenerateKey()
	privHex := signer1.PrivateKeyHex()

	for _, in := range []string{privHex, "0x" + privHex} {
		signer2, err := FromPrivateKeyHex(in)
		if err != nil {
			t.Fatalf("failed to load key %q: %v", in, err)
		}
		if signer2.Address() != signer1.Address() {
			t.Errorf("address = %s, want %s", signer2.Address().Hex(), signer1.Address().Hex())
		}
		if signer2.PublicKeyHex() != signer1.PublicKeyHex() {
			t.Errorf("public key mismatch after reload")
		}
	}

	if _, err := FromPrivateKeyHex("not-hex"); err == nil {
		t.Error("expected error for malformed key")
	}
}

func TestSignAndVerifyMessage(t *testing.T) {
	signer, _ := GenerateKey()

	message := []byte("1561000000,42,order-1")
	signature, err := signer.SignMessage(message)
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}
	if len(signature) != 65 {
		t.Errorf("signature length = %d, want 65", len(signature))
	}

	if !VerifyMessage(signer.PublicKeyHex(), message, signature) {
		t.Error("signature verification failed")
	}

	if VerifyMessage(signer.PublicKeyHex(), []byte("1561000000,42,order-2"), signature) {
		t.Error("signature should not verify for a different message")
	}

	other, _ := GenerateKey()
	if VerifyMessage(other.PublicKeyHex(), message, signature) {
		t.Error("signature should not verify with another key")
	}

	if VerifyMessage(signer.PublicKeyHex(), message, signature[:10]) {
		t.Error("short signature should not verify")
	}
}
