package wallet

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
)

// Keypair holds signing key material for a single account. The private key
// never leaves this package except through the sign callback consumed by
// solana.Transaction.Sign, and must never be logged or persisted.
type Keypair struct {
	pub  solana.PublicKey
	priv solana.PrivateKey
}

// NewKeypair wraps an existing solana private key
func NewKeypair(priv solana.PrivateKey) *Keypair {
	return &Keypair{pub: priv.PublicKey(), priv: priv}
}

// NewRandomKeypair generates a fresh keypair (tests, throwaway fee payers)
func NewRandomKeypair() (*Keypair, error) {
	priv, err := solana.NewRandomPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("wallet: keygen failed: %w", err)
	}
	return NewKeypair(priv), nil
}

// ParseKeypair accepts a base58-encoded 64-byte key or a solana-keygen
// style JSON byte array.
func ParseKeypair(s string) (*Keypair, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("wallet: empty private key")
	}

	if strings.HasPrefix(s, "[") {
		var ints []int
		if err := json.Unmarshal([]byte(s), &ints); err != nil {
			return nil, fmt.Errorf("wallet: invalid JSON private key: %w", err)
		}
		b := make([]byte, len(ints))
		for i, v := range ints {
			if v < 0 || v > 255 {
				return nil, fmt.Errorf("wallet: invalid byte at %d: %d", i, v)
			}
			b[i] = byte(v)
		}
		if len(b) != ed25519.PrivateKeySize {
			return nil, fmt.Errorf("wallet: expected %d bytes, got %d", ed25519.PrivateKeySize, len(b))
		}
		return NewKeypair(solana.PrivateKey(ed25519.PrivateKey(b))), nil
	}

	raw, err := base58.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("wallet: invalid base58 private key: %w", err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("wallet: expected %d bytes, got %d", ed25519.PrivateKeySize, len(raw))
	}
	return NewKeypair(solana.PrivateKey(ed25519.PrivateKey(raw))), nil
}

func (k *Keypair) PublicKey() solana.PublicKey { return k.pub }
func (k *Keypair) Address() string             { return k.pub.String() }

// signerFor returns the private key when the requested account matches,
// nil otherwise. Only the transaction signer callback uses this.
func (k *Keypair) signerFor(key solana.PublicKey) *solana.PrivateKey {
	if key.Equals(k.pub) {
		return &k.priv
	}
	return nil
}

// SignTransaction signs tx with every keypair that matches a required
// signer. Fails when any required signer is missing.
func SignTransaction(tx *solana.Transaction, signers ...*Keypair) error {
	_, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		for _, s := range signers {
			if s == nil {
				continue
			}
			if priv := s.signerFor(key); priv != nil {
				return priv
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to sign transaction: %w", err)
	}
	return nil
}
