// internal/cardano/signer.go
package cardano

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
)

// VKeyWitness is one signature over the transaction body hash.
type VKeyWitness struct {
	VKey      []byte
	Signature []byte
}

// KeyProvider turns a hot wallet's stored secret blob into a signing key.
// Mnemonic handling and encryption-at-rest live in the setup tooling;
// deployments plug in a provider matching how their blobs were written.
type KeyProvider interface {
	PaymentKey(secret string) (ed25519.PrivateKey, error)
}

// HexSeedProvider reads the blob as a hex-encoded 32-byte ed25519 seed.
type HexSeedProvider struct{}

func (HexSeedProvider) PaymentKey(secret string) (ed25519.PrivateKey, error) {
	seed, err := hex.DecodeString(secret)
	if err != nil {
		return nil, fmt.Errorf("cardano: wallet secret is not hex: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("cardano: wallet seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

// Sign produces the witness for a transaction body hash. Keys are used on
// demand and never cached.
func Sign(bodyHash []byte, key ed25519.PrivateKey) VKeyWitness {
	return VKeyWitness{
		VKey:      append([]byte(nil), key.Public().(ed25519.PublicKey)...),
		Signature: ed25519.Sign(key, bodyHash),
	}
}

// KeyHash returns the blake2b-224 hash of a public key, the form vkeys take
// in addresses and datums.
func KeyHash(pub ed25519.PublicKey) (string, error) {
	h, err := newBlake2b224()
	if err != nil {
		return "", err
	}
	h.Write(pub)
	return hex.EncodeToString(h.Sum(nil)), nil
}
