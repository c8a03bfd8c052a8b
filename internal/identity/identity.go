// Package identity manages principal keypairs. A principal is whoever
// holds an ed25519 private key; its ledger address is derived from the
// public key. Keys are persisted as PKCS8 PEM files with 0600 permissions.
package identity

import (
	"crypto/ed25519"

	"tododapp.mini/tdm/internal/types"
)

// Identity is a principal capable of signing transition requests.
type Identity struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	address    types.Address
}

// New wraps an existing private key.
func New(privKey ed25519.PrivateKey) *Identity {
	pub := privKey.Public().(ed25519.PublicKey)
	return &Identity{
		privateKey: privKey,
		publicKey:  pub,
		address:    types.AddressFromPublicKey(pub),
	}
}

// Generate creates a fresh in-memory identity.
func Generate() (*Identity, error) {
	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, err
	}
	return New(priv), nil
}

// Sign signs message with the private key.
func (i *Identity) Sign(message []byte) []byte {
	return ed25519.Sign(i.privateKey, message)
}

// Verify checks a signature made by this identity.
func (i *Identity) Verify(message, signature []byte) bool {
	return ed25519.Verify(i.publicKey, message, signature)
}

// PublicKey returns the raw public key
func (i *Identity) PublicKey() ed25519.PublicKey {
	return i.publicKey
}

// PrivateKey returns the raw private key
func (i *Identity) PrivateKey() ed25519.PrivateKey {
	return i.privateKey
}

// Address is the principal's canonical ledger address.
func (i *Identity) Address() types.Address {
	return i.address
}
