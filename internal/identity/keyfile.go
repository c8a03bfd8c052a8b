package identity

import (
	"crypto/ed25519"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
)

// LoadOrCreate loads the key at keyPath, generating and saving a new one
// when the file is missing or empty.
func LoadOrCreate(keyPath string) (*Identity, error) {
	info, err := os.Stat(keyPath)
	switch {
	case os.IsNotExist(err), err == nil && info.Size() == 0:
		id, err := Generate()
		if err != nil {
			return nil, err
		}
		if err := Save(id, keyPath); err != nil {
			return nil, err
		}
		return id, nil
	case err != nil:
		return nil, err
	}
	return Load(keyPath)
}

// Load reads a PKCS8 PEM ed25519 key.
func Load(keyPath string) (*Identity, error) {
	keyData, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, err
	}

	block, _ := pem.Decode(keyData)
	if block == nil {
		return nil, errors.New("failed to decode PEM block from key file")
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse key: %w", err)
	}

	priv, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("key is not an ed25519 private key")
	}
	return New(priv), nil
}

// Save writes the identity's private key to keyPath with 0600 permissions.
func Save(id *Identity, keyPath string) error {
	der, err := x509.MarshalPKCS8PrivateKey(id.PrivateKey())
	if err != nil {
		return err
	}

	file, err := os.OpenFile(keyPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer file.Close()

	return pem.Encode(file, &pem.Block{Type: "PRIVATE KEY", Bytes: der})
}
