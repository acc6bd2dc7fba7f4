// Package security holds the key vault: the stored symmetric content keys
// are sealed with AES-256-GCM under a key derived from the operator-supplied
// master secret. The vault is deliberately small; it does not rotate keys.
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Sentinel errors for vault operations.
var (
	// ErrMasterSecretMissing means the service is running without key
	// material. This is a configuration failure, never a statement about
	// any requester.
	ErrMasterSecretMissing = errors.New("security: master secret not configured")

	// ErrSealedKeyInvalid means a stored ciphertext failed to open:
	// truncated, tampered with, or sealed under a different master secret.
	ErrSealedKeyInvalid = errors.New("security: sealed key material invalid")
)

const (
	minMasterSecretLen = 16
	gcmNonceSize       = 12

	// hkdfInfo domain-separates the vault key from any other use of the
	// master secret.
	hkdfInfo = "keygate/content-key-vault/v1"
)

// Vault seals and opens content keys. Safe for concurrent use.
type Vault struct {
	aead cipher.AEAD
}

// NewVault derives the sealing key from masterSecret with HKDF-SHA256.
func NewVault(masterSecret []byte) (*Vault, error) {
	if len(masterSecret) < minMasterSecretLen {
		return nil, ErrMasterSecretMissing
	}

	kdf := hkdf.New(sha256.New, masterSecret, nil, []byte(hkdfInfo))
	key := make([]byte, 32)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("derive vault key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init vault cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init vault aead: %w", err)
	}
	return &Vault{aead: aead}, nil
}

// Seal encrypts a content key for storage. Output layout: nonce || ciphertext.
func (v *Vault) Seal(plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, errors.New("security: refusing to seal empty key material")
	}
	nonce := make([]byte, gcmNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return v.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts sealed key material. Any failure maps to ErrSealedKeyInvalid;
// the caller treats it as a configuration failure, not a denial.
func (v *Vault) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < gcmNonceSize+v.aead.Overhead() {
		return nil, ErrSealedKeyInvalid
	}
	nonce, ciphertext := sealed[:gcmNonceSize], sealed[gcmNonceSize:]
	plaintext, err := v.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrSealedKeyInvalid
	}
	return plaintext, nil
}
