package secretvault

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// KeySize is the required encryption key length in bytes
const KeySize = chacha20poly1305.KeySize

var (
	// ErrInvalidKey indicates the configured key has the wrong length.
	// This is fatal at boot, never retried.
	ErrInvalidKey = errors.New("secretvault: encryption key must be 32 bytes")
	// ErrCiphertextInvalid indicates stored ciphertext could not be decrypted
	ErrCiphertextInvalid = errors.New("secretvault: ciphertext invalid or tampered")
)

// Vault performs field-level symmetric encryption of credential material.
// It is constructed once at startup from the process-wide key and injected
// into the data-access layer; call sites never handle key material.
type Vault struct {
	aead cipher.AEAD
}

// New creates a Vault from a 32-byte key
func New(key []byte) (*Vault, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("secretvault: %w", err)
	}
	return &Vault{aead: aead}, nil
}

// Encrypt seals a plaintext secret. Empty input passes through unchanged so
// that absent credentials stay absent in storage.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("secretvault: nonce generation failed: %w", err)
	}
	sealed := v.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a sealed secret. Empty input passes through unchanged.
func (v *Vault) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", ErrCiphertextInvalid
	}
	ns := v.aead.NonceSize()
	if len(raw) < ns {
		return "", ErrCiphertextInvalid
	}
	plaintext, err := v.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return "", ErrCiphertextInvalid
	}
	return string(plaintext), nil
}
