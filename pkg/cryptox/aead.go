package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

// ErrAEADOpen reports an authentication failure while opening a sealed
// message: wrong key, tampered ciphertext, or mismatched additional data.
var ErrAEADOpen = errors.New("cryptox: aead open failed")

// Seal encrypts plaintext with AES-256-GCM under the given 32-byte key.
// The additional data is authenticated but not encrypted; Open must be given
// the same bytes. Output format: [12-byte nonce][ciphertext][16-byte tag].
func Seal(key, plaintext, additional []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("cryptox: generate nonce: %w", err)
	}

	return gcm.Seal(nonce, nonce, plaintext, additional), nil
}

// Open decrypts a message produced by Seal, verifying the tag and the
// additional data. Returns ErrAEADOpen on any authentication failure.
func Open(key, sealed, additional []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(sealed) < nonceSize {
		return nil, ErrAEADOpen
	}

	plaintext, err := gcm.Open(nil, sealed[:nonceSize], sealed[nonceSize:], additional)
	if err != nil {
		return nil, ErrAEADOpen
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("cryptox: aead key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cryptox: create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
