// Package crypto provides the at-rest encryption for provider tokens.
package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// TokenCipher encrypts and decrypts token strings with XChaCha20-Poly1305.
// Ciphertext is base64url(nonce || sealed), so it can live in a string
// column next to the rest of the connection row.
type TokenCipher struct {
	key []byte
}

// NewTokenCipher creates a cipher from a 32-byte key.
func NewTokenCipher(key []byte) (*TokenCipher, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("token cipher key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	return &TokenCipher{key: append([]byte(nil), key...)}, nil
}

// Encrypt seals plaintext under a fresh random nonce.
func (c *TokenCipher) Encrypt(plaintext string) (string, error) {
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return "", fmt.Errorf("init cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decrypt opens ciphertext produced by Encrypt.
func (c *TokenCipher) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return "", fmt.Errorf("init cipher: %w", err)
	}

	if len(raw) < aead.NonceSize() {
		return "", errors.New("ciphertext shorter than nonce")
	}

	nonce, sealed := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("open ciphertext: %w", err)
	}
	return string(plaintext), nil
}
