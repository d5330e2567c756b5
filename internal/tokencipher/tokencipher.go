// Package tokencipher encrypts OAuth access tokens before they are stored.
// The AES-256-GCM key is derived from a configured secret with HKDF-SHA256;
// ciphertexts are base64(nonce || sealed).
package tokencipher

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

var (
	hkdfSalt = []byte("olly-token-cipher")
	hkdfInfo = []byte("oauth-access-token-v1")
)

var (
	ErrEmptySecret      = errors.New("token encryption secret is required")
	ErrMalformedPayload = errors.New("malformed encrypted token")
)

type Cipher struct {
	aead cipher.AEAD
	rand io.Reader
}

// New derives the encryption key from secret.
func New(secret string) (*Cipher, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}

	reader := hkdf.New(sha256.New, []byte(secret), hkdfSalt, hkdfInfo)
	key := make([]byte, 32)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	return &Cipher{aead: aead, rand: rand.Reader}, nil
}

func (c *Cipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(c.rand, nonce); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}

	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)

	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (c *Cipher) Decrypt(encoded string) (string, error) {
	payload, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	nonceSize := c.aead.NonceSize()
	if len(payload) <= nonceSize {
		return "", ErrMalformedPayload
	}

	plaintext, err := c.aead.Open(nil, payload[:nonceSize], payload[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	return string(plaintext), nil
}
