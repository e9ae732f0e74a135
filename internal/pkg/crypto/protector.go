// Package crypto provides symmetric at-rest protection for token payloads.
// The distributed cache is shared infrastructure, so token sets are sealed
// with AES-256-GCM before they are written.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// Protector seals and opens small payloads with AES-256-GCM.
type Protector struct {
	gcm cipher.AEAD
}

// NewProtector builds a Protector from a key string.
// A base64-encoded 32-byte key is used as-is; any other string is hashed
// to 32 bytes with SHA-256. An empty key generates a random one, which
// does not survive restarts.
func NewProtector(key string) (*Protector, error) {
	var keyBytes []byte

	if key == "" {
		keyBytes = make([]byte, 32)
		if _, err := io.ReadFull(rand.Reader, keyBytes); err != nil {
			return nil, fmt.Errorf("failed to generate protector key: %w", err)
		}
	} else {
		decoded, err := base64.StdEncoding.DecodeString(key)
		if err == nil && len(decoded) == 32 {
			keyBytes = decoded
		} else {
			h := sha256.Sum256([]byte(key))
			keyBytes = h[:]
		}
	}

	block, err := aes.NewCipher(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &Protector{gcm: gcm}, nil
}

// Seal encrypts plaintext and returns a base64url string with the nonce
// prepended to the ciphertext.
func (p *Protector) Seal(plaintext []byte) (string, error) {
	nonce := make([]byte, p.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := p.gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.URLEncoding.EncodeToString(ciphertext), nil
}

// Open decrypts a value produced by Seal. Tampered or truncated input
// returns an error.
func (p *Protector) Open(sealed string) ([]byte, error) {
	ciphertext, err := base64.URLEncoding.DecodeString(sealed)
	if err != nil {
		return nil, fmt.Errorf("failed to decode sealed value: %w", err)
	}

	nonceSize := p.gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, errors.New("sealed value too short")
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := p.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open sealed value: %w", err)
	}

	return plaintext, nil
}
