package util

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
)

const (
	AESKeySize  = 32
	GCMTagSize  = 16
	GCMNonceLen = 12
)

// SealAESGCM encrypts plaintext with AES-256-GCM under a fresh random nonce
// and returns the ciphertext, nonce and authentication tag as separate
// components. The tag is split off the ciphertext so callers can persist the
// three fields independently.
func SealAESGCM(plainText, rawKey, aad []byte) (cipherText, nonce, authTag []byte, err error) {
	gcm, err := newGCM(rawKey)
	if err != nil {
		return nil, nil, nil, err
	}

	nonce = make([]byte, gcm.NonceSize())
	if _, err = io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, nil, fmt.Errorf("generating nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, plainText, aad)
	cipherText = sealed[:len(sealed)-GCMTagSize]
	authTag = sealed[len(sealed)-GCMTagSize:]

	return cipherText, nonce, authTag, nil
}

// OpenAESGCM verifies the authentication tag and decrypts. It returns an
// error without any plaintext on tag mismatch.
func OpenAESGCM(cipherText, nonce, authTag, rawKey, aad []byte) ([]byte, error) {
	gcm, err := newGCM(rawKey)
	if err != nil {
		return nil, err
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("invalid nonce size: got %d, want %d", len(nonce), gcm.NonceSize())
	}
	if len(authTag) != GCMTagSize {
		return nil, fmt.Errorf("invalid auth tag size: got %d, want %d", len(authTag), GCMTagSize)
	}

	sealed := make([]byte, 0, len(cipherText)+len(authTag))
	sealed = append(sealed, cipherText...)
	sealed = append(sealed, authTag...)

	plainText, err := gcm.Open(nil, nonce, sealed, aad)
	if err != nil {
		return nil, fmt.Errorf("decrypting ciphertext: %w", err)
	}
	return plainText, nil
}

// NewAESKey generates a random 256-bit AES key.
func NewAESKey() ([]byte, error) {
	rawKey := make([]byte, AESKeySize)
	if _, err := rand.Read(rawKey); err != nil {
		return nil, fmt.Errorf("generating AES key: %w", err)
	}
	return rawKey, nil
}

func newGCM(rawKey []byte) (cipher.AEAD, error) {
	if len(rawKey) != AESKeySize {
		return nil, fmt.Errorf("invalid AES key size: got %d, want %d", len(rawKey), AESKeySize)
	}
	block, err := aes.NewCipher(rawKey)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return gcm, nil
}
