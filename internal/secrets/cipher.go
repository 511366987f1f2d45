// Package secrets provides authenticated symmetric encryption for
// sensitive Variable values, so the catalog store never holds plaintext at
// rest. It wraps golang.org/x/crypto/nacl/secretbox (XSalsa20-Poly1305),
// already a transitive dependency of the module's SFTP runner.
package secrets

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
)

// ErrDecrypt is returned by Decrypt for a malformed blob or one that fails
// authentication — a tampered or wrongly-keyed ciphertext, indistinguishable
// from each other by design.
var ErrDecrypt = errors.New("secrets: decryption failed")

const (
	keySize   = 32
	nonceSize = 24
)

// Cipher encrypts and decrypts Variable values under one fixed key.
type Cipher struct {
	key [keySize]byte
}

// NewCipher builds a Cipher from a base64-standard-encoded 32-byte key —
// the form the VARIABLE_ENCRYPTION_KEY setting carries.
func NewCipher(encodedKey string) (*Cipher, error) {
	raw, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("secrets: decode key: %w", err)
	}
	if len(raw) != keySize {
		return nil, fmt.Errorf("secrets: key must be %d bytes, got %d", keySize, len(raw))
	}
	var c Cipher
	copy(c.key[:], raw)
	return &c, nil
}

// Encrypt returns a base64-encoded nonce||ciphertext blob, the at-rest
// representation stored in Variable.Value for sensitive variables.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("secrets: generate nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &c.key)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Called only at resolve time, never by a
// catalog read path — a decrypted value must not outlive the single step
// invocation that needed it.
func (c *Cipher) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrDecrypt, err)
	}
	if len(raw) < nonceSize {
		return "", ErrDecrypt
	}
	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])

	opened, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, &c.key)
	if !ok {
		return "", ErrDecrypt
	}
	return string(opened), nil
}
