package secrets

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey() string {
	return base64.StdEncoding.EncodeToString(make([]byte, 32))
}

func TestCipher_EncryptDecryptRoundTrip(t *testing.T) {
	c, err := NewCipher(testKey())
	require.NoError(t, err)

	ciphertext, err := c.Encrypt("super-secret-value")
	require.NoError(t, err)
	assert.NotEqual(t, "super-secret-value", ciphertext)

	plaintext, err := c.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "super-secret-value", plaintext)
}

func TestCipher_DecryptWrongKeyFails(t *testing.T) {
	c1, err := NewCipher(testKey())
	require.NoError(t, err)

	otherKey := make([]byte, 32)
	otherKey[0] = 1
	c2, err := NewCipher(base64.StdEncoding.EncodeToString(otherKey))
	require.NoError(t, err)

	ciphertext, err := c1.Encrypt("value")
	require.NoError(t, err)

	_, err = c2.Decrypt(ciphertext)
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestCipher_DecryptMalformedBlobFails(t *testing.T) {
	c, err := NewCipher(testKey())
	require.NoError(t, err)

	_, err = c.Decrypt("not-base64-!!!")
	assert.ErrorIs(t, err, ErrDecrypt)

	_, err = c.Decrypt(base64.StdEncoding.EncodeToString([]byte("short")))
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestNewCipher_RejectsWrongKeyLength(t *testing.T) {
	_, err := NewCipher(base64.StdEncoding.EncodeToString([]byte("too-short")))
	assert.Error(t, err)
}
