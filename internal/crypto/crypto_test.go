package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c := NewCipher("test-secret")

	for _, plaintext := range []string{
		"x",
		"a plex token value",
		"unicode — ünïcødé ✓",
		`{"json":"payload","n":42}`,
	} {
		encrypted, err := c.Encrypt(plaintext)
		require.NoError(t, err)
		assert.NotEqual(t, plaintext, encrypted)
		assert.Equal(t, plaintext, c.Decrypt(encrypted))
	}
}

func TestEncryptEmptyString(t *testing.T) {
	c := NewCipher("test-secret")

	encrypted, err := c.Encrypt("")
	require.NoError(t, err)
	assert.Equal(t, "", encrypted)
	assert.Equal(t, "", c.Decrypt(""))
}

func TestEncryptProducesUniqueCiphertext(t *testing.T) {
	c := NewCipher("test-secret")

	first, err := c.Encrypt("same value")
	require.NoError(t, err)
	second, err := c.Encrypt("same value")
	require.NoError(t, err)

	// Random nonces: identical plaintext must not produce identical output.
	assert.NotEqual(t, first, second)
}

func TestDecryptWithWrongKeyReturnsEmpty(t *testing.T) {
	encrypted, err := NewCipher("original-secret").Encrypt("api key")
	require.NoError(t, err)

	assert.Equal(t, "", NewCipher("rotated-secret").Decrypt(encrypted))
}

func TestDecryptGarbageReturnsEmpty(t *testing.T) {
	c := NewCipher("test-secret")

	assert.Equal(t, "", c.Decrypt("not base64 at all!!!"))
	assert.Equal(t, "", c.Decrypt("dG9vc2hvcnQ="))
}
