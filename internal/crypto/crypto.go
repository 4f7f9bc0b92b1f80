package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// Static salt keeps key derivation deterministic across restarts so
// ciphertext written by a previous process stays readable.
var keySalt = []byte("metafix-salt-v1")

const kdfIterations = 100_000

// Cipher encrypts and decrypts config secrets with a key derived from the
// application secret. A changed secret makes old ciphertext unreadable;
// Decrypt then returns "" rather than an error so callers degrade to
// "not configured" instead of crashing.
type Cipher struct {
	key []byte
}

func NewCipher(secret string) *Cipher {
	return &Cipher{
		key: pbkdf2.Key([]byte(secret), keySalt, kdfIterations, 32, sha256.New),
	}
}

// Encrypt returns base64(nonce || AES-GCM ciphertext). Empty input yields "".
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", fmt.Errorf("new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("new gcm: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.URLEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Any failure (bad base64, truncated data, MAC
// mismatch from a key change) returns the empty string.
func (c *Cipher) Decrypt(encoded string) string {
	if encoded == "" {
		return ""
	}

	raw, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return ""
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return ""
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return ""
	}
	if len(raw) < gcm.NonceSize() {
		return ""
	}

	nonce, ciphertext := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return ""
	}
	return string(plaintext)
}
