package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// kdfSalt is the fixed PBKDF2 salt for key derivation. The passphrase itself
// is the secret; the salt only separates this key from other uses of it.
var kdfSalt = []byte("minutes-refresh-token-salt-2024")

const kdfIterations = 100_000

// ErrCiphertextInvalid is returned when a stored ciphertext cannot be decoded
// or fails authentication.
var ErrCiphertextInvalid = errors.New("security: ciphertext invalid")

// TokenCipher encrypts and decrypts refresh credentials for at-rest storage.
// The AES-256 key is derived from a passphrase with PBKDF2-HMAC-SHA256.
type TokenCipher struct {
	aead cipher.AEAD
}

// NewTokenCipher derives a key from passphrase and returns a ready cipher.
// passphrase must be non-empty.
func NewTokenCipher(passphrase string) (*TokenCipher, error) {
	if passphrase == "" {
		return nil, errors.New("security: cipher passphrase is empty")
	}
	key := pbkdf2.Key([]byte(passphrase), kdfSalt, kdfIterations, 32, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &TokenCipher{aead: aead}, nil
}

// Encrypt seals token and returns nonce||ciphertext, base64url-encoded.
// An empty token encrypts to "".
func (c *TokenCipher) Encrypt(token string) (string, error) {
	if token == "" {
		return "", nil
	}
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(token), nil)
	return base64.URLEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Returns ErrCiphertextInvalid for malformed or
// tampered input. An empty ciphertext decrypts to "".
func (c *TokenCipher) Decrypt(encrypted string) (string, error) {
	if encrypted == "" {
		return "", nil
	}
	raw, err := base64.URLEncoding.DecodeString(encrypted)
	if err != nil {
		return "", ErrCiphertextInvalid
	}
	if len(raw) < c.aead.NonceSize() {
		return "", ErrCiphertextInvalid
	}
	nonce, sealed := raw[:c.aead.NonceSize()], raw[c.aead.NonceSize():]
	plain, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrCiphertextInvalid
	}
	return string(plain), nil
}

// IsEncrypted reports whether s decrypts cleanly with this cipher. Used to
// detect legacy plaintext values during migration.
func (c *TokenCipher) IsEncrypted(s string) bool {
	if s == "" {
		return false
	}
	_, err := c.Decrypt(s)
	return err == nil
}
