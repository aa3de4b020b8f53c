// Package secrets encrypts tenant processor keys at rest.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/scrypt"
)

// ErrDecryption means the ciphertext did not authenticate under the current
// key. Treat it as a configuration fault (key rotated, data corrupted); do
// not retry.
var ErrDecryption = errors.New("secrets: decryption failed")

const version byte = 0x01

// Cipher is safe for concurrent use; the derived key is read-only after New.
type Cipher struct {
	aead cipher.AEAD
}

// New derives a 256-bit key from secret and salt with scrypt and returns an
// AES-GCM cipher around it.
func New(secret, salt string) (*Cipher, error) {
	if secret == "" {
		return nil, errors.New("secrets: empty encryption key")
	}
	key, err := scrypt.Key([]byte(secret), []byte(salt), 1<<14, 8, 1, 32)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Cipher{aead: gcm}, nil
}

// Encrypt returns base64(0x01 | nonce | ciphertext). Every call draws a fresh nonce.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	ct := c.aead.Seal(nil, nonce, []byte(plaintext), nil)
	out := make([]byte, 1+len(nonce)+len(ct))
	out[0] = version
	copy(out[1:1+len(nonce)], nonce)
	copy(out[1+len(nonce):], ct)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt reverses Encrypt. Any malformed or unauthenticated input yields ErrDecryption.
func (c *Cipher) Decrypt(ciphertext string) (string, error) {
	blob, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: bad encoding", ErrDecryption)
	}
	ns := c.aead.NonceSize()
	if len(blob) < 1+ns+c.aead.Overhead() {
		return "", fmt.Errorf("%w: short blob", ErrDecryption)
	}
	if blob[0] != version {
		return "", fmt.Errorf("%w: unsupported version", ErrDecryption)
	}
	plain, err := c.aead.Open(nil, blob[1:1+ns], blob[1+ns:], nil)
	if err != nil {
		return "", ErrDecryption
	}
	return string(plain), nil
}
