package secrets

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCipher(t *testing.T, secret string) *Cipher {
	t.Helper()
	c, err := New(secret, "salt")
	require.NoError(t, err)
	return c
}

func TestRoundTrip(t *testing.T) {
	c := newCipher(t, "long-lived-secret")
	for _, s := range []string{"", "sk_test_123", "ünïcødé ✓", string(make([]byte, 4096))} {
		enc, err := c.Encrypt(s)
		require.NoError(t, err)
		dec, err := c.Decrypt(enc)
		require.NoError(t, err)
		assert.Equal(t, s, dec)
	}
}

func TestEncryptUsesFreshNonce(t *testing.T) {
	c := newCipher(t, "long-lived-secret")
	a, err := c.Encrypt("sk_live_same")
	require.NoError(t, err)
	b, err := c.Encrypt("sk_live_same")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestTamperedCiphertextFails(t *testing.T) {
	c := newCipher(t, "long-lived-secret")
	enc, err := c.Encrypt("sk_test_123")
	require.NoError(t, err)
	raw, err := base64.StdEncoding.DecodeString(enc)
	require.NoError(t, err)

	for i := 1; i < len(raw); i++ {
		flipped := append([]byte(nil), raw...)
		flipped[i] ^= 0x01
		_, err := c.Decrypt(base64.StdEncoding.EncodeToString(flipped))
		require.ErrorIs(t, err, ErrDecryption, "byte %d", i)
	}
}

func TestWrongKeyFails(t *testing.T) {
	enc, err := newCipher(t, "key-a").Encrypt("sk_test_123")
	require.NoError(t, err)
	_, err = newCipher(t, "key-b").Decrypt(enc)
	assert.ErrorIs(t, err, ErrDecryption)
}

func TestMalformedInput(t *testing.T) {
	c := newCipher(t, "k")
	for _, s := range []string{"", "not base64!", base64.StdEncoding.EncodeToString([]byte{0x01, 0x02})} {
		_, err := c.Decrypt(s)
		assert.ErrorIs(t, err, ErrDecryption)
	}
}

func TestEmptySecretRejected(t *testing.T) {
	_, err := New("", "salt")
	assert.Error(t, err)
}
