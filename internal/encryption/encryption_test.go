package encryption

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	assert.NotContains(t, key, "=")

	msg := []byte("cHNidP8BAHECAAAAAf...")
	ct, err := Encrypt(msg, key)
	require.NoError(t, err)

	pt, err := Decrypt(ct, key)
	require.NoError(t, err)
	assert.Equal(t, msg, pt)

	// Fresh nonce each time.
	ct2, err := Encrypt(msg, key)
	require.NoError(t, err)
	assert.NotEqual(t, ct, ct2)
}

func TestStandardBase64Key(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	raw, err := DecodeKey(key)
	require.NoError(t, err)
	std := base64.StdEncoding.EncodeToString(raw)

	ct, err := Encrypt([]byte("x"), key)
	require.NoError(t, err)
	pt, err := Decrypt(ct, std)
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), pt)
}

func TestDecryptFailures(t *testing.T) {
	key, _ := GenerateKey()
	other, _ := GenerateKey()
	ct, err := Encrypt([]byte("secret psbt"), key)
	require.NoError(t, err)

	raw, _ := base64.StdEncoding.DecodeString(ct)
	raw[len(raw)-1] ^= 0x01
	tampered := base64.StdEncoding.EncodeToString(raw)

	cases := map[string]struct{ payload, key string }{
		"wrong key":  {ct, other},
		"no key":     {ct, ""},
		"bad key":    {ct, "short"},
		"tampered":   {tampered, key},
		"truncated":  {base64.StdEncoding.EncodeToString(raw[:10]), key},
		"not base64": {"%%%", key},
		"empty":      {"", key},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			pt, err := Decrypt(c.payload, c.key)
			require.ErrorIs(t, err, ErrDecryptionFailure)
			assert.Nil(t, pt)
		})
	}
}
