// Package encryption is the client-side boundary that turns PSBTs into the
// opaque blobs the server relays. Payloads are base64(nonce||ciphertext||tag)
// under AES-256-GCM, which is what browser clients produce with WebCrypto.
package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/scarlin90/signingroom/internal/apperr"
)

// KeySize is the room key length in bytes.
const KeySize = 32

// ErrDecryptionFailure is returned for any payload that does not open
// under the given key.
var ErrDecryptionFailure = apperr.ErrDecryptionFailure

// GenerateKey returns a fresh random room key, URL-safe base64 without
// padding so it can sit in a URL fragment.
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(key), nil
}

// DecodeKey accepts URL-safe or standard base64, padded or not.
func DecodeKey(key string) ([]byte, error) {
	key = strings.TrimSpace(key)
	key = strings.TrimRight(key, "=")
	key = strings.NewReplacer("+", "-", "/", "_").Replace(key)
	raw, err := base64.RawURLEncoding.DecodeString(key)
	if err != nil {
		return nil, fmt.Errorf("room key: %w", err)
	}
	if len(raw) != KeySize {
		return nil, fmt.Errorf("room key: want %d bytes, got %d", KeySize, len(raw))
	}
	return raw, nil
}

func newAEAD(key string) (cipher.AEAD, error) {
	raw, err := DecodeKey(key)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(raw)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Encrypt seals plaintext under key with a fresh nonce.
func Encrypt(plaintext []byte, key string) (string, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	ct := aead.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(ct), nil
}

// Decrypt opens a payload produced by Encrypt. It never returns partial
// plaintext: on any failure the result is nil and ErrDecryptionFailure.
func Decrypt(payload, key string) ([]byte, error) {
	if key == "" {
		return nil, fmt.Errorf("no key: %w", ErrDecryptionFailure)
	}
	aead, err := newAEAD(key)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrDecryptionFailure)
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		return nil, fmt.Errorf("payload encoding: %w", ErrDecryptionFailure)
	}
	if len(data) < aead.NonceSize()+aead.Overhead() {
		return nil, fmt.Errorf("payload truncated: %w", ErrDecryptionFailure)
	}
	nonce := data[:aead.NonceSize()]
	pt, err := aead.Open(nil, nonce, data[aead.NonceSize():], nil)
	if err != nil {
		return nil, ErrDecryptionFailure
	}
	return pt, nil
}
