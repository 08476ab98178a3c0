// Package vault encrypts telemetry before it leaves the process. Output is
// nonce||ciphertext with a fresh random nonce per call.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

// KeySize is the only accepted key length.
const KeySize = 32

// Supported AEAD constructions.
const (
	AlgAESGCM           = "aes-256-gcm"
	AlgXChaCha20Poly1305 = "xchacha20-poly1305"
)

var (
	ErrCiphertextTooShort = errors.New("vault: ciphertext too short")
	ErrInvalidKey         = errors.New("vault: key must be 32 bytes raw, base64 or hex")
	ErrUnknownAlgorithm   = errors.New("vault: unknown algorithm")
)

// Cipher is a process-wide AEAD. It is safe for concurrent use.
type Cipher struct {
	aead cipher.AEAD
	alg  string
}

// New creates a Cipher from a 32-byte key. An empty alg selects AES-256-GCM.
func New(key []byte, alg string) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidKey, len(key))
	}
	var (
		aead cipher.AEAD
		err  error
	)
	switch strings.ToLower(alg) {
	case "", AlgAESGCM:
		alg = AlgAESGCM
		var block cipher.Block
		block, err = aes.NewCipher(key)
		if err == nil {
			aead, err = cipher.NewGCM(block)
		}
	case AlgXChaCha20Poly1305:
		alg = AlgXChaCha20Poly1305
		aead, err = chacha20poly1305.NewX(key)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, alg)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s: %w", alg, err)
	}
	return &Cipher{aead: aead, alg: alg}, nil
}

// NewFromSecret decodes a configured secret: 32 raw bytes, or base64
// (standard or URL alphabet, padded or not), or hex.
func NewFromSecret(secret, alg string) (*Cipher, error) {
	key, err := ParseKey(secret)
	if err != nil {
		return nil, err
	}
	return New(key, alg)
}

// Generate creates a Cipher with a random key. Data encrypted with it is
// unreadable after the process exits.
func Generate(alg string) (*Cipher, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return New(key, alg)
}

// ParseKey accepts the same formats as NewFromSecret.
func ParseKey(secret string) ([]byte, error) {
	s := strings.TrimSpace(secret)
	if len(s) == KeySize {
		return []byte(s), nil
	}
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding, base64.URLEncoding, base64.RawStdEncoding, base64.RawURLEncoding,
	} {
		if b, err := enc.DecodeString(s); err == nil && len(b) == KeySize {
			return b, nil
		}
	}
	if b, err := hex.DecodeString(s); err == nil && len(b) == KeySize {
		return b, nil
	}
	return nil, ErrInvalidKey
}

// Algorithm names the AEAD in use.
func (c *Cipher) Algorithm() string { return c.alg }

// Encrypt returns nonce||ciphertext.
func (c *Cipher) Encrypt(plain []byte) ([]byte, error) {
	ns := c.aead.NonceSize()
	out := make([]byte, ns, ns+len(plain)+c.aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, out); err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	return c.aead.Seal(out, out[:ns], plain, nil), nil
}

// Decrypt reverses Encrypt. Tampered input fails authentication.
func (c *Cipher) Decrypt(data []byte) ([]byte, error) {
	ns := c.aead.NonceSize()
	if len(data) < ns+c.aead.Overhead() {
		return nil, ErrCiphertextTooShort
	}
	plain, err := c.aead.Open(nil, data[:ns], data[ns:], nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return plain, nil
}
