// Package crypto seals secrets stored in Postgres: per-channel Notion
// integration keys and the chat bot's OAuth tokens. Sealing is AES-256-GCM
// with the owning row's identity as additional data, so a sealed value copied
// to another row fails to open.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// Encryption versions recorded next to sealed columns.
const (
	VersionPlain  = 0
	VersionAESGCM = 1
)

// ErrOpen is returned when a sealed value fails authentication.
var ErrOpen = errors.New("sealed value failed authentication")

// Sealer encrypts and decrypts values bound to a context string.
type Sealer interface {
	Seal(plaintext []byte, boundTo string) ([]byte, error)
	Open(sealed []byte, boundTo string) ([]byte, error)
}

// AESSealer implements Sealer with AES-256-GCM.
type AESSealer struct {
	aead cipher.AEAD
}

// NewAESSealer builds a sealer from a base64-encoded 32-byte key
// (openssl rand -base64 32).
func NewAESSealer(base64Key string) (*AESSealer, error) {
	if base64Key == "" {
		return nil, fmt.Errorf("encryption key is empty")
	}
	key, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return nil, fmt.Errorf("invalid encryption key: base64 decode failed: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("invalid encryption key: must be 32 bytes (256 bits), got %d bytes", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return &AESSealer{aead: aead}, nil
}

// Seal returns nonce || ciphertext || tag.
func (s *AESSealer) Seal(plaintext []byte, boundTo string) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("plaintext is empty")
	}
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, plaintext, []byte(boundTo)), nil
}

// Open reverses Seal. boundTo must match the value given to Seal.
func (s *AESSealer) Open(sealed []byte, boundTo string) ([]byte, error) {
	n := s.aead.NonceSize()
	if len(sealed) < n+s.aead.Overhead() {
		return nil, fmt.Errorf("sealed value too short: %d bytes", len(sealed))
	}
	plaintext, err := s.aead.Open(nil, sealed[:n], sealed[n:], []byte(boundTo))
	if err != nil {
		return nil, ErrOpen
	}
	return plaintext, nil
}

// SealString seals s for a text column. Empty input stays empty.
func SealString(sl Sealer, s, boundTo string) (string, error) {
	if s == "" {
		return "", nil
	}
	out, err := sl.Seal([]byte(s), boundTo)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(out), nil
}

// OpenString reverses SealString.
func OpenString(sl Sealer, sealed, boundTo string) (string, error) {
	if sealed == "" {
		return "", nil
	}
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("base64 decode failed: %w", err)
	}
	out, err := sl.Open(raw, boundTo)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
