package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	KeySize   = 32
	NonceSize = 12
	TagSize   = 16
)

var (
	ErrKeyMissing     = errors.New("artifact encryption key missing")
	ErrKeyInvalid     = errors.New("artifact encryption key invalid")
	ErrSealedTooShort = errors.New("sealed artifact too short")
)

// Sealer wraps artifacts in AES-256-GCM. Output layout is nonce || ciphertext || tag.
type Sealer struct {
	aead cipher.AEAD
	rand io.Reader
}

// ParseKey decodes a base64 key-encrypting-key and checks its length.
func ParseKey(encoded string) ([]byte, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, ErrKeyMissing
	}
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: base64: %v", ErrKeyInvalid, err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrKeyInvalid, KeySize, len(key))
	}
	return key, nil
}

func NewSealer(key []byte) (*Sealer, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrKeyInvalid, KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create AES cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, NonceSize)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return &Sealer{aead: aead, rand: rand.Reader}, nil
}

// NewSealerFromBase64 is ParseKey followed by NewSealer.
func NewSealerFromBase64(encoded string) (*Sealer, error) {
	key, err := ParseKey(encoded)
	if err != nil {
		return nil, err
	}
	return NewSealer(key)
}

// Seal encrypts plaintext under a fresh random nonce.
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, NonceSize, NonceSize+len(plaintext)+TagSize)
	if _, err := io.ReadFull(s.rand, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (s *Sealer) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < NonceSize+TagSize {
		return nil, ErrSealedTooShort
	}
	nonce := sealed[:NonceSize]
	plaintext, err := s.aead.Open(nil, nonce, sealed[NonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("open sealed artifact: %w", err)
	}
	return plaintext, nil
}

// Verify reconstructs the plaintext of a stored artifact, recomputes its
// hash and compares it with expectedHash. A sealed artifact needs a sealer;
// any failure to open it counts as a mismatch.
func Verify(stored []byte, expectedHash string, sealed bool, sealer *Sealer) (bool, error) {
	plaintext := stored
	if sealed {
		if sealer == nil {
			return false, ErrKeyMissing
		}
		opened, err := sealer.Open(stored)
		if err != nil {
			return false, nil
		}
		plaintext = opened
	}
	return HashEqual(HashHex(plaintext), expectedHash), nil
}
