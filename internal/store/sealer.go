// ABOUTME: Optional at-rest sealing of agent API keys using NaCl secretbox
// ABOUTME: Sealed values carry a version prefix so unsealed rows keep working

package store

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
)

const sealedPrefix = "sb1:"

// ErrUnseal is returned when a sealed value cannot be opened with the configured key
var ErrUnseal = errors.New("unable to unseal value")

// Sealer protects credential columns at rest
type Sealer interface {
	Seal(plaintext string) (string, error)
	Open(stored string) (string, error)
}

// PlainSealer stores values as-is
type PlainSealer struct{}

func (PlainSealer) Seal(plaintext string) (string, error) { return plaintext, nil }

func (PlainSealer) Open(stored string) (string, error) {
	if strings.HasPrefix(stored, sealedPrefix) {
		return "", fmt.Errorf("%w: no seal key configured", ErrUnseal)
	}
	return stored, nil
}

// SecretboxSealer seals values with XSalsa20-Poly1305 under a 32 byte key
type SecretboxSealer struct {
	key [32]byte
}

// NewSecretboxSealer builds a sealer from a base64 encoded 32 byte key
func NewSecretboxSealer(encodedKey string) (*SecretboxSealer, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encodedKey))
	if err != nil {
		return nil, fmt.Errorf("decoding seal key: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("seal key must be 32 bytes, got %d", len(raw))
	}
	s := &SecretboxSealer{}
	copy(s.key[:], raw)
	return s, nil
}

// Seal encrypts plaintext with a random nonce prepended to the box
func (s *SecretboxSealer) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	box := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &s.key)
	return sealedPrefix + base64.StdEncoding.EncodeToString(box), nil
}

// Open decrypts a sealed value. Values without the prefix are returned unchanged.
func (s *SecretboxSealer) Open(stored string) (string, error) {
	if !strings.HasPrefix(stored, sealedPrefix) {
		return stored, nil
	}
	box, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, sealedPrefix))
	if err != nil || len(box) < 24 {
		return "", ErrUnseal
	}
	var nonce [24]byte
	copy(nonce[:], box[:24])
	out, ok := secretbox.Open(nil, box[24:], &nonce, &s.key)
	if !ok {
		return "", ErrUnseal
	}
	return string(out), nil
}

// Option configures a SQL store
type Option func(*options)

type options struct {
	sealer Sealer
}

// WithSealer seals agent API keys with s
func WithSealer(s Sealer) Option {
	return func(o *options) {
		if s != nil {
			o.sealer = s
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{sealer: PlainSealer{}}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
