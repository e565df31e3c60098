// Package keyring seals secret settings at rest.
//
// Values are encrypted with ChaCha20-Poly1305 under a key derived from an
// operator passphrase with scrypt, and stored as "sealed:v1:<base64 blob>".
package keyring

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"
)

const (
	// SealedPrefix marks a value produced by Sealer.Seal.
	SealedPrefix  = "sealed:v1:"
	formatVersion = 1
	saltSize      = 16
)

var (
	// ErrWrongPassphrase is returned when the passphrase is incorrect or the value was modified.
	ErrWrongPassphrase = errors.New("wrong passphrase or corrupted sealed value")
	ErrEmptyPassphrase = errors.New("passphrase cannot be empty")
	ErrNotSealed       = errors.New("value is not sealed")
)

// blob is the JSON structure behind the sealed prefix.
type blob struct {
	V      int    `json:"v"`
	Salt   []byte `json:"salt"`
	N      int    `json:"scrypt_N"`
	R      int    `json:"scrypt_r"`
	P      int    `json:"scrypt_p"`
	Cipher []byte `json:"cipher"`
}

// Opts holds scrypt tuning for a Sealer.
type Opts struct {
	N, R, P int
}

// Option defines a configuration option for the Sealer.
type Option func(*Opts)

// WithScryptParams overrides the scrypt cost parameters.
func WithScryptParams(n, r, p int) Option {
	return func(o *Opts) {
		o.N, o.R, o.P = n, r, p
	}
}

// Sealer encrypts and decrypts values with a passphrase.
type Sealer struct {
	passphrase []byte
	n, r, p    int
}

// NewSealer creates a Sealer for passphrase.
func NewSealer(passphrase string, opts ...Option) (*Sealer, error) {
	if passphrase == "" {
		return nil, ErrEmptyPassphrase
	}
	cfg := Opts{N: 1 << 15, R: 8, P: 1}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Sealer{passphrase: []byte(passphrase), n: cfg.N, r: cfg.R, p: cfg.P}, nil
}

// IsSealed reports whether value carries the sealed prefix.
func IsSealed(value string) bool {
	return strings.HasPrefix(value, SealedPrefix)
}

// Seal encrypts plaintext with a fresh salt.
func (s *Sealer) Seal(plaintext string) (string, error) {
	var salt [saltSize]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	aead, err := s.aead(salt[:], s.n, s.r, s.p)
	if err != nil {
		return "", err
	}
	// zero nonce: every salt derives a distinct key
	var nonce [chacha20poly1305.NonceSize]byte
	ct := aead.Seal(nil, nonce[:], []byte(plaintext), salt[:])

	raw, err := json.Marshal(blob{V: formatVersion, Salt: salt[:], N: s.n, R: s.r, P: s.p, Cipher: ct})
	if err != nil {
		return "", fmt.Errorf("encode sealed value: %w", err)
	}
	return SealedPrefix + base64.StdEncoding.EncodeToString(raw), nil
}

// Open decrypts a value produced by Seal.
func (s *Sealer) Open(sealed string) (string, error) {
	if !IsSealed(sealed) {
		return "", ErrNotSealed
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(sealed, SealedPrefix))
	if err != nil {
		return "", fmt.Errorf("decode sealed value: %w", err)
	}
	var bl blob
	if err := json.Unmarshal(raw, &bl); err != nil {
		return "", fmt.Errorf("decode sealed value: %w", err)
	}
	if bl.V > formatVersion {
		return "", fmt.Errorf("unsupported sealed value version %d", bl.V)
	}
	aead, err := s.aead(bl.Salt, bl.N, bl.R, bl.P)
	if err != nil {
		return "", err
	}
	var nonce [chacha20poly1305.NonceSize]byte
	pt, err := aead.Open(nil, nonce[:], bl.Cipher, bl.Salt)
	if err != nil {
		return "", ErrWrongPassphrase
	}
	return string(pt), nil
}

func (s *Sealer) aead(salt []byte, n, r, p int) (cipher.AEAD, error) {
	key, err := scrypt.Key(s.passphrase, salt, n, r, p, chacha20poly1305.KeySize)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	return aead, nil
}
