package flowcrypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// DefaultKeyBits is the RSA modulus size used by GenerateKeyPair.
const DefaultKeyBits = 2048

var (
	ErrNoPEMBlock          = errors.New("no PEM block found in private key")
	ErrEncryptedPrivateKey = errors.New("passphrase protected private keys are not supported; store the decrypted key")
	ErrNotRSAKey           = errors.New("private key is not an RSA key")
)

// ParsePrivateKey parses a PKCS#1 or PKCS#8 PEM encoded RSA private key.
// Literal "\n" sequences, as found in keys pasted into env files, are accepted.
func ParsePrivateKey(privateKeyPEM string) (*rsa.PrivateKey, error) {
	normalized := strings.ReplaceAll(strings.TrimSpace(privateKeyPEM), `\n`, "\n")
	block, _ := pem.Decode([]byte(normalized))
	if block == nil {
		return nil, ErrNoPEMBlock
	}
	switch block.Type {
	case "RSA PRIVATE KEY":
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse PKCS#1 private key: %w", err)
		}
		return key, nil
	case "PRIVATE KEY":
		parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse PKCS#8 private key: %w", err)
		}
		key, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, ErrNotRSAKey
		}
		return key, nil
	case "ENCRYPTED PRIVATE KEY":
		return nil, ErrEncryptedPrivateKey
	default:
		return nil, fmt.Errorf("unsupported PEM block type %q", block.Type)
	}
}

// GenerateKeyPair creates an RSA key pair for a Flow endpoint.
// The private key is PKCS#8 PEM; the public key is PKIX PEM, the format the
// WhatsApp Business encryption API expects.
func GenerateKeyPair(bits int) (privatePEM, publicPEM string, err error) {
	if bits <= 0 {
		bits = DefaultKeyBits
	}
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return "", "", fmt.Errorf("generate rsa key: %w", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return "", "", fmt.Errorf("marshal private key: %w", err)
	}
	publicPEM, err = encodePublicKey(&key.PublicKey)
	if err != nil {
		return "", "", err
	}
	privatePEM = string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}))
	return privatePEM, publicPEM, nil
}

// PublicKeyPEM derives the PKIX public key PEM from a private key PEM.
func PublicKeyPEM(privateKeyPEM string) (string, error) {
	key, err := ParsePrivateKey(privateKeyPEM)
	if err != nil {
		return "", err
	}
	return encodePublicKey(&key.PublicKey)
}

func encodePublicKey(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("marshal public key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

// Wipe zeroes the provided buffer. This is best-effort and aims to
// reduce the chance of the compiler eliding the write.
//
//go:noinline
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(&b)
}
