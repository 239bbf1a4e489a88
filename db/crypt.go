package db

import (
	cryptorand "crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"
)

// Crypter obfuscates and deobfuscates passwords stored in connection
// definitions.
type Crypter interface {
	Encrypt(plain string) (string, error)
	Decrypt(s string) (string, error)
}

const obfuscatedPrefix = "secretbox:"

var ErrDecrypt = errors.New("db: cannot decrypt password")

// IsObfuscated returns whether s was produced by SecretboxCrypter.Encrypt.
func IsObfuscated(s string) bool {
	return strings.HasPrefix(s, obfuscatedPrefix)
}

// SecretboxCrypter encrypts with NaCl secretbox, with a key derived from a
// secret with scrypt.
type SecretboxCrypter struct {
	key [32]byte
}

// NewSecretboxCrypter derives a key from secret, typically the contents of
// the configured PasswordKeyFile.
func NewSecretboxCrypter(secret []byte) (*SecretboxCrypter, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("empty secret")
	}
	k, err := scrypt.Key(secret, []byte("dabo connection password"), 1<<15, 8, 1, 32)
	if err != nil {
		return nil, fmt.Errorf("deriving key: %v", err)
	}
	c := &SecretboxCrypter{}
	copy(c.key[:], k)
	return c, nil
}

func (c *SecretboxCrypter) Encrypt(plain string) (string, error) {
	var nonce [24]byte
	if _, err := cryptorand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("reading random nonce: %v", err)
	}
	buf := secretbox.Seal(nonce[:], []byte(plain), &nonce, &c.key)
	return obfuscatedPrefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

// Decrypt returns s as is when it is not obfuscated.
func (c *SecretboxCrypter) Decrypt(s string) (string, error) {
	if !IsObfuscated(s) {
		return s, nil
	}
	buf, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(s, obfuscatedPrefix))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	if len(buf) < 24+secretbox.Overhead {
		return "", fmt.Errorf("%w: too short", ErrDecrypt)
	}
	var nonce [24]byte
	copy(nonce[:], buf[:24])
	plain, ok := secretbox.Open(nil, buf[24:], &nonce, &c.key)
	if !ok {
		return "", ErrDecrypt
	}
	return string(plain), nil
}
