// Package fieldcrypt provides field level confidentiality at rest. Values are
// sealed with NaCl secretbox under a 32 byte key.
package fieldcrypt

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	KeySize   = 32
	nonceSize = 24
	// Prefix of sealed values
	Prefix = "sb1:"
)

var (
	ErrInvalidKey = errors.New("field key must be 32 bytes")
	ErrMalformed  = errors.New("malformed sealed value")
	ErrOpen       = errors.New("failed to authenticate sealed value")
)

// Error is the opaque encryption failure surfaced to callers
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("field %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) EncryptionFailure() bool { return true }

type Config struct {
	// Hex encoded 32 byte key
	Key string
}

type Cipher struct {
	key  [KeySize]byte
	rand io.Reader
}

func New(config Config) (c *Cipher, err error) {
	raw, err := hex.DecodeString(strings.TrimSpace(config.Key))
	if err != nil {
		return nil, fmt.Errorf("failed to decode key: %w", err)
	}
	if len(raw) != KeySize {
		return nil, ErrInvalidKey
	}

	c = &Cipher{rand: rand.Reader}
	copy(c.key[:], raw)
	return c, nil
}

// Encrypt seals plaintext. The empty string stays empty.
func (c *Cipher) Encrypt(plaintext string) (sealed string, err error) {
	if plaintext == "" {
		return "", nil
	}

	var nonce [nonceSize]byte
	_, err = io.ReadFull(c.rand, nonce[:])
	if err != nil {
		return "", &Error{Op: "encrypt", Err: err}
	}

	box := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &c.key)
	return Prefix + base64.RawURLEncoding.EncodeToString(box), nil
}

func (c *Cipher) Decrypt(sealed string) (plaintext string, err error) {
	if sealed == "" {
		return "", nil
	}
	if !strings.HasPrefix(sealed, Prefix) {
		return "", &Error{Op: "decrypt", Err: ErrMalformed}
	}

	box, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(sealed, Prefix))
	if err != nil || len(box) < nonceSize+secretbox.Overhead {
		return "", &Error{Op: "decrypt", Err: ErrMalformed}
	}

	var nonce [nonceSize]byte
	copy(nonce[:], box[:nonceSize])
	opened, ok := secretbox.Open(nil, box[nonceSize:], &nonce, &c.key)
	if !ok {
		return "", &Error{Op: "decrypt", Err: ErrOpen}
	}
	return string(opened), nil
}

// IsSealed reports whether s was produced by Encrypt
func IsSealed(s string) bool {
	return strings.HasPrefix(s, Prefix)
}
