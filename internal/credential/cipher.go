// Package credential encrypts mailbox passwords at rest.
//
// Blobs have the form base64(iv) ":" base64(ciphertext||tag), sealed with
// AES-256-GCM. The global key is SHA-256 of the server secret; account
// scoped keys are derived from it with HKDF-SHA256 so one account's
// credential can be rotated or revoked without touching the others.
package credential

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/hkdf"

	apperrors "github.com/welldanyogia/webrana-mailengine/internal/errors"
)

const (
	// KeySize is the AES-256 key length in bytes
	KeySize = 32
	// IVSize is the GCM nonce length in bytes
	IVSize = 12

	separator   = ":"
	accountInfo = "mail-credential:"
)

// Scope selects which key protects a stored credential.
type Scope string

const (
	// ScopeGlobal uses the key derived directly from the server secret
	ScopeGlobal Scope = "global"
	// ScopeAccount uses a per-account HKDF subkey
	ScopeAccount Scope = "account"
)

// ErrEmptySecret is returned when the server secret is not configured.
var ErrEmptySecret = errors.New("credential secret is empty")

// Cipher seals and opens credential blobs with one derived key.
type Cipher struct {
	master []byte
	aead   cipher.AEAD
	rand   io.Reader
}

// NewCipher derives the global key from secret.
func NewCipher(secret string) (*Cipher, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	sum := sha256.Sum256([]byte(secret))
	return newCipher(sum[:], sum[:])
}

func newCipher(master, key []byte) (*Cipher, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create block cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, IVSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &Cipher{master: master, aead: aead, rand: rand.Reader}, nil
}

// ForAccount returns a cipher keyed by the account's HKDF subkey.
func (c *Cipher) ForAccount(accountID uint) (*Cipher, error) {
	info := []byte(accountInfo + strconv.FormatUint(uint64(accountID), 10))
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, c.master, nil, info), key); err != nil {
		return nil, fmt.Errorf("failed to derive account key: %w", err)
	}
	return newCipher(c.master, key)
}

// ForScope returns the cipher matching a stored credential's scope.
// An unknown or empty scope is treated as global.
func (c *Cipher) ForScope(scope Scope, accountID uint) (*Cipher, error) {
	if scope == ScopeAccount {
		return c.ForAccount(accountID)
	}
	return c, nil
}

// Encrypt seals plaintext under a fresh random IV.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	iv := make([]byte, IVSize)
	if _, err := io.ReadFull(c.rand, iv); err != nil {
		return "", fmt.Errorf("failed to generate iv: %w", err)
	}
	sealed := c.aead.Seal(nil, iv, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(iv) + separator + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a blob produced by Encrypt. Any malformed or tampered
// blob yields an error matching apperrors.ErrCredential.
func (c *Cipher) Decrypt(blob string) (string, error) {
	parts := strings.Split(blob, separator)
	if len(parts) != 2 {
		return "", apperrors.NewCredentialError(
			fmt.Sprintf("malformed credential blob: expected 2 segments, got %d", len(parts)), nil)
	}

	iv, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return "", apperrors.NewCredentialError("malformed credential iv", err)
	}
	if len(iv) != IVSize {
		return "", apperrors.NewCredentialError(
			fmt.Sprintf("malformed credential iv: expected %d bytes, got %d", IVSize, len(iv)), nil)
	}

	sealed, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return "", apperrors.NewCredentialError("malformed credential ciphertext", err)
	}
	if len(sealed) < c.aead.Overhead() {
		return "", apperrors.NewCredentialError("credential ciphertext is truncated", nil)
	}

	plaintext, err := c.aead.Open(nil, iv, sealed, nil)
	if err != nil {
		return "", apperrors.NewCredentialError("credential authentication failed", err)
	}
	return string(plaintext), nil
}
