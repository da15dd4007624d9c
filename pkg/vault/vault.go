// Package vault encrypts credentials at rest with AES-256-GCM. Tokens are
// base64-encoded with the nonce prepended to the ciphertext.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/dreyhq/drey/pkg/log"
)

// ErrorKind classifies vault failures
type ErrorKind string

const (
	// ErrKindKeyMismatch - token was sealed under a different key
	ErrKindKeyMismatch ErrorKind = "key_mismatch"
	// ErrKindCorrupt - token is not a valid sealed value
	ErrKindCorrupt ErrorKind = "corrupt"
)

// Error is a typed vault failure
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("vault: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsKeyMismatch reports whether err is a key mismatch vault error
func IsKeyMismatch(err error) bool {
	var ve *Error
	return errors.As(err, &ve) && ve.Kind == ErrKindKeyMismatch
}

// Vault seals and opens credential values with a process-wide symmetric key.
type Vault struct {
	key []byte // 32 bytes for AES-256
}

// New creates a vault from a 32-byte key
func New(key []byte) (*Vault, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes for AES-256, got %d", len(key))
	}
	return &Vault{key: key}, nil
}

// NewFromEnv creates a vault from a base64-encoded 256-bit key string. When
// the key is empty an ephemeral key is generated; anything sealed under it
// is unreadable after restart, so this path is for test/dev only.
func NewFromEnv(encodedKey string) (*Vault, error) {
	if encodedKey == "" {
		key := make([]byte, 32)
		if _, err := io.ReadFull(rand.Reader, key); err != nil {
			return nil, fmt.Errorf("failed to generate ephemeral key: %w", err)
		}
		logger := log.WithComponent("vault")
		logger.Warn().
			Msg("ENCRYPTION_KEY not set: using an ephemeral key; all sealed credentials will be unreadable after restart")
		return New(key)
	}

	key, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decode encryption key: %w", err)
	}
	return New(key)
}

// Encrypt seals a plaintext string into a base64 token
func (v *Vault) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", fmt.Errorf("cannot encrypt empty value")
	}

	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a token produced by Encrypt
func (v *Vault) Decrypt(token string) (string, error) {
	if token == "" {
		return "", &Error{Kind: ErrKindCorrupt, Err: fmt.Errorf("empty token")}
	}

	sealed, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return "", &Error{Kind: ErrKindCorrupt, Err: fmt.Errorf("invalid base64: %w", err)}
	}

	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(sealed) < nonceSize {
		return "", &Error{Kind: ErrKindCorrupt, Err: fmt.Errorf("token too short")}
	}

	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		// GCM auth failure is indistinguishable between a wrong key and a
		// tampered token; a wrong key is by far the common case.
		return "", &Error{Kind: ErrKindKeyMismatch, Err: err}
	}

	return string(plaintext), nil
}

// EncryptMap seals every value of a credential map
func (v *Vault) EncryptMap(creds map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(creds))
	for k, val := range creds {
		token, err := v.Encrypt(val)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt credential %q: %w", k, err)
		}
		out[k] = token
	}
	return out, nil
}

// DecryptMap opens every value of a sealed credential map
func (v *Vault) DecryptMap(creds map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(creds))
	for k, token := range creds {
		val, err := v.Decrypt(token)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt credential %q: %w", k, err)
		}
		out[k] = val
	}
	return out, nil
}
