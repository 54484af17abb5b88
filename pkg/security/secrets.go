package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"
)

// sealedPrefix marks a stored value produced by Seal
const sealedPrefix = "sealed:"

// storageKeySalt is fixed so the same passphrase always opens the same
// database
var storageKeySalt = []byte("beacon/storage/v1")

// SecretsManager seals event key secrets at rest with AES-256-GCM. Each
// sealed value is bound to the record it belongs to.
type SecretsManager struct {
	aead cipher.AEAD
}

// NewSecretsManager creates a secrets manager from a raw 32-byte key
func NewSecretsManager(key []byte) (*SecretsManager, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes for AES-256, got %d", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &SecretsManager{aead: aead}, nil
}

// NewSecretsManagerFromPassword derives the key from a passphrase with
// Argon2id (storage.encryption_key)
func NewSecretsManagerFromPassword(password string) (*SecretsManager, error) {
	if password == "" {
		return nil, fmt.Errorf("password cannot be empty")
	}
	key := argon2.IDKey([]byte(password), storageKeySalt, 1, 64*1024, 4, 32)
	return NewSecretsManager(key)
}

// Seal encrypts secret for the record identified by recordID. The result
// is printable and carries the nonce.
func (sm *SecretsManager) Seal(secret, recordID string) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("cannot seal an empty secret")
	}

	nonce := make([]byte, sm.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ct := sm.aead.Seal(nonce, nonce, []byte(secret), []byte(recordID))
	return sealedPrefix + base64.RawStdEncoding.EncodeToString(ct), nil
}

// Open reverses Seal. Values without the sealed prefix are returned as is,
// so stores written before encryption was enabled keep loading. A value
// sealed for another record fails to open.
func (sm *SecretsManager) Open(stored, recordID string) (string, error) {
	if !IsSealed(stored) {
		return stored, nil
	}

	ct, err := base64.RawStdEncoding.DecodeString(strings.TrimPrefix(stored, sealedPrefix))
	if err != nil {
		return "", fmt.Errorf("failed to decode sealed secret: %w", err)
	}
	nonceSize := sm.aead.NonceSize()
	if len(ct) <= nonceSize {
		return "", fmt.Errorf("sealed secret too short")
	}

	pt, err := sm.aead.Open(nil, ct[:nonceSize], ct[nonceSize:], []byte(recordID))
	if err != nil {
		return "", fmt.Errorf("failed to open sealed secret for %s: %w", recordID, err)
	}
	return string(pt), nil
}

// IsSealed reports whether a stored value was produced by Seal
func IsSealed(stored string) bool {
	return strings.HasPrefix(stored, sealedPrefix)
}
