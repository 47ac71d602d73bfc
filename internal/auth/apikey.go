// ABOUTME: API key minting and verification with bcrypt-hashed secrets
// ABOUTME: Keys look like wl_<id>.<secret>; only the hash is ever stored

package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/waylink/waylink/internal/store"
)

const keyPrefix = "wl_"

// ErrBadKey is returned for malformed or non-matching API keys
var ErrBadKey = errors.New("invalid api key")

// MintKey creates a new API key for an owner. The returned plaintext is
// shown to the caller exactly once; the record carries only the bcrypt
// hash of the secret.
func MintKey(owner, name string) (plaintext string, record *store.APIKey, err error) {
	idBytes := make([]byte, 6)
	if _, err := rand.Read(idBytes); err != nil {
		return "", nil, fmt.Errorf("generating key id: %w", err)
	}
	secretBytes := make([]byte, 24)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", nil, fmt.Errorf("generating key secret: %w", err)
	}

	id := hex.EncodeToString(idBytes)
	secret := hex.EncodeToString(secretBytes)

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", nil, fmt.Errorf("hashing key secret: %w", err)
	}

	record = &store.APIKey{
		ID:         id,
		Owner:      owner,
		Name:       name,
		SecretHash: string(hash),
		CreatedAt:  time.Now().UTC(),
	}
	return keyPrefix + id + "." + secret, record, nil
}

// SplitKey parses a plaintext API key into its id and secret parts.
func SplitKey(plaintext string) (id, secret string, err error) {
	rest, ok := strings.CutPrefix(plaintext, keyPrefix)
	if !ok {
		return "", "", ErrBadKey
	}
	id, secret, ok = strings.Cut(rest, ".")
	if !ok || id == "" || secret == "" {
		return "", "", ErrBadKey
	}
	return id, secret, nil
}

// VerifyKey checks a plaintext secret against a stored key record.
func VerifyKey(record *store.APIKey, secret string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(record.SecretHash), []byte(secret)); err != nil {
		return ErrBadKey
	}
	return nil
}
