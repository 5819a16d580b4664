// Package vault seals per-account credential fields with AES-256-GCM.
//
// The master key is derived once from the configured secret with scrypt. Each
// field is sealed independently with its own nonce, so updating one field
// never touches the others. The vault holds no state besides the AEAD.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/crypto/scrypt"

	"banksync/internal/core"
)

const (
	keyLen   = 32
	scryptN  = 1 << 15
	scryptR  = 8
	scryptP  = 1
	tagSize  = 16
	nonceLen = 12

	defaultSalt = "banksync/credential-vault/v1"
)

type Vault struct {
	aead cipher.AEAD
}

// New derives the master key from secret. An empty secret is a
// ConfigurationError: the process must not start without a key.
func New(secret, salt string) (*Vault, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, &core.ConfigurationError{Key: "MASTER_KEY", Reason: "master key is not set"}
	}
	if salt == "" {
		salt = defaultSalt
	}

	key, err := scrypt.Key([]byte(secret), []byte(salt), scryptN, scryptR, scryptP, keyLen)
	if err != nil {
		return nil, fmt.Errorf("derive master key: %w", err)
	}
	return newWithKey(key)
}

func newWithKey(key []byte) (*Vault, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithTagSize(block, tagSize)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return &Vault{aead: aead}, nil
}

// Encrypt seals plaintext under a fresh random nonce.
func (v *Vault) Encrypt(plaintext string) (core.EncryptedField, error) {
	nonce := make([]byte, nonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return core.EncryptedField{}, fmt.Errorf("generate nonce: %w", err)
	}

	sealed := v.aead.Seal(nil, nonce, []byte(plaintext), nil)
	split := len(sealed) - tagSize
	return core.EncryptedField{
		Ciphertext: sealed[:split],
		Nonce:      nonce,
		Tag:        sealed[split:],
	}, nil
}

// Decrypt opens a sealed field. Any authentication failure is an IntegrityError.
func (v *Vault) Decrypt(f core.EncryptedField) (string, error) {
	if len(f.Nonce) != nonceLen {
		return "", &core.IntegrityError{Err: fmt.Errorf("nonce length %d, want %d", len(f.Nonce), nonceLen)}
	}
	if len(f.Tag) != tagSize {
		return "", &core.IntegrityError{Err: fmt.Errorf("tag length %d, want %d", len(f.Tag), tagSize)}
	}

	sealed := make([]byte, 0, len(f.Ciphertext)+len(f.Tag))
	sealed = append(sealed, f.Ciphertext...)
	sealed = append(sealed, f.Tag...)

	plain, err := v.aead.Open(nil, f.Nonce, sealed, nil)
	if err != nil {
		return "", &core.IntegrityError{Err: errors.New("authentication tag mismatch")}
	}
	return string(plain), nil
}

func (v *Vault) EncryptFields(fields map[string]string) (map[string]core.EncryptedField, error) {
	out := make(map[string]core.EncryptedField, len(fields))
	for name, value := range fields {
		ef, err := v.Encrypt(value)
		if err != nil {
			return nil, fmt.Errorf("encrypt field %s: %w", name, err)
		}
		out[name] = ef
	}
	return out, nil
}

// DecryptFields opens every field. The first failure (in field-name order) is
// returned with the field name attached.
func (v *Vault) DecryptFields(fields map[string]core.EncryptedField) (map[string]string, error) {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(map[string]string, len(fields))
	for _, name := range names {
		plain, err := v.Decrypt(fields[name])
		if err != nil {
			var ie *core.IntegrityError
			if errors.As(err, &ie) {
				ie.Field = name
				return nil, ie
			}
			return nil, fmt.Errorf("decrypt field %s: %w", name, err)
		}
		out[name] = plain
	}
	return out, nil
}
