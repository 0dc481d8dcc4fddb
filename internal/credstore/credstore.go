// Package credstore is the on-device secure credential store: opaque
// values (the auth token, the cached username) sealed at rest so a
// casual copy of the config directory does not leak them.
package credstore

import (
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"
)

var (
	// ErrNotFound means no value is stored under that name.
	ErrNotFound = errors.New("credstore: not found")

	// ErrInvalidName rejects names that could escape the store directory.
	ErrInvalidName = errors.New("credstore: invalid name")

	// ErrCorrupt means a stored value failed to decrypt, either tampered
	// with or sealed under a different device secret.
	ErrCorrupt = errors.New("credstore: cannot decrypt stored value")
)

const (
	saltFile  = "salt"
	saltSize  = 16
	nonceSize = 24
)

// Store seals values under a key derived from the device secret and a
// per-store random salt.
type Store struct {
	dir string
	key [32]byte
}

// Open prepares the store directory and derives the sealing key. The
// salt is created on first use and persisted next to the values.
func Open(dir, deviceSecret string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("credstore: create dir: %w", err)
	}

	salt, err := loadOrCreateSalt(filepath.Join(dir, saltFile))
	if err != nil {
		return nil, err
	}

	raw, err := scrypt.Key([]byte(deviceSecret), salt, 1<<15, 8, 1, 32)
	if err != nil {
		return nil, fmt.Errorf("credstore: derive key: %w", err)
	}

	s := &Store{dir: dir}
	copy(s.key[:], raw)
	return s, nil
}

// Set seals and stores a value under name, replacing any previous one.
func (s *Store) Set(name, value string) error {
	if !validName(name) {
		return ErrInvalidName
	}

	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return fmt.Errorf("credstore: nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], []byte(value), &nonce, &s.key)

	if err := os.WriteFile(s.path(name), sealed, 0o600); err != nil {
		return fmt.Errorf("credstore: write %s: %w", name, err)
	}
	return nil
}

// Get opens the value stored under name.
func (s *Store) Get(name string) (string, error) {
	if !validName(name) {
		return "", ErrInvalidName
	}

	sealed, err := os.ReadFile(s.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("credstore: read %s: %w", name, err)
	}
	if len(sealed) < nonceSize {
		return "", ErrCorrupt
	}

	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	plain, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, &s.key)
	if !ok {
		return "", ErrCorrupt
	}
	return string(plain), nil
}

// Delete removes the value stored under name. Deleting an absent value
// is a no-op.
func (s *Store) Delete(name string) error {
	if !validName(name) {
		return ErrInvalidName
	}
	if err := os.Remove(s.path(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("credstore: delete %s: %w", name, err)
	}
	return nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name+".cred")
}

func validName(name string) bool {
	return name != "" && !strings.ContainsAny(name, `/\`) && name != "." && name != ".."
}

func loadOrCreateSalt(path string) ([]byte, error) {
	salt, err := os.ReadFile(path)
	if err == nil && len(salt) == saltSize {
		return salt, nil
	}
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("credstore: read salt: %w", err)
	}

	salt = make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("credstore: generate salt: %w", err)
	}
	if err := os.WriteFile(path, salt, 0o600); err != nil {
		return nil, fmt.Errorf("credstore: write salt: %w", err)
	}
	return salt, nil
}
