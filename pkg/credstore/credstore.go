// Package credstore caches HMAC credential parameters (access keys, shared
// keys) outside of the Connection value object itself, the same two-tier
// design the platform already uses for other secrets: try the OS keyring
// first, fall back to an AES-GCM encrypted file for headless hosts.
package credstore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/zalando/go-keyring"
)

// Service is the keyring service namespace used for connection credentials.
const Service = "connectivity-credentials"

// Store provides a unified interface for storing and retrieving the
// parameter map of a Credentials (HMAC) value object, keyed by connection ID.
type Store struct {
	file    *fileStore
	useFile bool
}

// New creates a Store that tries the system keyring first and falls back to
// a file-backed store at keyringPath, encrypted with masterPassword, if a
// probe write to the system keyring fails or does not respond within five
// seconds (common on headless CI/containers with no secret-service/keychain
// daemon running).
func New(keyringPath, masterPassword string) *Store {
	done := make(chan error, 1)
	go func() {
		err := keyring.Set(Service, "probe", "probe")
		if err == nil {
			keyring.Delete(Service, "probe")
		}
		done <- err
	}()

	select {
	case err := <-done:
		if err == nil {
			return &Store{useFile: false}
		}
	case <-time.After(5 * time.Second):
	}

	return &Store{file: newFileStore(keyringPath, masterPassword), useFile: true}
}

// PutParameters stores the credential parameter map for a connection ID.
func (s *Store) PutParameters(connectionID string, parameters map[string]string) error {
	data, err := json.Marshal(parameters)
	if err != nil {
		return fmt.Errorf("marshal credential parameters: %w", err)
	}

	if s.useFile {
		return s.file.set(connectionID, string(data))
	}
	return keyring.Set(Service, connectionID, string(data))
}

// GetParameters retrieves the credential parameter map for a connection ID.
func (s *Store) GetParameters(connectionID string) (map[string]string, error) {
	var raw string
	var err error
	if s.useFile {
		raw, err = s.file.get(connectionID)
	} else {
		raw, err = keyring.Get(Service, connectionID)
	}
	if err != nil {
		return nil, fmt.Errorf("credential parameters not found for connection %s: %w", connectionID, err)
	}

	parameters := make(map[string]string)
	if err := json.Unmarshal([]byte(raw), &parameters); err != nil {
		return nil, fmt.Errorf("unmarshal credential parameters: %w", err)
	}
	return parameters, nil
}

// DeleteParameters removes the cached credential parameters for a connection.
func (s *Store) DeleteParameters(connectionID string) error {
	if s.useFile {
		return s.file.delete(connectionID)
	}
	return keyring.Delete(Service, connectionID)
}

// fileStore is an AES-GCM encrypted, JSON-backed keyring for hosts without a
// usable system keyring.
type fileStore struct {
	path      string
	masterKey []byte
}

type entry struct {
	Key  string `json:"key"`
	Data string `json:"data"`
}

func newFileStore(path, masterPassword string) *fileStore {
	os.MkdirAll(filepath.Dir(path), 0700)
	hash := sha256.Sum256([]byte(masterPassword))
	return &fileStore{path: path, masterKey: hash[:]}
}

func (f *fileStore) encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(f.masterKey)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

func (f *fileStore) decrypt(ciphertext string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher(f.masterKey)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}
	plaintext, err := gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

func (f *fileStore) load() (map[string]entry, error) {
	entries := make(map[string]entry)
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return entries, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (f *fileStore) save(entries map[string]entry) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	return os.WriteFile(f.path, data, 0600)
}

func (f *fileStore) set(key, value string) error {
	entries, err := f.load()
	if err != nil {
		return err
	}
	encrypted, err := f.encrypt(value)
	if err != nil {
		return err
	}
	entries[key] = entry{Key: key, Data: encrypted}
	return f.save(entries)
}

func (f *fileStore) get(key string) (string, error) {
	entries, err := f.load()
	if err != nil {
		return "", err
	}
	e, ok := entries[key]
	if !ok {
		return "", fmt.Errorf("entry not found")
	}
	return f.decrypt(e.Data)
}

func (f *fileStore) delete(key string) error {
	entries, err := f.load()
	if err != nil {
		return err
	}
	delete(entries, key)
	return f.save(entries)
}

// DefaultPath returns the default file-store path, honoring
// CONNECTIVITY_KEYRING_PATH for overrides (containers, tests).
func DefaultPath() string {
	if path := os.Getenv("CONNECTIVITY_KEYRING_PATH"); path != "" {
		return path
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "/tmp/connectivity-keyring.json"
	}
	return filepath.Join(homeDir, ".local", "share", "connectivity", "keyring.json")
}

// MasterPasswordFromEnv returns the file-store encryption password.
func MasterPasswordFromEnv() string {
	if password := os.Getenv("CONNECTIVITY_KEYRING_PASSWORD"); password != "" {
		return password
	}
	return "default-master-password-change-me"
}
