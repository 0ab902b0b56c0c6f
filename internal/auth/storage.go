package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/zalando/go-keyring"
)

// ErrNoCredentials is returned by storage backends when nothing is stored
// for a profile
var ErrNoCredentials = errors.New("no stored credentials")

// Storage backend names as used in configuration
const (
	StorageFile      = "file"
	StorageKeyring   = "keyring"
	StorageEncrypted = "encrypted"
	StorageAuto      = "auto"
)

// StorageBackend defines the interface for credential storage
type StorageBackend interface {
	Save(profile string, data []byte) error
	Load(profile string) ([]byte, error)
	Delete(profile string) error
	Name() string
}

// TokenFileStorage keeps the token as plain JSON in a file that later runs
// reuse. With a fixed path every profile shares that file; otherwise each
// profile gets tokens/<profile>.json under the base directory.
type TokenFileStorage struct {
	fs        afero.Fs
	baseDir   string
	fixedPath string
}

// NewTokenFileStorage creates a token file backend
func NewTokenFileStorage(fs afero.Fs, baseDir, fixedPath string) *TokenFileStorage {
	return &TokenFileStorage{fs: fs, baseDir: baseDir, fixedPath: fixedPath}
}

// Path returns the token file used for profile
func (s *TokenFileStorage) Path(profile string) string {
	if s.fixedPath != "" {
		return s.fixedPath
	}
	return filepath.Join(s.baseDir, "tokens", profile+".json")
}

func (s *TokenFileStorage) Save(profile string, data []byte) error {
	path := s.Path(profile)
	if err := s.fs.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	return afero.WriteFile(s.fs, path, data, 0600)
}

func (s *TokenFileStorage) Load(profile string) ([]byte, error) {
	data, err := afero.ReadFile(s.fs, s.Path(profile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w for profile '%s'", ErrNoCredentials, profile)
		}
		return nil, err
	}
	return data, nil
}

func (s *TokenFileStorage) Delete(profile string) error {
	err := s.fs.Remove(s.Path(profile))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (s *TokenFileStorage) Name() string {
	return "token-file"
}

// KeyringStorage uses system keyring for credential storage
type KeyringStorage struct {
	serviceName string
}

// NewKeyringStorage creates a keyring storage backend
func NewKeyringStorage(serviceName string) *KeyringStorage {
	return &KeyringStorage{serviceName: serviceName}
}

func (s *KeyringStorage) Save(profile string, data []byte) error {
	return keyring.Set(s.serviceName, profile, string(data))
}

func (s *KeyringStorage) Load(profile string) ([]byte, error) {
	data, err := keyring.Get(s.serviceName, profile)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, fmt.Errorf("%w for profile '%s'", ErrNoCredentials, profile)
		}
		return nil, err
	}
	return []byte(data), nil
}

func (s *KeyringStorage) Delete(profile string) error {
	err := keyring.Delete(s.serviceName, profile)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return err
}

func (s *KeyringStorage) Name() string {
	return "system-keyring"
}

// KeyringAvailable probes the system keyring with a throwaway entry
func KeyringAvailable(serviceName string) bool {
	testKey := serviceName + "-probe"
	if err := keyring.Set(serviceName, testKey, "probe"); err != nil {
		return false
	}
	_ = keyring.Delete(serviceName, testKey)
	return true
}

// EncryptedFileStorage stores credentials in AES-GCM encrypted files
type EncryptedFileStorage struct {
	fs      afero.Fs
	baseDir string
	key     []byte
}

// NewEncryptedFileStorage creates an encrypted file storage backend
func NewEncryptedFileStorage(fs afero.Fs, baseDir string) (*EncryptedFileStorage, error) {
	key, err := getOrCreateEncryptionKey(fs, baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to get encryption key: %w", err)
	}

	return &EncryptedFileStorage{fs: fs, baseDir: baseDir, key: key}, nil
}

func (s *EncryptedFileStorage) Save(profile string, data []byte) error {
	encrypted, err := s.encrypt(data)
	if err != nil {
		return fmt.Errorf("failed to encrypt credentials: %w", err)
	}

	credFile := s.credentialFilePath(profile)
	if err := s.fs.MkdirAll(filepath.Dir(credFile), 0700); err != nil {
		return err
	}

	return afero.WriteFile(s.fs, credFile, encrypted, 0600)
}

func (s *EncryptedFileStorage) Load(profile string) ([]byte, error) {
	encrypted, err := afero.ReadFile(s.fs, s.credentialFilePath(profile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w for profile '%s'", ErrNoCredentials, profile)
		}
		return nil, err
	}

	return s.decrypt(encrypted)
}

func (s *EncryptedFileStorage) Delete(profile string) error {
	err := s.fs.Remove(s.credentialFilePath(profile))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (s *EncryptedFileStorage) Name() string {
	return "encrypted-file"
}

func (s *EncryptedFileStorage) credentialFilePath(profile string) string {
	return filepath.Join(s.baseDir, "credentials", profile+".enc")
}

// encrypt encrypts data using AES-GCM
func (s *EncryptedFileStorage) encrypt(plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// decrypt decrypts data using AES-GCM
func (s *EncryptedFileStorage) decrypt(ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < gcm.NonceSize() {
		return nil, fmt.Errorf("invalid ciphertext")
	}

	nonce := ciphertext[:gcm.NonceSize()]
	ciphertext = ciphertext[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt credentials: %w", err)
	}

	return plaintext, nil
}

// getOrCreateEncryptionKey generates or loads the encryption key
func getOrCreateEncryptionKey(fs afero.Fs, baseDir string) ([]byte, error) {
	keyFile := filepath.Join(baseDir, ".keyfile")

	if data, err := afero.ReadFile(fs, keyFile); err == nil {
		key, err := base64.StdEncoding.DecodeString(string(data))
		if err == nil && len(key) == 32 {
			return key, nil
		}
	}

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}

	if err := fs.MkdirAll(baseDir, 0700); err != nil {
		return nil, err
	}

	encoded := base64.StdEncoding.EncodeToString(key)
	if err := afero.WriteFile(fs, keyFile, []byte(encoded), 0600); err != nil {
		return nil, err
	}

	return key, nil
}

// NewStorage builds the backend named by kind. "auto" prefers the system
// keyring and falls back to the encrypted file. The returned warning is
// non-empty when a fallback was taken.
func NewStorage(fs afero.Fs, kind, baseDir, tokenFile string) (StorageBackend, string, error) {
	switch kind {
	case "", StorageFile:
		return NewTokenFileStorage(fs, baseDir, tokenFile), "", nil
	case StorageKeyring:
		return NewKeyringStorage(serviceName), "", nil
	case StorageEncrypted:
		storage, err := NewEncryptedFileStorage(fs, baseDir)
		if err != nil {
			return nil, "", err
		}
		return storage, "", nil
	case StorageAuto:
		if KeyringAvailable(serviceName) {
			return NewKeyringStorage(serviceName), "", nil
		}
		storage, err := NewEncryptedFileStorage(fs, baseDir)
		if err != nil {
			return NewTokenFileStorage(fs, baseDir, tokenFile),
				fmt.Sprintf("Encryption setup failed (%v). Using plain token file.", err), nil
		}
		return storage, "System keyring not available. Using encrypted file storage.", nil
	}
	return nil, "", fmt.Errorf("unknown token storage %q (want file, keyring, encrypted or auto)", kind)
}
