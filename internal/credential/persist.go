package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/99designs/keyring"
)

// Persister stores the serialized credential blob.
type Persister interface {
	Load(ctx context.Context) (*Credential, error)
	Save(ctx context.Context, cred *Credential) error
}

// FileStore keeps the credential as a JSON file readable by both clients.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads the credential file
func (s *FileStore) Load(ctx context.Context) (*Credential, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoCredential
		}
		return nil, fmt.Errorf("failed to read credential file: %w", err)
	}
	return decode(b)
}

// Save writes the credential atomically with owner-only permissions
func (s *FileStore) Save(ctx context.Context, cred *Credential) error {
	b, err := json.MarshalIndent(cred, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode credential: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create credential directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".credential-*")
	if err != nil {
		return fmt.Errorf("failed to create temp credential file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write credential: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set credential permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close credential file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace credential file: %w", err)
	}
	return nil
}

const (
	keyringService = "inbox-agent"
	keyringKey     = "google-oauth"
)

// KeyringStore keeps the credential blob in the OS keyring.
type KeyringStore struct {
	ring keyring.Keyring
}

// NewKeyringStore opens the system keyring, falling back to an encrypted
// file under fileDir when no native backend is available.
func NewKeyringStore(fileDir, filePassword string) (*KeyringStore, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: keyringService,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  fileDir,
		FilePasswordFunc:         keyring.FixedStringPrompt(filePassword),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open keyring: %w", err)
	}
	return NewKeyringStoreWith(ring), nil
}

// NewKeyringStoreWith wraps an already opened keyring.
func NewKeyringStoreWith(ring keyring.Keyring) *KeyringStore {
	return &KeyringStore{ring: ring}
}

// Load reads the credential from the keyring
func (s *KeyringStore) Load(ctx context.Context) (*Credential, error) {
	item, err := s.ring.Get(keyringKey)
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return nil, ErrNoCredential
		}
		return nil, fmt.Errorf("failed to read credential from keyring: %w", err)
	}
	return decode(item.Data)
}

// Save writes the credential to the keyring
func (s *KeyringStore) Save(ctx context.Context, cred *Credential) error {
	b, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("failed to encode credential: %w", err)
	}
	err = s.ring.Set(keyring.Item{
		Key:         keyringKey,
		Data:        b,
		Label:       "inbox-agent Google credential",
		Description: "OAuth token for Gmail and Google Tasks",
	})
	if err != nil {
		return fmt.Errorf("failed to write credential to keyring: %w", err)
	}
	return nil
}

func decode(b []byte) (*Credential, error) {
	var cred Credential
	if err := json.Unmarshal(b, &cred); err != nil {
		return nil, fmt.Errorf("failed to decode credential: %w", err)
	}
	if cred.AccessToken == "" && cred.RefreshToken == "" {
		return nil, ErrNoCredential
	}
	return &cred, nil
}
