package crmauth

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const credentialsFile = "credentials.json"

var _ CredentialStore = &FileCredentialStore{}

// FileCredentialStore keeps token and identity in one JSON file. Writes go
// through a temp file and a rename so a reader sees either the old record
// or the new one.
type FileCredentialStore struct {
	mu   sync.Mutex
	path string
	ttl  time.Duration
	now  func() time.Time
}

// NewFileCredentialStore stores credentials in dir, creating it with 0700.
func NewFileCredentialStore(dir string, ttl time.Duration) (*FileCredentialStore, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		dir = filepath.Join(home, ".crm")
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create credentials directory: %w", err)
	}

	return &FileCredentialStore{
		path: filepath.Join(dir, credentialsFile),
		ttl:  ttl,
		now:  time.Now,
	}, nil
}

// Path returns the credentials file location
func (s *FileCredentialStore) Path() string {
	return s.path
}

func (s *FileCredentialStore) SetCredential(ctx context.Context, token string, identity *Identity) error {
	if token == "" || identity == nil {
		return newKind(ErrInvalidInput, "token and identity are required", nil)
	}

	cred := Credential{
		Token:     token,
		Identity:  identity,
		ExpiresAt: CredentialExpiry(token, s.now(), s.ttl),
	}

	data, err := json.MarshalIndent(cred, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".credentials-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp credentials file: %w", err)
	}
	tmpName := tmp.Name()

	if err := writeAndClose(tmp, data); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write credentials: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to persist credentials: %w", err)
	}
	return nil
}

func (s *FileCredentialStore) ClearCredential(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete credentials: %w", err)
	}
	return nil
}

func (s *FileCredentialStore) Token(ctx context.Context) (string, bool, error) {
	cred, err := s.load()
	if err != nil || cred == nil || cred.Token == "" {
		return "", false, err
	}
	return cred.Token, true, nil
}

func (s *FileCredentialStore) CachedIdentity(ctx context.Context) (*Identity, bool, error) {
	cred, err := s.load()
	if err != nil || cred == nil || cred.Identity == nil {
		return nil, false, err
	}
	return cred.Identity, true, nil
}

func (s *FileCredentialStore) load() (*Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}

	var cred Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		return nil, wrapKind(err, ErrInconsistentState, "credentials file is corrupted")
	}

	if cred.Expired(s.now()) {
		return nil, nil
	}
	return &cred, nil
}

func writeAndClose(f *os.File, data []byte) error {
	if err := f.Chmod(0600); err != nil {
		f.Close()
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
