package credential

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// fileRecord is the on-disk shape of a stored credential.
type fileRecord struct {
	AccessToken string    `yaml:"access_token"`
	BaseURL     string    `yaml:"base_url,omitempty"`
	SavedAt     time.Time `yaml:"saved_at"`
}

// File stores the token in a YAML file with mode 0600.
// The file is re-read on every Get so a login from another terminal is
// picked up without restarting.
type File struct {
	mu      sync.Mutex
	path    string
	baseURL string
	now     func() time.Time
}

// DefaultFilePath returns <user config dir>/catalogsync/credentials.yaml.
func DefaultFilePath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve user config dir: %w", err)
	}
	return filepath.Join(dir, "catalogsync", "credentials.yaml"), nil
}

// NewFile creates a file-backed store. baseURL is recorded next to the
// token; a token saved for a different backend is treated as absent.
func NewFile(path, baseURL string) (*File, error) {
	if path == "" {
		return nil, errors.New("credential file path is required")
	}
	return &File{path: path, baseURL: baseURL, now: time.Now}, nil
}

// Path returns the backing file path.
func (f *File) Path() string { return f.path }

// Get reads the token from disk.
func (f *File) Get(_ context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNoCredential
		}
		return "", fmt.Errorf("read credential file %q: %w", f.path, err)
	}

	var rec fileRecord
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return "", fmt.Errorf("invalid credential file %q: %w", f.path, err)
	}
	if rec.AccessToken == "" {
		return "", ErrNoCredential
	}
	if f.baseURL != "" && rec.BaseURL != "" && rec.BaseURL != f.baseURL {
		return "", ErrNoCredential
	}
	return rec.AccessToken, nil
}

// Set writes the token atomically (temp file + rename).
func (f *File) Set(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("create credential dir: %w", err)
	}

	data, err := yaml.Marshal(fileRecord{
		AccessToken: token,
		BaseURL:     f.baseURL,
		SavedAt:     f.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode credential: %w", err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write credential file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace credential file: %w", err)
	}
	return nil
}

// Clear removes the credential file.
func (f *File) Clear(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove credential file: %w", err)
	}
	return nil
}

var _ WritableStore = (*File)(nil)
