// Package credentials stores admin tokens for echoport control API endpoints.
package credentials

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	// DefaultConfigDir is the directory under the XDG config home.
	DefaultConfigDir = "echoport"
	// FileName is the name of the credentials file.
	FileName = "credentials.json"
	// FilePermissions for the credentials file (read/write for owner only).
	FilePermissions = 0600
	// DirPermissions for the credentials directory.
	DirPermissions = 0700
)

var (
	// ErrNoToken indicates no token is stored for the endpoint.
	ErrNoToken = errors.New("no token stored - run 'echoport token --save' first")
	// ErrTokenExpired indicates the stored token has expired.
	ErrTokenExpired = errors.New("stored token has expired - run 'echoport token --save' again")
)

// Entry is a token saved for one control API endpoint.
type Entry struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// IsExpired reports whether the token expires within the next minute.
// A zero expiry never expires.
func (e *Entry) IsExpired() bool {
	if e.ExpiresAt.IsZero() {
		return false
	}
	return time.Now().Add(60 * time.Second).After(e.ExpiresAt)
}

type file struct {
	Endpoints map[string]*Entry `json:"endpoints"`
}

// Store manages the credentials file.
type Store struct {
	path string
	data file
}

// NewStore opens the credentials file at the default location.
func NewStore() (*Store, error) {
	path, err := defaultPath()
	if err != nil {
		return nil, err
	}
	return OpenStore(path)
}

// OpenStore opens the credentials file at path. A missing file is an empty store.
func OpenStore(path string) (*Store, error) {
	s := &Store{path: path, data: file{Endpoints: make(map[string]*Entry)}}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read credentials: %w", err)
	}
	if err := json.Unmarshal(raw, &s.data); err != nil {
		return nil, fmt.Errorf("failed to parse credentials %s: %w", path, err)
	}
	if s.data.Endpoints == nil {
		s.data.Endpoints = make(map[string]*Entry)
	}
	return s, nil
}

func defaultPath() (string, error) {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, DefaultConfigDir, FileName), nil
}

func (s *Store) save() error {
	if err := os.MkdirAll(filepath.Dir(s.path), DirPermissions); err != nil {
		return fmt.Errorf("cannot create credentials directory: %w", err)
	}
	data, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, FilePermissions)
}

// Token returns the usable token stored for endpoint.
func (s *Store) Token(endpoint string) (string, error) {
	e, ok := s.data.Endpoints[endpoint]
	if !ok || e.Token == "" {
		return "", ErrNoToken
	}
	if e.IsExpired() {
		return "", ErrTokenExpired
	}
	return e.Token, nil
}

// SetToken stores token for endpoint and writes the file.
func (s *Store) SetToken(endpoint, token string, expiresAt time.Time) error {
	s.data.Endpoints[endpoint] = &Entry{Token: token, ExpiresAt: expiresAt}
	return s.save()
}

// Delete removes the token for endpoint.
func (s *Store) Delete(endpoint string) error {
	if _, ok := s.data.Endpoints[endpoint]; !ok {
		return ErrNoToken
	}
	delete(s.data.Endpoints, endpoint)
	return s.save()
}

// Endpoints returns the number of endpoints with a stored token.
func (s *Store) Endpoints() int {
	return len(s.data.Endpoints)
}

// Path returns the credentials file path.
func (s *Store) Path() string {
	return s.path
}
