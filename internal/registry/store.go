// Package registry persists the host/service registry and resolves aliases
// against it.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/tunnelmaster/stm/internal/model"
)

// Store reads and writes the registry document at Path.
type Store struct {
	Path string
}

// NewStore returns a store backed by path.
func NewStore(path string) *Store {
	return &Store{Path: path}
}

// Load reads the registry. A missing or malformed file yields an empty
// registry together with a *model.PersistenceError; callers are expected to
// report the error and carry on with the empty registry.
func (s *Store) Load() (*model.Registry, error) {
	b, err := os.ReadFile(s.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Debug("registry file missing, starting empty", "path", s.Path)
		}
		return model.NewRegistry(), &model.PersistenceError{Op: "read", Path: s.Path, Err: err}
	}
	reg := model.NewRegistry()
	if err := json.Unmarshal(b, reg); err != nil {
		return model.NewRegistry(), &model.PersistenceError{Op: "parse", Path: s.Path, Err: err}
	}
	reg.Normalize()
	return reg, nil
}

// Save replaces the registry file with reg. The document is written to a
// sibling temp file and renamed into place.
func (s *Store) Save(reg *model.Registry) error {
	wrap := func(err error) error {
		return &model.PersistenceError{Op: "write", Path: s.Path, Err: err}
	}
	b, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return wrap(err)
	}
	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return wrap(err)
	}
	tmp, err := os.CreateTemp(dir, ".hosts-*.tmp")
	if err != nil {
		return wrap(err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(append(b, '\n')); err != nil {
		_ = tmp.Close()
		return wrap(err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return wrap(err)
	}
	if err := tmp.Close(); err != nil {
		return wrap(err)
	}
	// Registry holds SQL credentials.
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return wrap(err)
	}
	if err := os.Rename(tmpName, s.Path); err != nil {
		return wrap(fmt.Errorf("replace: %w", err))
	}
	return nil
}

// IsMissing reports whether err is a Load error caused by an absent file.
func IsMissing(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}
