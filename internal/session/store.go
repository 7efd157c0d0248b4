// File: internal/session/store.go
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// ErrNotFound reports that a session file does not exist. This is a distinct
// state from an existing but empty session.
var ErrNotFound = errors.New("session not found")

// ParseError reports a session file whose content is not valid serialized
// state.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("session file %s is not valid session state: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// DefaultExtension is appended to bare session names that carry no extension.
const DefaultExtension = ".json"

// Store loads and saves named session records as files under a sessions
// directory.
type Store struct {
	dir string
	log *zap.Logger
}

// NewStore creates a store rooted at dir.
func NewStore(dir string, logger *zap.Logger) *Store {
	return &Store{
		dir: dir,
		log: logger.Named("session_store"),
	}
}

// ResolvePath maps a session name or path to the file holding its state.
// Absolute paths pass through unchanged; anything else is joined under the
// sessions directory, gaining the default extension when none is present.
func (s *Store) ResolvePath(nameOrPath string) string {
	if filepath.IsAbs(nameOrPath) {
		return nameOrPath
	}
	if filepath.Ext(nameOrPath) == "" {
		nameOrPath += DefaultExtension
	}
	return filepath.Join(s.dir, nameOrPath)
}

// Load reads the record at path. It returns ErrNotFound when the file is
// absent and a *ParseError when the content is not valid session state.
func (s *Store) Load(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("failed to read session file %s: %w", path, err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	if rec.Cookies == nil {
		rec.Cookies = []Cookie{}
	}
	return &rec, nil
}

// Save writes the record to path, creating intermediate directories as
// needed. The write goes to a temporary file that is renamed into place, so
// concurrent readers never observe a truncated file.
func (s *Store) Save(path string, rec *Record) error {
	if rec.Cookies == nil {
		rec.Cookies = []Cookie{}
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize session state: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create sessions directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary session file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temporary session file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace session file %s: %w", path, err)
	}

	s.log.Debug("Session state saved.", zap.String("path", path), zap.Int("cookies", len(rec.Cookies)))
	return nil
}
