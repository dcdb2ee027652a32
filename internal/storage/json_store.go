package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// ErrCorruptState is returned alongside an empty set when the state file
// exists but cannot be parsed.
var ErrCorruptState = errors.New("state file is corrupt")

// JSONStore keeps the DownloadedSet as an indented, sorted JSON array that is
// rewritten in full on every save.
type JSONStore struct {
	fs   afero.Fs
	path string
}

func NewJSONStore(fs afero.Fs, path string) *JSONStore {
	return &JSONStore{fs: fs, path: path}
}

// Load never fails hard: a missing file is an empty set, and a corrupt one is
// an empty set plus ErrCorruptState so the caller can log it.
func (s *JSONStore) Load(ctx context.Context) (*DownloadedSet, error) {
	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewDownloadedSet(), nil
		}
		return NewDownloadedSet(), fmt.Errorf("read %s: %w", s.path, err)
	}

	var urls []string
	if err := json.Unmarshal(data, &urls); err != nil {
		return NewDownloadedSet(), fmt.Errorf("%w: %s: %v", ErrCorruptState, s.path, err)
	}
	return NewDownloadedSet(urls...), nil
}

// Save writes to a sibling temp file and renames it over the old state, so a
// crash mid-write leaves the previous state intact.
func (s *JSONStore) Save(ctx context.Context, set *DownloadedSet) error {
	if err := s.fs.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	data, err := json.MarshalIndent(set.Sorted(), "", "  ")
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := s.fs.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace %s: %w", s.path, err)
	}
	return nil
}

func (s *JSONStore) Close() error {
	return nil
}
