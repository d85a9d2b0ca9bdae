package marker

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/miradorstack/mirador-chaos/internal/utils"
)

// FileStore persists the marker as an RFC3339 timestamp in a single file.
// The file survives container restarts when the path sits on a volume.
type FileStore struct {
	path string
}

// NewFileStore creates a FileStore writing to the given path.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("marker file path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create marker directory: %w", err)
	}
	return &FileStore{path: path}, nil
}

// Read returns the persisted timestamp, or ErrNoMarker when the file is
// absent or empty.
func (s *FileStore) Read(context.Context) (time.Time, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return time.Time{}, ErrNoMarker
		}
		return time.Time{}, fmt.Errorf("read marker: %w", err)
	}

	value := strings.TrimSpace(string(data))
	if value == "" {
		return time.Time{}, ErrNoMarker
	}
	t, err := utils.ParseRFC3339(value)
	if err != nil {
		return time.Time{}, fmt.Errorf("decode marker: %w", err)
	}
	return t, nil
}

// Write persists the timestamp, replacing any previous marker.
func (s *FileStore) Write(_ context.Context, t time.Time) error {
	if err := os.WriteFile(s.path, []byte(utils.FormatRFC3339(t)+"\n"), 0o644); err != nil {
		return fmt.Errorf("write marker: %w", err)
	}
	return nil
}

// Clear removes the marker file. Missing files are not an error.
func (s *FileStore) Clear(context.Context) error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("clear marker: %w", err)
	}
	return nil
}

// Close is a no-op.
func (s *FileStore) Close() error { return nil }
