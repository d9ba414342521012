package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ruteri/agentsec-relay/interfaces"
)

// DefaultSnapshotName is the snapshot file name used when a location points at a directory.
const DefaultSnapshotName = "content_store.json"

// FileBackend keeps the snapshot in a single file on the local file system.
// Saves go through a temporary file and a rename so readers never observe a
// partially written snapshot.
type FileBackend struct {
	path        string
	log         *slog.Logger
	locationURI string
}

// NewFileBackend creates a file snapshot backend. If path is an existing
// directory or ends in a separator, the snapshot is stored as
// DefaultSnapshotName inside it. Parent directories are created as needed.
func NewFileBackend(path string, log *slog.Logger) (*FileBackend, error) {
	if path == "" {
		return nil, errors.New("empty snapshot path")
	}

	if strings.HasSuffix(path, "/") || strings.HasSuffix(path, string(filepath.Separator)) {
		path = filepath.Join(path, DefaultSnapshotName)
	} else if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, DefaultSnapshotName)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	return &FileBackend{
		path:        path,
		log:         log,
		locationURI: "file://" + path,
	}, nil
}

// Path returns the snapshot file path.
func (b *FileBackend) Path() string {
	return b.path
}

// Load reads the snapshot file. Returns ErrSnapshotNotFound if it doesn't exist yet.
func (b *FileBackend) Load(ctx context.Context) ([]byte, error) {
	data, err := os.ReadFile(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, interfaces.ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	b.log.Debug("Loaded snapshot from file",
		slog.String("path", b.path),
		slog.Int("size", len(data)))

	return data, nil
}

// Save replaces the snapshot file atomically.
func (b *FileBackend) Save(ctx context.Context, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(b.path), filepath.Base(b.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary snapshot: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temporary snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync temporary snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temporary snapshot: %w", err)
	}

	if err := os.Rename(tmpName, b.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}

	b.log.Debug("Saved snapshot to file",
		slog.String("path", b.path),
		slog.Int("size", len(data)))

	return nil
}

// Available checks that the snapshot directory exists.
func (b *FileBackend) Available(ctx context.Context) bool {
	_, err := os.Stat(filepath.Dir(b.path))
	if err != nil {
		b.log.Debug("File backend unavailable", "err", err)
		return false
	}
	return true
}

// Name returns a unique identifier for this storage backend.
func (b *FileBackend) Name() string {
	return fmt.Sprintf("file-%s", filepath.Base(b.path))
}

// LocationURI returns the URI that identifies this storage backend.
func (b *FileBackend) LocationURI() string {
	return b.locationURI
}
