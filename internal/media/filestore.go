// Package media turns prediction results into stored media references and
// owns the on-disk layout of generated images.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// GeneratedDir is the subdirectory of the storage root holding generated images.
const GeneratedDir = "generated"

var ErrInvalidName = errors.New("media: invalid file name")

// FileStore keeps generated images in a flat directory under the storage root.
type FileStore struct {
	root string
	dir  string
}

// NewFileStore initializes a FileStore rooted at root and makes sure the
// generated directory exists.
func NewFileStore(root string) (*FileStore, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, errors.New("media: storage root is required")
	}
	dir := filepath.Join(root, GeneratedDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("media: ensure generated dir: %w", err)
	}
	return &FileStore{root: root, dir: dir}, nil
}

// Root returns the configured storage root.
func (s *FileStore) Root() string { return s.root }

// Dir returns the directory generated images live in.
func (s *FileStore) Dir() string { return s.dir }

// Write streams r into name. The file appears only once fully written.
func (s *FileStore) Write(ctx context.Context, name string, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	clean, err := sanitizeName(name)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, ".partial-*")
	if err != nil {
		return fmt.Errorf("media: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return fmt.Errorf("media: write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("media: close file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("media: chmod file: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(s.dir, clean)); err != nil {
		return fmt.Errorf("media: publish file: %w", err)
	}
	return nil
}

// Open returns the named image for reading.
func (s *FileStore) Open(name string) (*os.File, error) {
	clean, err := sanitizeName(name)
	if err != nil {
		return nil, err
	}
	return os.Open(filepath.Join(s.dir, clean))
}

// Exists reports whether the named image is present on disk.
func (s *FileStore) Exists(name string) (bool, error) {
	clean, err := sanitizeName(name)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(filepath.Join(s.dir, clean))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("media: stat file: %w", err)
	}
	return info.Mode().IsRegular(), nil
}

// sanitizeName accepts only a bare file name so callers can never reach
// outside the generated directory.
func sanitizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." {
		return "", ErrInvalidName
	}
	if strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return "", ErrInvalidName
	}
	if strings.HasPrefix(name, ".") {
		return "", ErrInvalidName
	}
	return name, nil
}
