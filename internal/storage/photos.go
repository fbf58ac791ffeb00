// Package storage persists uploaded test run photos to the local
// filesystem.
package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// PhotoStore writes uploaded photos into a fixed directory. Stored
// names carry a random token so two same-named uploads within the same
// second cannot clobber each other, and the user-supplied filename is
// sanitized so it cannot escape the directory.
type PhotoStore struct {
	dir string
}

// NewPhotoStore creates the upload directory if needed.
func NewPhotoStore(dir string) (*PhotoStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}
	return &PhotoStore{dir: dir}, nil
}

// Dir returns the upload directory.
func (s *PhotoStore) Dir() string {
	return s.dir
}

// Save writes the photo and returns the stored path. The stored name is
// <UTC timestamp>_<token>_<sanitized original name>; the caller keeps
// the original name separately as display metadata.
func (s *PhotoStore) Save(originalName string, r io.Reader) (string, error) {
	timestamp := time.Now().UTC().Format("20060102_150405")
	token := uuid.NewString()[:8]
	name := fmt.Sprintf("%s_%s_%s", timestamp, token, SanitizeFilename(originalName))
	path := filepath.Join(s.dir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create photo file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to write photo file: %w", err)
	}

	return path, nil
}

// SanitizeFilename strips any directory components and replaces
// characters outside [A-Za-z0-9._-] with underscores.
func SanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == ".." || name == "/" || name == "" {
		return "photo"
	}

	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}

	out := strings.Trim(b.String(), ".")
	if out == "" {
		return "photo"
	}
	return out
}
