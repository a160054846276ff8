package library

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
)

// ImageStore copies cover images into a single directory.
type ImageStore struct {
	fs  afero.Fs
	dir string
	now func() time.Time
}

// NewImageStore stores images under dir on fs. Source paths are read from the
// same filesystem.
func NewImageStore(fs afero.Fs, dir string) *ImageStore {
	return &ImageStore{fs: fs, dir: dir, now: time.Now}
}

// Save copies srcPath into the store as <unix-millis>_<basename> and returns
// the stored path. An empty source stores nothing and returns "".
func (s *ImageStore) Save(srcPath string) (string, error) {
	srcPath = strings.TrimSpace(srcPath)
	if srcPath == "" {
		return "", nil
	}

	src, err := s.fs.Open(filepath.Clean(srcPath))
	if err != nil {
		return "", fmt.Errorf("open image: %w", err)
	}
	defer src.Close()

	if err := s.fs.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create image dir: %w", err)
	}
	name := fmt.Sprintf("%d_%s", s.now().UnixMilli(), filepath.Base(srcPath))
	dst := filepath.Join(s.dir, name)

	out, err := s.fs.Create(dst)
	if err != nil {
		return "", fmt.Errorf("create image: %w", err)
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		_ = s.fs.Remove(dst)
		return "", fmt.Errorf("copy image: %w", err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("close image: %w", err)
	}
	return dst, nil
}

// Remove deletes a stored image. Missing files are ignored.
func (s *ImageStore) Remove(path string) error {
	if path == "" {
		return nil
	}
	if err := s.fs.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove image: %w", err)
	}
	return nil
}
