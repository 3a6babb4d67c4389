package files

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// LocalStore writes uploads to a directory on disk. Object keys are
// "document-<uuid><ext>" so concurrent uploads of the same filename never
// collide.
type LocalStore struct {
	dir string
}

// NewLocalStore ensures the upload directory exists.
func NewLocalStore(dir string) (*LocalStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("upload directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &LocalStore{dir: dir}, nil
}

var _ Store = (*LocalStore)(nil)

func (s *LocalStore) Save(ctx context.Context, originalName, contentType string, r io.Reader, size int64) (string, error) {
	if err := ValidateUpload(originalName, contentType, size); err != nil {
		return "", err
	}

	key := objectKey(originalName)
	path := filepath.Join(s.dir, key)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create file: %w", err)
	}

	// LimitReader guards against callers understating size
	written, err := io.Copy(f, io.LimitReader(r, MaxUploadSize+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && written > MaxUploadSize {
		err = ErrFileTooLarge
	}
	if err != nil {
		_ = os.Remove(path)
		return "", err
	}
	return key, nil
}

func (s *LocalStore) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	// refs are store-generated, but reject traversal anyway
	if ref != filepath.Base(ref) {
		return nil, os.ErrNotExist
	}
	return os.Open(filepath.Join(s.dir, ref))
}

func objectKey(originalName string) string {
	return "document-" + uuid.NewString() + strings.ToLower(filepath.Ext(originalName))
}
