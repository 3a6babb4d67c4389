// Package files is the binary storage subsystem for uploaded verification
// documents. It validates uploads before any Document record exists and
// returns a stable reference for the stored object.
package files

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
)

// MaxUploadSize is the upload ceiling enforced before persistence.
const MaxUploadSize = 10 << 20 // 10 MB

var (
	ErrUnsupportedFileType = errors.New("files: unsupported file type")
	ErrFileTooLarge        = errors.New("files: file exceeds size limit")
)

// Store persists uploaded document binaries and returns a stable reference.
type Store interface {
	Save(ctx context.Context, originalName, contentType string, r io.Reader, size int64) (string, error)
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
}

var allowedExtensions = map[string]struct{}{
	".pdf":  {},
	".jpg":  {},
	".jpeg": {},
	".png":  {},
}

var allowedContentTypes = map[string]struct{}{
	"application/pdf": {},
	"image/jpeg":      {},
	"image/jpg":       {},
	"image/png":       {},
}

// ValidateUpload checks size, extension and declared content type. Both the
// extension and the content type must be on the allow list, mirroring the
// double check the upload filter has always done.
func ValidateUpload(originalName, contentType string, size int64) error {
	if size > MaxUploadSize {
		return ErrFileTooLarge
	}
	ext := strings.ToLower(filepath.Ext(originalName))
	if _, ok := allowedExtensions[ext]; !ok {
		return ErrUnsupportedFileType
	}
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	if _, ok := allowedContentTypes[ct]; !ok {
		return ErrUnsupportedFileType
	}
	return nil
}
