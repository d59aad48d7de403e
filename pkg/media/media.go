// Package media stores uploaded files (user avatars) on the local disk,
// S3 or Google Cloud Storage.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/inkwell-labs/forum/pkg/config"
)

// MaxUploadSize bounds accepted uploads.
const MaxUploadSize = 5 << 20

var (
	// ErrNotFound is returned for unknown paths.
	ErrNotFound = errors.New("media: not found")
	// ErrTooLarge is returned for uploads above MaxUploadSize.
	ErrTooLarge = errors.New("media: file too large")
	// ErrUnsupportedType is returned for non-image uploads.
	ErrUnsupportedType = errors.New("media: unsupported file type")
	// ErrInvalidPath is returned for paths escaping the media root.
	ErrInvalidPath = errors.New("media: invalid path")
)

// Store is a flat namespace of files addressed by slash-separated paths.
type Store interface {
	Put(ctx context.Context, name, contentType string, r io.Reader) (string, error)
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	Delete(ctx context.Context, name string) error
}

var imageExt = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// cleanName validates a stored path.
func cleanName(name string) (string, error) {
	if name == "" || strings.HasPrefix(name, "/") || strings.Contains(name, "\\") {
		return "", ErrInvalidPath
	}
	clean := path.Clean(name)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", ErrInvalidPath
	}
	return clean, nil
}

// AvatarPath returns users/YYYY/MM/DD/<uuid><ext> for an upload at t.
func AvatarPath(t time.Time, ext string) string {
	return fmt.Sprintf("users/%s/%s%s", t.UTC().Format("2006/01/02"), uuid.NewString(), ext)
}

// SaveAvatar sniffs the upload, rejects anything that is not a supported
// image or exceeds MaxUploadSize, and stores it under a fresh avatar path.
func SaveAvatar(ctx context.Context, store Store, r io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxUploadSize+1))
	if err != nil {
		return "", fmt.Errorf("read upload: %w", err)
	}
	if len(data) > MaxUploadSize {
		return "", ErrTooLarge
	}
	contentType := http.DetectContentType(data)
	ext, ok := imageExt[contentType]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, contentType)
	}
	return store.Put(ctx, AvatarPath(time.Now(), ext), contentType, bytes.NewReader(data))
}

// NewFromConfig selects the backend named by cfg.Backend.
func NewFromConfig(ctx context.Context, cfg config.MediaConfig) (Store, error) {
	switch cfg.Backend {
	case "", "local":
		return NewLocalStore(cfg.Root)
	case "s3":
		return NewS3Store(ctx, S3StoreConfig{
			Bucket:   cfg.Bucket,
			Region:   cfg.Region,
			Endpoint: cfg.Endpoint,
			Prefix:   cfg.Prefix,
		})
	case "gcs":
		return newGCSFromConfig(ctx, cfg)
	default:
		return nil, fmt.Errorf("media: unknown backend %q", cfg.Backend)
	}
}
