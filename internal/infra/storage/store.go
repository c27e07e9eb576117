package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
)

const (
	ProviderGCS   = "gcs"
	ProviderLocal = "local"

	ContentTypePDF    = "application/pdf"
	ContentTypeSealed = "application/octet-stream"
)

var (
	ErrObjectNotFound = errors.New("artifact not found")
	ErrInvalidPath    = errors.New("invalid artifact path")
	ErrInvalidToken   = errors.New("invalid artifact token")
)

// Store keeps generated artifacts. Writes are create-only: writing a path
// that already exists leaves the stored object untouched and is not an error.
type Store interface {
	Put(ctx context.Context, objectPath string, data []byte, contentType string) error
	Get(ctx context.Context, objectPath string) ([]byte, error)
	SignedURL(ctx context.Context, objectPath string, ttl time.Duration) (string, time.Time, error)
	Provider() string
}

func cleanObjectPath(objectPath string) (string, error) {
	objectPath = strings.TrimSpace(objectPath)
	if objectPath == "" || strings.HasPrefix(objectPath, "/") || strings.Contains(objectPath, "\\") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, objectPath)
	}
	for _, part := range strings.Split(objectPath, "/") {
		if part == "" || part == "." || part == ".." {
			return "", fmt.Errorf("%w: %q", ErrInvalidPath, objectPath)
		}
	}
	return path.Clean(objectPath), nil
}
