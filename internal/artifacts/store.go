// Package artifacts provides storage backends for rendered certificate files.
package artifacts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrNotFound is returned by Open when no artifact exists for a key.
var ErrNotFound = errors.New("artifact not found")

// ErrInvalidKey is returned for keys that could escape the store namespace.
var ErrInvalidKey = errors.New("invalid artifact key")

// Backend types accepted by New.
const (
	BackendLocal = "local"
	BackendS3    = "s3"
)

// Store is a write-once key/value area for generated artifacts. Put must make
// an artifact visible atomically: readers observe either nothing or the
// complete content.
type Store interface {
	// Open returns the artifact content and its size.
	Open(ctx context.Context, key string) (io.ReadCloser, int64, error)
	// Put stores the artifact under key.
	Put(ctx context.Context, key string, data []byte) error
}

// Config selects and configures a backend.
type Config struct {
	Backend string

	// Local backend.
	Dir string

	// S3 backend.
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// New creates the store selected by cfg.Backend.
func New(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", BackendLocal:
		return NewLocalStore(cfg.Dir)
	case BackendS3:
		return NewS3Store(ctx, S3Options{
			Bucket:          cfg.Bucket,
			Prefix:          cfg.Prefix,
			Region:          cfg.Region,
			Endpoint:        cfg.Endpoint,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
		})
	default:
		return nil, fmt.Errorf("unsupported artifact backend: %s", cfg.Backend)
	}
}

// ValidateKey rejects empty keys and keys carrying path components.
func ValidateKey(key string) error {
	if key == "" || key == "." || key == ".." {
		return ErrInvalidKey
	}
	if strings.ContainsAny(key, `/\`) || strings.Contains(key, "..") {
		return ErrInvalidKey
	}
	return nil
}
