// Package storage provides the save-target backends a recording can be
// persisted to: the local filesystem and S3-compatible object storage.
// Save URLs starting with "s3://" resolve to the S3 backend; everything
// else is a local path.
package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"
)

// Backend is a destination for .vzl recording files.
type Backend interface {
	// Write writes data to the specified path atomically where the
	// backend supports it.
	Write(ctx context.Context, path string, data []byte) error

	// WriteReader streams data from a reader to the specified path.
	WriteReader(ctx context.Context, path string, reader io.Reader, size int64) error

	// Read reads the object at path.
	Read(ctx context.Context, path string) ([]byte, error)

	// ReadTo streams the object at path into writer.
	ReadTo(ctx context.Context, path string, writer io.Writer) error

	// List lists object paths with the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete removes the object at path.
	Delete(ctx context.Context, path string) error

	// Exists reports whether an object exists at path.
	Exists(ctx context.Context, path string) (bool, error)

	// Close releases backend resources.
	Close() error

	// Type returns the backend identifier ("local", "s3").
	Type() string
}

// ResolveURL opens the backend for a save URL and returns it together
// with the in-backend object path.
//
//	s3://bucket/some/key.vzl  -> S3 backend on "bucket", path "some/key.vzl"
//	/tmp/rec.vzl or rec.vzl   -> local backend rooted at the parent dir
func ResolveURL(url string, logger zerolog.Logger) (Backend, string, error) {
	if strings.HasPrefix(url, "s3://") {
		rest := strings.TrimPrefix(url, "s3://")
		bucket, key, ok := strings.Cut(rest, "/")
		if !ok || bucket == "" || key == "" {
			return nil, "", fmt.Errorf("malformed s3 url %q, want s3://bucket/key", url)
		}
		backend, err := NewS3Backend(&S3Config{Bucket: bucket}, logger)
		if err != nil {
			return nil, "", err
		}
		return backend, key, nil
	}

	dir, file := splitLocalURL(url)
	backend, err := NewLocalBackend(dir, logger)
	if err != nil {
		return nil, "", err
	}
	return backend, file, nil
}

func splitLocalURL(url string) (dir, file string) {
	idx := strings.LastIndexByte(url, '/')
	if idx < 0 {
		return ".", url
	}
	if idx == 0 {
		return "/", url[1:]
	}
	return url[:idx], url[idx+1:]
}
